package dispatch

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"naps/internal/catalog"
	"naps/internal/convert"
	"naps/internal/mailer"
	"naps/internal/storage"
	logx "naps/pkg/logx"
)

type fakeCatalog struct {
	mu sync.Mutex

	validateErr error
	tags        []catalog.Tag
	tagsErr     error
	draws       [][]catalog.Asset
	files       map[string][]byte
	downloadErr error

	drawCalls int
	tagIDs    []string
}

func (f *fakeCatalog) ValidateCredentials(context.Context) error { return f.validateErr }

func (f *fakeCatalog) Tags(context.Context) ([]catalog.Tag, error) { return f.tags, f.tagsErr }

func (f *fakeCatalog) RandomAssets(ctx context.Context, count int, typ catalog.AssetType, tagID string) ([]catalog.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagIDs = append(f.tagIDs, tagID)
	if f.drawCalls >= len(f.draws) {
		return nil, errors.New("script exhausted")
	}
	out := f.draws[f.drawCalls]
	f.drawCalls++
	return out, nil
}

func (f *fakeCatalog) Download(_ context.Context, id string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return f.files[id], nil
}

type fakeMailer struct {
	err   error
	panic bool
	sent  []mailer.Message
}

func (m *fakeMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.panic {
		panic("smtp exploded")
	}
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type fakeConverter struct{ err error }

func (c fakeConverter) Normalize(filename string, data []byte) (convert.Result, error) {
	if c.err != nil {
		return convert.Result{Filename: filename, Data: data}, c.err
	}
	return convert.Result{Filename: filename + ".png", Data: []byte("png"), Converted: true}, nil
}

type sleeps struct{ got []time.Duration }

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.got = append(s.got, d)
	return nil
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "db.sqlite3")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func asset(id string) catalog.Asset {
	return catalog.Asset{ID: id, Filename: "IMG_" + id + ".jpg", Type: catalog.AssetImage}
}

func settings() Settings {
	return Settings{
		TagName:   "Family/Best",
		AssetType: catalog.AssetImage,
		Subject:   "Photo of the day",
		From:      "naps@example.com",
		To:        "me@example.com",
		Text:      "Enjoy!",
	}
}

var bestTag = catalog.Tag{ID: "t1", Name: "Best", FullName: "Family/Best"}

func TestRunDeliversUnseenAssetAndRecordsIt(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	if err := st.Insert(ctx, "a1"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cat := &fakeCatalog{
		tags:  []catalog.Tag{{ID: "t0", FullName: "Family"}, bestTag},
		draws: [][]catalog.Asset{{asset("a1")}, {asset("a1")}, {asset("a2")}},
		files: map[string][]byte{"a2": []byte("jpeg-bytes")},
	}
	ml := &fakeMailer{}
	sl := &sleeps{}
	job := New(settings(), Deps{Catalog: cat, Store: st, Mailer: ml, Sleep: sl.sleep}, logx.Nop())

	out := job.RunOnce(ctx)
	if out.Err != nil {
		t.Fatalf("unexpected error at %s: %v", out.Stage, out.Err)
	}
	if out.Asset.ID != "a2" {
		t.Fatalf("expected a2, got %s", out.Asset)
	}
	if want := []time.Duration{time.Second, 2 * time.Second}; !reflect.DeepEqual(sl.got, want) {
		t.Fatalf("sleeps: got %v want %v", sl.got, want)
	}
	for _, id := range cat.tagIDs {
		if id != "t1" {
			t.Fatalf("draw used tag %q", id)
		}
	}
	if len(ml.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(ml.sent))
	}
	msg := ml.sent[0]
	if msg.Subject != "Photo of the day" || msg.To != "me@example.com" || msg.Text != "Enjoy!" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := string(msg.Attachments["IMG_a2.jpg"]); got != "jpeg-bytes" {
		t.Fatalf("attachment: %q", got)
	}
	ok, err := st.Contains(ctx, "a2")
	if err != nil || !ok {
		t.Fatalf("a2 not recorded: ok=%v err=%v", ok, err)
	}
}

func TestDeliveryFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	cat := &fakeCatalog{
		tags:  []catalog.Tag{bestTag},
		draws: [][]catalog.Asset{{asset("a1")}},
		files: map[string][]byte{"a1": []byte("x")},
	}
	job := New(settings(), Deps{Catalog: cat, Store: st, Mailer: &fakeMailer{err: errors.New("connection refused")}}, logx.Nop())

	out := job.RunOnce(ctx)
	if out.Stage != StageDeliver || out.Err == nil {
		t.Fatalf("expected deliver failure, got stage=%q err=%v", out.Stage, out.Err)
	}
	ok, err := st.Contains(ctx, "a1")
	if err != nil {
		t.Fatalf("contains: %v", err)
	}
	if ok {
		t.Fatalf("asset recorded despite failed delivery")
	}
}

func TestUnauthorizedStopsBeforeSelection(t *testing.T) {
	var buf bytes.Buffer
	cat := &fakeCatalog{
		validateErr: &catalog.HTTPError{StatusCode: 401, Method: "POST", URL: "http://x/api/auth/validateToken"},
		tags:        []catalog.Tag{bestTag},
	}
	ml := &fakeMailer{}
	job := New(settings(), Deps{Catalog: cat, Store: newStore(t), Mailer: ml}, logx.NewWriter(&buf, "debug"))

	out := job.RunOnce(context.Background())
	if out.Stage != StageAuth || !errors.Is(out.Err, catalog.ErrUnauthorized) {
		t.Fatalf("expected auth failure, got stage=%q err=%v", out.Stage, out.Err)
	}
	if cat.drawCalls != 0 || len(ml.sent) != 0 {
		t.Fatalf("cycle continued after auth failure")
	}
	if !strings.Contains(buf.String(), `"message":"invalid API token"`) {
		t.Fatalf("missing auth log line: %s", buf.String())
	}
}

func TestHTTPErrorIsLoggedWithDetails(t *testing.T) {
	var buf bytes.Buffer
	cat := &fakeCatalog{
		tagsErr: &catalog.HTTPError{
			StatusCode:   500,
			Method:       "GET",
			URL:          "http://x/api/tags",
			ResponseBody: []byte(`{"message":"boom"}`),
		},
	}
	job := New(settings(), Deps{Catalog: cat, Store: newStore(t), Mailer: &fakeMailer{}}, logx.NewWriter(&buf, "debug"))

	out := job.RunOnce(context.Background())
	if out.Stage != StageTag {
		t.Fatalf("expected tag stage, got %q", out.Stage)
	}
	logs := buf.String()
	for _, want := range []string{`"status":500`, `"method":"GET"`, `"url":"http://x/api/tags"`, `boom`} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log missing %s: %s", want, logs)
		}
	}
}

func TestTagResolution(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		cat := &fakeCatalog{tags: []catalog.Tag{{ID: "t0", FullName: "Family"}}}
		job := New(settings(), Deps{Catalog: cat, Store: newStore(t), Mailer: &fakeMailer{}}, logx.Nop())
		out := job.RunOnce(context.Background())
		if !errors.Is(out.Err, ErrTagNotFound) {
			t.Fatalf("expected ErrTagNotFound, got %v", out.Err)
		}
		if cat.drawCalls != 0 {
			t.Fatalf("selection ran without a tag")
		}
	})

	t.Run("duplicates use first", func(t *testing.T) {
		var buf bytes.Buffer
		cat := &fakeCatalog{
			tags: []catalog.Tag{
				{ID: "first", FullName: "Family/Best"},
				{ID: "second", FullName: "Family/Best"},
			},
			draws: [][]catalog.Asset{{asset("a1")}},
			files: map[string][]byte{"a1": []byte("x")},
		}
		job := New(settings(), Deps{Catalog: cat, Store: newStore(t), Mailer: &fakeMailer{}}, logx.NewWriter(&buf, "debug"))
		out := job.RunOnce(context.Background())
		if out.Err != nil {
			t.Fatalf("unexpected error: %v", out.Err)
		}
		if len(cat.tagIDs) != 1 || cat.tagIDs[0] != "first" {
			t.Fatalf("expected draw with first tag, got %v", cat.tagIDs)
		}
		if !strings.Contains(buf.String(), "expected exactly one tag") {
			t.Fatalf("duplicate tags not reported: %s", buf.String())
		}
	})
}

func TestPanicIsContained(t *testing.T) {
	cat := &fakeCatalog{
		tags:  []catalog.Tag{bestTag},
		draws: [][]catalog.Asset{{asset("a1")}},
		files: map[string][]byte{"a1": []byte("x")},
	}
	st := newStore(t)
	var buf bytes.Buffer
	job := New(settings(), Deps{Catalog: cat, Store: st, Mailer: &fakeMailer{panic: true}}, logx.NewWriter(&buf, "debug"))

	out := job.RunOnce(context.Background())
	if out.Err == nil || !strings.Contains(out.Err.Error(), "smtp exploded") {
		t.Fatalf("expected panic captured, got %v", out.Err)
	}
	if out.Stage != StageDeliver {
		t.Fatalf("stage = %q, want %q", out.Stage, StageDeliver)
	}
	if !strings.Contains(buf.String(), `"stage":"deliver"`) {
		t.Fatalf("panic log missing stage: %s", buf.String())
	}
	ok, _ := st.Contains(context.Background(), "a1")
	if ok {
		t.Fatalf("asset recorded after panic")
	}

	// Run must swallow the same failure.
	cat.drawCalls = 0
	job.Run(context.Background())
}

func TestConversionFailureSendsOriginal(t *testing.T) {
	cat := &fakeCatalog{
		tags:  []catalog.Tag{bestTag},
		draws: [][]catalog.Asset{{asset("a1")}},
		files: map[string][]byte{"a1": []byte("raw")},
	}
	ml := &fakeMailer{}
	s := settings()
	s.Convert = true
	job := New(s, Deps{
		Catalog:   cat,
		Store:     newStore(t),
		Mailer:    ml,
		Converter: fakeConverter{err: errors.New("unknown format")},
	}, logx.Nop())

	if out := job.RunOnce(context.Background()); out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if got := string(ml.sent[0].Attachments["IMG_a1.jpg"]); got != "raw" {
		t.Fatalf("expected original payload, got %q", got)
	}
}

func TestConversionRenamesAttachment(t *testing.T) {
	cat := &fakeCatalog{
		tags:  []catalog.Tag{bestTag},
		draws: [][]catalog.Asset{{asset("a1")}},
		files: map[string][]byte{"a1": []byte("raw")},
	}
	ml := &fakeMailer{}
	s := settings()
	s.Convert = true
	job := New(s, Deps{Catalog: cat, Store: newStore(t), Mailer: ml, Converter: fakeConverter{}}, logx.Nop())

	if out := job.RunOnce(context.Background()); out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if got := string(ml.sent[0].Attachments["IMG_a1.jpg.png"]); got != "png" {
		t.Fatalf("expected converted attachment, got %v", ml.sent[0].Attachments)
	}

	// Disabled at runtime: the original goes out.
	s.Convert = false
	job.Apply(s)
	cat.drawCalls = 0
	cat.draws = [][]catalog.Asset{{asset("a2")}}
	cat.files["a2"] = []byte("raw2")
	if out := job.RunOnce(context.Background()); out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if got := string(ml.sent[1].Attachments["IMG_a2.jpg"]); got != "raw2" {
		t.Fatalf("expected original attachment, got %v", ml.sent[1].Attachments)
	}
}

func TestApplySwapsSettings(t *testing.T) {
	job := New(settings(), Deps{}, logx.Nop())
	s := settings()
	s.Subject = "new"
	job.Apply(s)
	if job.Settings().Subject != "new" {
		t.Fatalf("settings not applied")
	}
}
