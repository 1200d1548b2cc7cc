// Package dispatch runs one delivery cycle: resolve the tag, pick an unseen
// asset, download it, mail it and record it as sent.
//
// Run is the failure boundary of a cycle. It never returns an error and never
// panics; every failure is classified, logged and swallowed so the scheduler
// keeps firing.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"naps/internal/catalog"
	"naps/internal/convert"
	"naps/internal/mailer"
	"naps/internal/selector"
	logx "naps/pkg/logx"
)

// ErrTagNotFound means no catalog tag has the configured full name.
var ErrTagNotFound = errors.New("tag not found")

// Catalog is the subset of the catalog client a cycle needs.
type Catalog interface {
	ValidateCredentials(ctx context.Context) error
	Tags(ctx context.Context) ([]catalog.Tag, error)
	selector.Source
	Download(ctx context.Context, id string) ([]byte, error)
}

// Store records delivered assets.
type Store interface {
	selector.Seen
	Insert(ctx context.Context, ids ...string) error
}

type Mailer interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Converter optionally normalizes the payload before delivery.
type Converter interface {
	Normalize(filename string, data []byte) (convert.Result, error)
}

// Settings are the per-cycle knobs. They can be swapped between cycles with
// Apply.
type Settings struct {
	TagName    string
	AssetType  catalog.AssetType
	MaxBackoff time.Duration

	Subject string
	From    string
	To      string
	Text    string

	// Convert normalizes non JPEG/PNG images through Deps.Converter.
	Convert bool
}

type Deps struct {
	Catalog   Catalog
	Store     Store
	Mailer    Mailer
	Converter Converter
	Sleep     selector.SleepFunc
}

type Job struct {
	deps Deps
	log  logx.Logger

	mu       sync.Mutex
	settings Settings
}

func New(settings Settings, deps Deps, log logx.Logger) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Job{deps: deps, log: log, settings: settings}
}

func (j *Job) Apply(s Settings) {
	j.mu.Lock()
	j.settings = s
	j.mu.Unlock()
}

func (j *Job) Settings() Settings {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.settings
}

// Outcome describes a finished cycle.
type Outcome struct {
	RunID string
	Asset catalog.Asset
	Stage string // stage that failed; empty on success
	Err   error
}

const (
	StageAuth     = "auth"
	StageTag      = "tag"
	StageSelect   = "select"
	StageDownload = "download"
	StageDeliver  = "deliver"
	StageRecord   = "record"
)

// Run executes one cycle and contains every failure.
func (j *Job) Run(ctx context.Context) {
	_ = j.RunOnce(ctx)
}

// RunOnce executes one cycle and reports what happened. Errors and panics are
// logged here; callers only inspect the outcome.
func (j *Job) RunOnce(ctx context.Context) (out Outcome) {
	out.RunID = uuid.NewString()
	log := j.log.With(logx.String("run_id", out.RunID))
	start := time.Now()
	var stage string

	defer func() {
		if r := recover(); r != nil {
			out.Stage, out.Err = stage, fmt.Errorf("panic: %v", r)
			log.Error("dispatch panicked",
				logx.String("stage", stage),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	log.Info("dispatch started")
	asset, err := j.cycle(ctx, log, j.Settings(), &stage)
	out.Asset = asset
	if err != nil {
		out.Stage, out.Err = stage, err
		j.report(log, stage, asset, err)
		return out
	}
	log.Info("dispatch completed", logx.String("asset_id", asset.ID), logx.Duration("dur", time.Since(start)))
	return out
}

// cycle keeps *stage pointed at the step in progress.
func (j *Job) cycle(ctx context.Context, log logx.Logger, s Settings, stage *string) (catalog.Asset, error) {
	var asset catalog.Asset

	*stage = StageAuth
	if err := j.deps.Catalog.ValidateCredentials(ctx); err != nil {
		return asset, err
	}

	*stage = StageTag
	tag, err := j.resolveTag(ctx, log, s.TagName)
	if err != nil {
		return asset, err
	}

	*stage = StageSelect
	sel := selector.New(j.deps.Catalog, j.deps.Store, selector.Options{
		MaxBackoff: s.MaxBackoff,
		Sleep:      j.deps.Sleep,
	}, log.With(logx.String("comp", "selector")))
	asset, err = sel.Next(ctx, selector.Filter{Type: s.AssetType, TagID: tag.ID})
	if err != nil {
		return asset, err
	}
	log.Info("selected asset", logx.String("asset_id", asset.ID), logx.String("filename", asset.Filename))

	*stage = StageDownload
	data, err := j.deps.Catalog.Download(ctx, asset.ID)
	if err != nil {
		return asset, fmt.Errorf("download %s: %w", asset.ID, err)
	}
	log.Info("downloaded asset", logx.String("asset_id", asset.ID), logx.Size("size", len(data)))

	*stage = StageDeliver
	filename := asset.Filename
	if s.Convert && j.deps.Converter != nil {
		res, err := j.deps.Converter.Normalize(filename, data)
		if err != nil {
			// Undecodable formats are still delivered as-is.
			log.Warn("image conversion failed; sending original", logx.String("asset_id", asset.ID), logx.Err(err))
		} else if res.Converted {
			log.Info("converted image", logx.String("asset_id", asset.ID),
				logx.String("filename", res.Filename), logx.Size("size", len(res.Data)))
		}
		filename, data = res.Filename, res.Data
	}

	err = j.deps.Mailer.Send(ctx, mailer.Message{
		Subject:     s.Subject,
		From:        s.From,
		To:          s.To,
		Text:        s.Text,
		Attachments: map[string][]byte{filename: data},
	})
	if err != nil {
		return asset, err
	}

	*stage = StageRecord
	// Recording happens strictly after delivery: a crash in between means a
	// resend, never a silent skip.
	if err := j.deps.Store.Insert(ctx, asset.ID); err != nil {
		return asset, fmt.Errorf("record %s: %w", asset.ID, err)
	}
	return asset, nil
}

// resolveTag picks the tag whose full name equals name. Zero matches abort
// the cycle; several matches are reported and the first one is used.
func (j *Job) resolveTag(ctx context.Context, log logx.Logger, name string) (catalog.Tag, error) {
	tags, err := j.deps.Catalog.Tags(ctx)
	if err != nil {
		return catalog.Tag{}, err
	}
	matches := catalog.MatchTags(tags, name)
	switch len(matches) {
	case 0:
		log.Error("no tag matches configured name", logx.String("tag_name", name), logx.Int("tags", len(tags)))
		return catalog.Tag{}, fmt.Errorf("%w: %q", ErrTagNotFound, name)
	case 1:
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		log.Error("expected exactly one tag with configured name",
			logx.String("tag_name", name),
			logx.Int("matches", len(matches)),
			logx.Strings("tag_ids", ids),
		)
	}
	tag := matches[0]
	log.Info("filtered tags by name", logx.String("tag", tag.String()))
	return tag, nil
}

func (j *Job) report(log logx.Logger, stage string, asset catalog.Asset, err error) {
	fields := []logx.Field{logx.String("stage", stage), logx.Err(err)}
	if asset.ID != "" {
		fields = append(fields, logx.String("asset_id", asset.ID))
	}

	var he *catalog.HTTPError
	var me *catalog.MalformedResponseError
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		log.Warn("dispatch interrupted", fields...)
	case errors.Is(err, catalog.ErrUnauthorized):
		log.Error("invalid API token", fields...)
	case errors.As(err, &he):
		fields = append(fields,
			logx.Int("status", he.StatusCode),
			logx.String("method", he.Method),
			logx.String("url", he.URL),
			logx.String("req", catalog.FormatPayload(he.RequestBody)),
			logx.String("res", catalog.FormatPayload(he.ResponseBody)),
		)
		log.Error("catalog request failed", fields...)
	case errors.As(err, &me):
		log.Error("catalog returned a malformed response", append(fields, logx.String("endpoint", me.Endpoint))...)
	case errors.Is(err, ErrTagNotFound):
		log.Error("tag resolution failed", fields...)
	default:
		log.Error("unexpected error in job", append(fields, logx.String("detail", detail(err)))...)
	}
}

// detail renders the wrap chain of err, outermost first.
func detail(err error) string {
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		parts = append(parts, fmt.Sprintf("%T: %v", e, e))
	}
	return strings.Join(parts, "\n")
}
