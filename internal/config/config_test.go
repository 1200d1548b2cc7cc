package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "naps/pkg/logx"
)

const sampleTOML = `
[immich]
base_url = "https://photos.example.com"
api_key = "secret-key"
tag_name = "Family/Best"

[email]
sender = "naps@example.com"
recipient = "me@example.com"
subject = "Photo of the day"
text = "Enjoy!"

[email.smtp]
host = "smtp.example.com"
port = 587
username = "naps"
password = "hunter2"
start_tls = true

[schedule]
days = 1
hours = 2
minutes = 3
seconds = 4
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadTOML(t *testing.T) {
	m := NewManager(writeFile(t, "config.toml", sampleTOML), logx.Nop())
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Immich.TagName != "Family/Best" || cfg.Email.SMTP.Port != 587 || !cfg.Email.SMTP.StartTLS {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	want := 24*time.Hour + 2*time.Hour + 3*time.Minute + 4*time.Second
	if got := cfg.Schedule.Interval(); got != want {
		t.Fatalf("interval: got %v want %v", got, want)
	}
	if m.Get() != cfg {
		t.Fatalf("Load did not commit")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := Decode("config.toml", []byte(sampleTOML))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := cfg.Immich.AssetTypeOrDefault(); got != "IMAGE" {
		t.Fatalf("asset type: %q", got)
	}
	if got := cfg.Immich.TimeoutOrDefault(); got != 30*time.Second {
		t.Fatalf("timeout: %v", got)
	}
	if got := cfg.Schedule.MaxBackoffOrDefault(); got != 7*24*time.Hour {
		t.Fatalf("max backoff: %v", got)
	}
	if got := cfg.Storage.DriverOrDefault(); got != "sqlite" {
		t.Fatalf("driver: %q", got)
	}
	if got := cfg.Storage.PathOrDefault(); got != "db.sqlite3" {
		t.Fatalf("path: %q", got)
	}
	if got := cfg.Schedule.Spec(); got != "every:26h3m4s" {
		t.Fatalf("spec: %q", got)
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	y := `
immich:
  base_url: https://photos.example.com
  api_key: k
  tag_name: T
email:
  sender: a@example.com
  recipient: b@example.com
  smtp:
    host: localhost
schedule:
  cron: "0 9 * * *"
`
	cfg, err := Decode("c.yaml", []byte(y))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("yaml validate: %v", err)
	}
	if cfg.Schedule.Spec() != "0 9 * * *" {
		t.Fatalf("cron spec: %q", cfg.Schedule.Spec())
	}

	j := `{"immich":{"base_url":"http://h","api_key":"k","tag_name":"T"},
	"email":{"sender":"a@example.com","recipient":"b@example.com","smtp":{"host":"127.0.0.1"}},
	"schedule":{"minutes":5}}`
	cfg, err = Decode("c.json", []byte(j))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("json validate: %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	body := sampleTOML + "\n[extra]\nfoo = 1\n"
	if _, err := Decode("config.toml", []byte(body)); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{"immich":{}}{"immich":{}}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Decode("config.toml", []byte(sampleTOML))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing base url", func(c *Config) { c.Immich.BaseURL = "" }, "immich.base_url"},
		{"bad recipient", func(c *Config) { c.Email.Recipient = "nope" }, "email.recipient"},
		{"bad asset type", func(c *Config) { c.Immich.AssetType = "PDF" }, "immich.asset_type"},
		{"zero interval", func(c *Config) { c.Schedule = ScheduleConfig{} }, "interval must be > 0"},
		{"bad cron", func(c *Config) { c.Schedule.Cron = "every tuesday" }, "schedule.cron"},
		{"bad duration", func(c *Config) { c.Immich.Timeout = "soon" }, "immich.timeout"},
		{"tls conflict", func(c *Config) { c.Email.SMTP.SSL = true }, "mutually exclusive"},
		{"bad driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"days overflow", func(c *Config) { c.Schedule = ScheduleConfig{Days: 1_000_000} }, "schedule.days"},
		{"interval too long", func(c *Config) { c.Schedule = ScheduleConfig{Days: 3650, Hours: 48} }, "exceeds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if err := Validate(base(t)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestSummaryHidesSecrets(t *testing.T) {
	oldCfg, _ := Decode("config.toml", []byte(sampleTOML))
	newCfg, _ := Decode("config.toml", []byte(sampleTOML))
	newCfg.Immich.APIKey = "rotated-key"
	newCfg.Email.SMTP.Password = "new-password"
	newCfg.Schedule.Minutes = 30

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "email,immich,schedule" {
		t.Fatalf("changed: %v", changed)
	}

	var buf bytes.Buffer
	logx.NewWriter(&buf, "debug").Info("summary", attrs...)
	out := buf.String()
	for _, secret := range []string{"rotated-key", "secret-key", "new-password", "hunter2"} {
		if strings.Contains(out, secret) {
			t.Fatalf("summary leaked %q: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"immich.api_key_changed":true`) {
		t.Fatalf("missing key change marker: %s", out)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.toml", sampleTOML)
	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	// Invalid edit: ignored.
	if err := os.WriteFile(path, []byte(strings.Replace(sampleTOML, "me@example.com", "broken", 1)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Email)
	case <-time.After(700 * time.Millisecond):
	}
	if m.Get().Email.Recipient != "me@example.com" {
		t.Fatalf("invalid config committed")
	}

	if err := os.WriteFile(path, []byte(strings.Replace(sampleTOML, "minutes = 3", "minutes = 9", 1)), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case cfg := <-ch:
		if cfg.Schedule.Minutes != 9 {
			t.Fatalf("unexpected published config: %+v", cfg.Schedule)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watch did not stop")
	}
}
