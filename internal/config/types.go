package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the whole naps configuration file.
//
// All durations are Go duration strings (e.g. "30s", "168h").
type Config struct {
	Immich   ImmichConfig   `json:"immich" validate:"required"`
	Email    EmailConfig    `json:"email" validate:"required"`
	Schedule ScheduleConfig `json:"schedule"`
	Storage  StorageConfig  `json:"storage,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
	Convert  ConvertConfig  `json:"convert,omitempty"`
}

type ImmichConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	APIKey  string `json:"api_key" validate:"required"`
	TagName string `json:"tag_name" validate:"required"`

	// AssetType defaults to IMAGE.
	AssetType string `json:"asset_type,omitempty" validate:"omitempty,oneof=IMAGE VIDEO AUDIO OTHER"`

	// Timeout bounds one HTTP request. Default: 30s.
	Timeout string `json:"timeout,omitempty"`

	// RequestsPerSec throttles catalog calls. 0 disables throttling.
	RequestsPerSec float64 `json:"requests_per_sec,omitempty" validate:"gte=0"`
}

type EmailConfig struct {
	Sender    string     `json:"sender" validate:"required"`
	Recipient string     `json:"recipient" validate:"required,email"`
	Subject   string     `json:"subject"`
	Text      string     `json:"text"`
	SMTP      SMTPConfig `json:"smtp" validate:"required"`
}

type SMTPConfig struct {
	Host     string `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port     int    `json:"port,omitempty" validate:"gte=0,lt=65536"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	StartTLS bool   `json:"start_tls,omitempty"`
	SSL      bool   `json:"ssl,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// ScheduleConfig sets the cadence. The four counters are summed into one
// interval; Cron, when set, replaces the interval.
type ScheduleConfig struct {
	Days    int `json:"days,omitempty" validate:"gte=0,lte=3650"`
	Hours   int `json:"hours,omitempty" validate:"gte=0,lte=87600"`
	Minutes int `json:"minutes,omitempty" validate:"gte=0,lte=5256000"`
	Seconds int `json:"seconds,omitempty" validate:"gte=0,lte=315360000"`

	Cron string `json:"cron,omitempty"`

	// MaxBackoff caps the selector's retry wait. Default: 168h.
	MaxBackoff string `json:"max_backoff,omitempty"`

	RunOnStart bool `json:"run_on_start,omitempty"`
}

type StorageConfig struct {
	// Driver: "sqlite" (default) or "file".
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=sqlite sqlite3 file"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type ConvertConfig struct {
	Enabled bool `json:"enabled"`
}

const (
	DefaultAssetType     = "IMAGE"
	DefaultStoragePath   = "db.sqlite3"
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultSMTPTimeout   = 30 * time.Second
	DefaultMaxBackoff    = 7 * 24 * time.Hour
	DefaultBusyTimeout   = 5 * time.Second
	DefaultLogFilePath   = "naps.log"
	MaxInterval          = 10 * 365 * 24 * time.Hour
	defaultStorageDriver = "sqlite"
)

// Interval is the sum of the schedule counters.
func (s ScheduleConfig) Interval() time.Duration {
	return time.Duration(s.Days)*24*time.Hour +
		time.Duration(s.Hours)*time.Hour +
		time.Duration(s.Minutes)*time.Minute +
		time.Duration(s.Seconds)*time.Second
}

// Spec renders the schedule in the form the scheduler parses: the cron
// expression when set, else the summed interval.
func (s ScheduleConfig) Spec() string {
	if c := strings.TrimSpace(s.Cron); c != "" {
		return c
	}
	return "every:" + s.Interval().String()
}

func (s ScheduleConfig) MaxBackoffOrDefault() time.Duration {
	return durationOr(s.MaxBackoff, DefaultMaxBackoff)
}

func (c ImmichConfig) AssetTypeOrDefault() string {
	if t := strings.ToUpper(strings.TrimSpace(c.AssetType)); t != "" {
		return t
	}
	return DefaultAssetType
}

func (c ImmichConfig) TimeoutOrDefault() time.Duration {
	return durationOr(c.Timeout, DefaultHTTPTimeout)
}

func (c SMTPConfig) TimeoutOrDefault() time.Duration {
	return durationOr(c.Timeout, DefaultSMTPTimeout)
}

func (c StorageConfig) DriverOrDefault() string {
	if d := strings.ToLower(strings.TrimSpace(c.Driver)); d != "" {
		return d
	}
	return defaultStorageDriver
}

func (c StorageConfig) PathOrDefault() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	return DefaultStoragePath
}

func (c StorageConfig) BusyTimeoutOrDefault() time.Duration {
	return durationOr(c.BusyTimeout, DefaultBusyTimeout)
}

func (c LoggingFileConfig) PathOrDefault() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	return DefaultLogFilePath
}

func (c Config) String() string {
	return fmt.Sprintf("Config(immich=%s tag=%q recipient=%s schedule=%q storage=%s:%s)",
		c.Immich.BaseURL, c.Immich.TagName, c.Email.Recipient, c.Schedule.Spec(),
		c.Storage.DriverOrDefault(), c.Storage.PathOrDefault())
}
