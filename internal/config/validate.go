package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validate = newValidator()

	// cronParser accepts 5-field and 6-field (seconds) specs plus descriptors.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct constraints and the cross-field rules that tags
// cannot express. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	for path, raw := range map[string]string{
		"immich.timeout":       cfg.Immich.Timeout,
		"email.smtp.timeout":   cfg.Email.SMTP.Timeout,
		"schedule.max_backoff": cfg.Schedule.MaxBackoff,
		"storage.busy_timeout": cfg.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if expr := strings.TrimSpace(cfg.Schedule.Cron); expr != "" {
		if _, err := cronParser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
		}
	} else if iv := cfg.Schedule.Interval(); iv <= 0 {
		errs = append(errs, errors.New("schedule: interval must be > 0 (set days/hours/minutes/seconds or cron)"))
	} else if iv > MaxInterval {
		errs = append(errs, fmt.Errorf("schedule: interval %s exceeds %s", iv, MaxInterval))
	}

	if cfg.Email.SMTP.SSL && cfg.Email.SMTP.StartTLS {
		errs = append(errs, errors.New("email.smtp: ssl and start_tls are mutually exclusive"))
	}

	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.immich.base_url"; drop the root type.
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	if fe.Param() != "" {
		return fmt.Errorf("%s: failed %q (%s)", path, fe.Tag(), fe.Param())
	}
	return fmt.Errorf("%s: failed %q", path, fe.Tag())
}

// ParseDurationField parses an optional non-negative duration. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// durationOr returns def for empty, zero or unparsable input. Validate has
// already rejected the unparsable case for committed configs.
func durationOr(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationField("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
