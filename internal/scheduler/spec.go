package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 30 9 * * *", "@daily", "@every 55m"
//   - Interval duration: "55m", "26h3m4s"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

func (p ParsedSpec) String() string {
	if p.Kind == SpecCron {
		return "cron:" + p.Cron
	}
	return "every:" + p.Every.String()
}

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule parses a schedule string into either a cron expression or an
// interval duration.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedSpec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return parseCron(expr)
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if p, err := parseInterval(s); err == nil {
		return p, nil
	}
	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseCron(expr string) (ParsedSpec, error) {
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func parseInterval(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		src = "duration"
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d, src = time.Duration(hh)*time.Hour+time.Duration(mm)*time.Minute, "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
		}
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// schedule builds the cron.Schedule for p.
func (p ParsedSpec) schedule() (cron.Schedule, error) {
	if p.Kind == SpecCron {
		return cronParser.Parse(p.Cron)
	}
	if p.Every <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return intervalSchedule{every: p.Every}, nil
}

// intervalSchedule fires every `every` after the previous activation.
// Unlike cron.Every it keeps sub-second precision.
type intervalSchedule struct{ every time.Duration }

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(s.every) }

// onceSchedule fires immediately on the first evaluation, then never again.
type onceSchedule struct{ fired bool }

func (s *onceSchedule) Next(t time.Time) time.Time {
	if s.fired {
		return time.Time{}
	}
	s.fired = true
	return t
}
