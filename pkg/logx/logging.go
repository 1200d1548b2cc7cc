package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Config selects the level and sinks. With no sink enabled, output goes to
// stderr so a misconfigured daemon is never silent.
type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const defaultFilePath = "naps.log"

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

var setGlobals sync.Once

func configureZerolog() {
	setGlobals.Do(func() {
		zerolog.TimeFieldFormat = timeFormat
		zerolog.ErrorFieldName = "err"
	})
}

// ParseLevel accepts DEBUG, INFO, WARNING (or WARN), ERROR and CRITICAL in
// any case. CRITICAL maps to error. Anything else yields def.
func ParseLevel(s string, def Level) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE", "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR", "CRITICAL":
		return zerolog.ErrorLevel
	default:
		return def
	}
}

// Field adds one key to an event. Later fields win on duplicate keys.
type Field func(e *zerolog.Event)

func String(k, v string) Field           { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field          { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field        { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Time(k string, v time.Time) Field   { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field          { return func(e *zerolog.Event) { e.Interface(k, v) } }

func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Str(k, v.String()) }
}

// Size logs n both human readable under k and exact under k+"_bytes".
func Size(k string, n int) Field {
	return func(e *zerolog.Event) {
		if n < 0 {
			n = 0
		}
		e.Str(k, humanize.Bytes(uint64(n))).Int(k+"_bytes", n)
	}
}

// Err is a no-op for nil errors.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Stack is a no-op for blank stacks.
func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// sink is the swappable root every Logger writes through.
type sink struct {
	zl atomic.Pointer[zerolog.Logger]
}

func newSink(zl zerolog.Logger) *sink {
	s := &sink{}
	s.zl.Store(&zl)
	return s
}

func (s *sink) load() *zerolog.Logger {
	if s == nil {
		return nil
	}
	return s.zl.Load()
}

// Logger is a structured logger bound to a sink. The zero value discards
// everything and reports IsZero, so constructors can substitute Nop.
type Logger struct {
	sink   *sink
	fields []Field
}

func Nop() Logger { return Logger{sink: newSink(zerolog.Nop())} }

// NewWriter logs JSON to w without a Service.
func NewWriter(w io.Writer, level string) Logger {
	configureZerolog()
	return Logger{sink: newSink(build(ParseLevel(level, zerolog.DebugLevel), w))}
}

func (l Logger) IsZero() bool { return l.sink == nil && len(l.fields) == 0 }

func (l Logger) Enabled(level Level) bool {
	zl := l.sink.load()
	return zl != nil && level >= zl.GetLevel()
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	return Logger{sink: l.sink, fields: append(append([]Field(nil), l.fields...), fields...)}
}

func (l Logger) Debug(msg string, fields ...Field) { l.emit(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(zerolog.ErrorLevel, msg, fields) }

func (l Logger) emit(level zerolog.Level, msg string, fields []Field) {
	zl := l.sink.load()
	if zl == nil {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

func build(level Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func console() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// Service owns the process sinks. Loggers obtained from it follow Apply.
type Service struct {
	mu       sync.Mutex
	sink     *sink
	file     *os.File
	filePath string
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) {
	configureZerolog()
	s := &Service{sink: newSink(build(ParseLevel(cfg.Level, zerolog.InfoLevel), console()))}
	s.Apply(cfg)
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{sink: s.sink} }

// Apply swaps level and sinks. An unchanged log file path keeps its handle
// open, so a reload never drops lines.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, console())
	}

	path := ""
	if cfg.File.Enabled {
		path = strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultFilePath
		}
	}
	if path != s.filePath {
		s.closeFile()
		if path != "" {
			f, err := openLogFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logx: %v\n", err)
				path = ""
			} else {
				s.file = f
			}
		}
		s.filePath = path
	}
	if s.file != nil {
		writers = append(writers, zerolog.SyncWriter(s.file))
	}
	if len(writers) == 0 {
		writers = append(writers, console())
	}

	zl := build(ParseLevel(cfg.Level, zerolog.InfoLevel), zerolog.MultiLevelWriter(writers...))
	s.sink.zl.Store(&zl)
}

// Close releases the log file. It is the last step of shutdown.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeFile()
}

func (s *Service) closeFile() error {
	f := s.file
	s.file, s.filePath = nil, ""
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}
