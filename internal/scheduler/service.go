package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "naps/pkg/logx"
)

// Job is one unit of scheduled work. Run is expected to contain its own
// failures; a panic that escapes is still recovered and logged here.
type Job interface {
	Run(ctx context.Context)
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context)

func (f JobFunc) Run(ctx context.Context) { f(ctx) }

type Config struct {
	// Spec is parsed by ParseSchedule.
	Spec string
	// RunOnStart fires once immediately after Start.
	RunOnStart bool
	// Location for cron expressions. Defaults to time.Local.
	Location *time.Location
}

type Service struct {
	job Job
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	spec    ParsedSpec
	c       *cron.Cron
	entry   cron.EntryID
	wrapped cron.Job
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(cfg Config, job Job, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler: job required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	spec, err := ParseSchedule(cfg.Spec)
	if err != nil {
		return nil, err
	}
	s := &Service{job: job, log: log, cfg: cfg, spec: spec}

	// One wrapped job for the service lifetime: the SkipIfStillRunning lock
	// must survive re-registration in Apply. Recover sits inside the skip
	// wrapper so a panic still hands the run token back.
	cl := cronLogger{log: log}
	s.wrapped = cron.NewChain(cron.SkipIfStillRunning(cl), cron.Recover(cl)).Then(cron.FuncJob(s.tick))
	return s, nil
}

// Start begins triggering. Job runs receive a context derived from ctx that
// is cancelled by Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	sched, err := s.spec.schedule()
	if err != nil {
		return err
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{log: s.log}))
	s.entry = s.c.Schedule(sched, s.wrapped)
	if s.cfg.RunOnStart {
		s.c.Schedule(&onceSchedule{}, s.wrapped)
	}
	s.c.Start()

	s.log.Info("service started",
		logx.String("schedule", s.spec.String()),
		logx.Bool("run_on_start", s.cfg.RunOnStart),
		logx.String("tz", loc.String()),
	)
	s.logNextLocked()
	return nil
}

// Apply swaps the schedule. A changed spec is re-registered and its next
// activation is computed from now. An in-flight run is not interrupted.
func (s *Service) Apply(cfg Config) error {
	spec, err := ParseSchedule(cfg.Spec)
	if err != nil {
		return err
	}
	sched, err := spec.schedule()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := spec != s.spec
	s.cfg.Spec, s.cfg.RunOnStart = cfg.Spec, cfg.RunOnStart
	s.spec = spec
	if s.c == nil || !changed {
		return nil
	}
	s.c.Remove(s.entry)
	s.entry = s.c.Schedule(sched, s.wrapped)
	s.log.Info("schedule updated", logx.String("schedule", spec.String()))
	s.logNextLocked()
	return nil
}

// Stop halts triggering, cancels the job context and waits for an in-flight
// run to return or for ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	done := c.Stop().Done()
	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
		s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running job", logx.Duration("took", time.Since(start)))
	}
}

// Next reports the next activation, or the zero time when not running.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

func (s *Service) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	defer func() {
		s.log.Debug("job finished", logx.Duration("dur", time.Since(start)))
		s.mu.Lock()
		s.logNextLocked()
		s.mu.Unlock()
	}()
	s.job.Run(ctx)
}

func (s *Service) logNextLocked() {
	if s.c == nil {
		return
	}
	next := s.c.Entry(s.entry).Next
	if next.IsZero() {
		return
	}
	wait := time.Until(next)
	s.log.Info(fmt.Sprintf("Next run scheduled for %s (%s)", next.Format(time.RFC3339), FormatWait(wait)),
		logx.Time("next", next),
		logx.Duration("in", wait),
	)
}

// FormatWait renders d as "in N days, hh:mm:ss".
func FormatWait(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	return fmt.Sprintf("in %d days, %02d:%02d:%02d", days, h, m, int(d/time.Second))
}

// cronLogger routes robfig/cron's internal logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
