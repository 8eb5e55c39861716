// Package scheduler wraps robfig/cron with the five-field parser used for
// every recurring task in CicekTerapi.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field expressions (min, hour, dom, month, dow)
// and descriptors such as @daily.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a cron expression.
func ParseSpec(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// Scheduler runs named tasks on cron schedules. Tasks that panic are
// recovered and logged.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler in the given location. It does not run
// anything until Start is called. A nil location means UTC.
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger := slogLogger{}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{cron: c}
}

// AddJob schedules task under expr. It returns an error if the expression is
// invalid.
func (s *Scheduler) AddJob(name, expr string, task func()) (cron.EntryID, error) {
	sched, err := ParseSpec(expr)
	if err != nil {
		return 0, err
	}
	id := s.cron.Schedule(sched, cron.FuncJob(task))
	slog.Debug("Scheduler.AddJob: scheduled", "name", name, "expr", expr, "next", sched.Next(time.Now()))
	return id, nil
}

// Next returns the next activation time of an entry, or the zero time if
// the scheduler is not running or the entry is unknown.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start begins running scheduled tasks in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running tasks to finish or ctx to
// expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		slog.Warn("Scheduler.Stop: gave up waiting for running tasks", "error", ctx.Err())
	}
}

// slogLogger routes cron's logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("Scheduler: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("Scheduler: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
