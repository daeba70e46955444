// Package scheduler runs the bot's periodic maintenance jobs on cron specs:
// knowledge refresh, the optional ledger backfill, and purging expired
// processed-event records. A job never overlaps with its own previous run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/athenaai/athena/internal/config"
	"github.com/athenaai/athena/internal/observability"
)

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a cron runner whose jobs share a lifecycle context.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.EntryID
}

// New returns a scheduler using config.CronParser. Runs that are still going
// when their next tick fires are skipped. A panicking run is recovered inside
// the skip guard, so the job keeps its slot for later ticks.
func New() *Scheduler {
	logger := cronLogger{log.Logger.With().Str("component", "scheduler").Logger()}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
	)
	return &Scheduler{cron: c, ctx: context.Background(), jobs: map[string]cron.EntryID{}}
}

// Add registers fn under name. An empty spec leaves the job disabled and
// returns nil.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		log.Debug().Str("job", name).Msg("scheduled job disabled")
		return nil
	}
	if fn == nil {
		return errors.New("scheduler: nil job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	s.jobs[name] = id
	return nil
}

// Jobs returns the names of registered jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		out = append(out, n)
	}
	return out
}

// Next reports when the named job fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to return. Jobs see ctx canceled on shutdown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Info().Int("jobs", n).Msg("scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	logger := log.With().Str("job", name).Logger()
	ctx = logger.WithContext(ctx)

	start := time.Now()
	err := fn(ctx)
	observability.ObserveJobRun(name, err)

	ev := logger.Debug()
	if err != nil && !errors.Is(err, context.Canceled) {
		ev = logger.Warn().Err(err)
	}
	ev.Dur("took", time.Since(start)).Msg("scheduled job finished")
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct{ l zerolog.Logger }

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kv).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kv).Msg(msg)
}
