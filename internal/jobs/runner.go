// Package jobs runs the tower's background cadences (schedule
// evaluation, clock checkpointing, audit pruning) on a shared cron
// instance.
package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "belltower/pkg/logx"
)

type job struct {
	name string
	spec string
	fn   func(ctx context.Context)
}

type Runner struct {
	mu     sync.Mutex
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   []job

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a runner in the given IANA timezone. An empty timezone
// means system local.
func New(log logx.Logger, timezone string) (*Runner, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("jobs: timezone %q: %w", timezone, err)
		}
		loc = l
	}
	return &Runner{
		log: log,
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// Every registers a fixed-interval job. Must be called before Start.
func (r *Runner) Every(name string, every time.Duration, fn func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("jobs: %s: interval must be > 0", name)
	}
	return r.Cron(name, "@every "+every.String(), fn)
}

// Cron registers a cron-spec job. Must be called before Start.
func (r *Runner) Cron(name, spec string, fn func(ctx context.Context)) error {
	if strings.TrimSpace(name) == "" || fn == nil {
		return fmt.Errorf("jobs: name and fn are required")
	}
	if _, err := r.parser.Parse(spec); err != nil {
		return fmt.Errorf("jobs: %s: bad spec %q: %w", name, spec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return fmt.Errorf("jobs: %s: runner already started", name)
	}
	r.defs = append(r.defs, job{name: name, spec: spec, fn: fn})
	return nil
}

func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.c = cron.New(cron.WithParser(r.parser), cron.WithLocation(r.loc))
	for _, j := range r.defs {
		j := j
		_, err := r.c.AddFunc(j.spec, func() { r.run(j) })
		if err != nil {
			// Specs were validated at registration; this is a bug.
			r.log.Error("job registration failed", logx.String("job", j.name), logx.Err(err))
		}
	}
	r.c.Start()
	r.log.Info("jobs started", logx.String("tz", r.loc.String()), logx.Int("jobs", len(r.defs)))
}

func (r *Runner) run(j job) {
	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("job panicked",
				logx.String("job", j.name),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	j.fn(ctx)
}

func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	cancel := r.cancel
	r.c = nil
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort; in-flight jobs see the cancelled run context
	}
	r.log.Info("jobs stopped")
}
