package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/saya/internal/behaviour"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/cube"
)

// KindSchedule tags ScheduleSchema cubes.
const KindSchedule cube.Kind = "scheduler.job"

var ErrNotJob = errors.New("schedule content is not a job")

// ScheduleSchema declares a Job cube run periodically while its module is loaded.
type ScheduleSchema struct {
	Name      string
	Every     string
	Jitter    time.Duration
	Immediate bool
}

func (ScheduleSchema) Kind() cube.Kind { return KindSchedule }

// Job is the payload of a schedule cube.
type Job func(ctx context.Context) error

// JobInfo describes a running job.
type JobInfo struct {
	Module   string        `json:"module"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Failures int64         `json:"failures"`
}

type run struct {
	info     JobInfo
	jitter   time.Duration
	job      Job
	cancel   context.CancelFunc
	done     chan struct{}
	runs     atomic.Int64
	failures atomic.Int64
}

// Scheduler is the behaviour that runs ScheduleSchema cubes.
type Scheduler struct {
	behaviour.Base

	events Publisher
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[*cube.Cube]*run
}

// New creates a new Scheduler instance. events may be nil.
func New(events Publisher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		events: events,
		logger: logger.With("component", "scheduler"),
		jobs:   make(map[*cube.Cube]*run),
	}
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Allocate(ctx context.Context, c *cube.Cube) (bool, error) {
	schema, ok := scheduleSchema(c)
	if !ok {
		return false, nil
	}
	job, err := asJob(c.Content)
	if err != nil {
		return false, err
	}
	interval, err := parseScheduleEvery(schema.Every)
	if err != nil {
		return false, err
	}

	var module string
	if ch, err := channel.Current(ctx); err == nil {
		module = ch.Module
	}
	name := schema.Name
	if name == "" {
		name = fmt.Sprintf("%s#%d", module, len(s.ManagedCubes()))
	}

	// Jobs outlive the load call but keep its values.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		info:   JobInfo{Module: module, Name: name, Interval: interval},
		jitter: schema.Jitter,
		job:    job,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.jobs[c] = r
	s.mu.Unlock()

	c.SetContent(job)
	s.Manage(c)
	go s.loop(jobCtx, r, schema.Immediate)

	s.logger.Info("job scheduled", "module", module, "job", name, "every", interval)
	return true, nil
}

func (s *Scheduler) Uninstall(_ context.Context, c *cube.Cube) (bool, error) {
	if _, ok := scheduleSchema(c); !ok || !s.Manages(c) {
		return false, nil
	}

	s.mu.Lock()
	r := s.jobs[c]
	delete(s.jobs, c)
	s.mu.Unlock()

	if r != nil {
		r.cancel()
		<-r.done
		s.logger.Info("job stopped", "module", r.info.Module, "job", r.info.Name, "runs", r.runs.Load())
	}
	s.Release(c)
	c.UnsetContent()
	return true, nil
}

// Jobs returns the running jobs sorted by module and name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, r := range s.jobs {
		info := r.info
		info.Runs = r.runs.Load()
		info.Failures = r.failures.Load()
		out = append(out, info)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// loop is the per-job tick loop.
func (s *Scheduler) loop(ctx context.Context, r *run, immediate bool) {
	defer close(r.done)

	if immediate {
		s.tick(ctx, r)
	}

	timer := time.NewTimer(calculateJitteredInterval(r.info.Interval, r.jitter))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.tick(ctx, r)
			timer.Reset(calculateJitteredInterval(r.info.Interval, r.jitter))
		case <-ctx.Done():
			return
		}
	}
}

// tick runs the job once.
func (s *Scheduler) tick(ctx context.Context, r *run) {
	n := r.runs.Add(1)
	err := s.call(ctx, r)
	if err != nil {
		r.failures.Add(1)
		s.logger.Warn("job failed", "module", r.info.Module, "job", r.info.Name, "error", err)
	} else {
		s.logger.Debug("job ran", "module", r.info.Module, "job", r.info.Name, "run", n)
	}

	if s.events != nil {
		data := map[string]any{"job": r.info.Name, "run": n}
		if err != nil {
			data["error"] = err.Error()
		}
		s.events.Publish("scheduler.tick", r.info.Module, data)
	}
}

func (s *Scheduler) call(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", r.info.Name, p)
		}
	}()
	return r.job(ctx)
}

var scheduleKinds = behaviour.Accepts(KindSchedule)

func scheduleSchema(c *cube.Cube) (ScheduleSchema, bool) {
	if p, ok := c.Schema.(*ScheduleSchema); ok && p == nil {
		return ScheduleSchema{}, false
	}
	if !scheduleKinds.Match(c) {
		return ScheduleSchema{}, false
	}
	switch s := c.Schema.(type) {
	case ScheduleSchema:
		return s, true
	case *ScheduleSchema:
		return *s, true
	}
	return ScheduleSchema{}, false
}

func asJob(content any) (Job, error) {
	switch j := content.(type) {
	case Job:
		return j, nil
	case func(context.Context) error:
		return j, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNotJob, content)
}

// calculateJitteredInterval adds a random jitter to the base interval.
func calculateJitteredInterval(baseInterval time.Duration, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return baseInterval
	}
	randomJitter := time.Duration(rand.Int63n(jitter.Nanoseconds()))
	return baseInterval + randomJitter
}

// parseScheduleEvery converts an 'every' string to a base duration. Besides
// Go durations it accepts the aliases hourly, daily and weekly and the day and
// week suffixes "d" and "w".
func parseScheduleEvery(every string) (time.Duration, error) {
	switch every {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	var d time.Duration
	var err error
	switch {
	case strings.HasSuffix(every, "d"), strings.HasSuffix(every, "w"):
		unit := 24 * time.Hour
		if strings.HasSuffix(every, "w") {
			unit *= 7
		}
		var n int
		n, err = strconv.Atoi(every[:len(every)-1])
		d = time.Duration(n) * unit
	default:
		d, err = time.ParseDuration(every)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid schedule interval %q: %w", every, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be positive: %q", every)
	}
	return d, nil
}
