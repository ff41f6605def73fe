// Package heartbeat is a built-in module that greets on a schedule using the
// hello module's export.
package heartbeat

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/saya/internal/broadcast"
	"github.com/mattjoyce/saya/internal/channel"
	"github.com/mattjoyce/saya/internal/loader"
	"github.com/mattjoyce/saya/internal/log"
	"github.com/mattjoyce/saya/internal/saya"
	"github.com/mattjoyce/saya/internal/scheduler"
	"github.com/mattjoyce/saya/modules/hello"
)

// ID is the module identifier.
const ID = "heartbeat"

// EveryMount is the mount key holding an optional beat interval.
const EveryMount = "heartbeat.every"

// BeatEvent is published on the bus after every beat.
const BeatEvent = "heartbeat.beat"

// Stats is the value the module exports.
type Stats struct {
	beats atomic.Int64
}

// Beats returns how many beats ran since the module was loaded.
func (s *Stats) Beats() int64 { return s.beats.Load() }

func init() {
	loader.Register(ID, Setup)
}

// Setup is the module's registration code.
func Setup(ctx context.Context) error {
	ch, err := channel.Current(ctx)
	if err != nil {
		return err
	}
	s, err := saya.Current(ctx)
	if err != nil {
		return err
	}

	dep, err := s.Require(ctx, hello.ID)
	if err != nil {
		return fmt.Errorf("heartbeat needs %s: %w", hello.ID, err)
	}
	greeter, ok := dep.(*hello.Greeter)
	if !ok {
		return fmt.Errorf("%s exported %T, want *hello.Greeter", hello.ID, dep)
	}

	every := "30s"
	if v, err := s.Access(EveryMount); err == nil {
		if e, ok := v.(string); ok && e != "" {
			every = e
		}
	}

	var bus *broadcast.Bus
	for _, b := range s.Behaviours() {
		if bb, ok := b.(*broadcast.Behaviour); ok {
			bus = bb.Bus()
		}
	}

	ch.Name("Heartbeat")
	stats := &Stats{}
	logger := log.WithModule(ID)
	ch.Register(scheduler.ScheduleSchema{Name: "beat", Every: every, Jitter: time.Second, Immediate: true}, scheduler.Job(func(ctx context.Context) error {
		n := stats.beats.Add(1)
		logger.Info(greeter.Greet("saya"), "beat", n)
		if bus != nil {
			return bus.Publish(ctx, broadcast.Message{Name: BeatEvent, Module: ID, Data: n})
		}
		return nil
	}))

	ch.Export(stats)
	return nil
}
