// Package sim drives the simulation: per tick it recomputes recommendations,
// samples which agents wake up, fans their turns out concurrently, and holds
// a strict barrier before the next tick.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agora-labs/agora/internal/agent"
	"github.com/agora-labs/agora/internal/clock"
	"github.com/agora-labs/agora/internal/metrics"
	"github.com/agora-labs/agora/internal/platform"
)

// Stopper shuts a component down after the final tick. The inference
// manager satisfies it.
type Stopper interface {
	Stop()
}

// InteractFunc is called synchronously for each controllable agent at the
// start of its tick, before autonomous turns fan out.
type InteractFunc func(ctx context.Context, a *agent.Agent) error

// Scheduler owns the tick loop.
type Scheduler struct {
	log      *slog.Logger
	clk      *clock.Clock
	platform *platform.Channel
	router   Stopper
	agents   []*agent.Agent
	ticks    int
	rng      *rand.Rand
	met      *metrics.Metrics

	// Interact handles controllable agents. Nil means they sit out.
	Interact InteractFunc
}

// New builds a scheduler over the given agents. seed fixes activation
// sampling; pass 0 for a nondeterministic run. met and router may be nil.
func New(log *slog.Logger, clk *clock.Clock, platformCh *platform.Channel, router Stopper, agents []*agent.Agent, ticks int, seed int64, met *metrics.Metrics) *Scheduler {
	var rng *rand.Rand
	if seed != 0 {
		rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Scheduler{
		log:      log.With("component", "sim"),
		clk:      clk,
		platform: platformCh,
		router:   router,
		agents:   agents,
		ticks:    ticks,
		rng:      rng,
		met:      met,
	}
}

// Run executes ticks 1..T, then shuts the platform and router down. Turn
// failures are logged and absorbed; only channel breakdown or ctx
// cancellation ends the run early.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.shutdown(ctx)

	for t := int64(1); t <= int64(s.ticks); t++ {
		if err := s.runTick(ctx, t); err != nil {
			return fmt.Errorf("tick %d: %w", t, err)
		}
		s.met.ObserveTick()
	}
	s.log.Info("sim.finished", "ticks", s.ticks)
	return nil
}

func (s *Scheduler) runTick(ctx context.Context, t int64) error {
	s.clk.SetTick(t)
	hour := s.clk.HourOfDay()

	// Recommendations refresh exactly once per tick, before any agent acts.
	res, err := s.platform.Call(ctx, platform.Action{Type: platform.ActionUpdateRecTable})
	if err != nil {
		return fmt.Errorf("update rec table: %w", err)
	}
	if !res.Success {
		s.log.Warn("sim.rec_update.rejected", "tick", t, "reason", res.Error)
	}

	active := 0
	var g errgroup.Group
	for _, a := range s.agents {
		profile := a.Profile()
		if profile.Controllable {
			if s.Interact != nil {
				if err := s.Interact(ctx, a); err != nil {
					s.log.Warn("sim.interact.failed", "agent_id", profile.AgentID, "error", err)
				}
			}
			continue
		}
		// Sample here: the rng is not safe inside the errgroup goroutines.
		if !profile.ActiveAt(hour, s.rng.Float64()) {
			continue
		}
		active++
		g.Go(func() error {
			if err := a.PerformAction(ctx); err != nil {
				s.log.Warn("sim.turn.failed", "agent_id", profile.AgentID, "tick", t, "error", err)
			}
			return nil
		})
	}

	// Barrier: every turn of this tick resolves before the next begins.
	if err := g.Wait(); err != nil {
		return err
	}
	s.log.Info("sim.tick", "tick", t, "hour", hour, "active", active)
	return ctx.Err()
}

func (s *Scheduler) shutdown(ctx context.Context) {
	// The exit sentinel is a normal request: queued work ahead of it drains
	// first, then the dispatcher stops. Detached from the run ctx so a
	// completed run still exits cleanly, but bounded in case the dispatcher
	// is already gone after a cancellation.
	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := s.platform.Call(exitCtx, platform.Action{Type: platform.ActionExit}); err != nil {
		s.log.Warn("sim.exit.failed", "error", err)
	}
	if s.router != nil {
		s.router.Stop()
	}
}
