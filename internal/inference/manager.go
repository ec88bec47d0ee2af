// Package inference routes generation requests from agents to a pool of
// backend workers. The router decouples "what should this agent say" from
// the availability of generation capacity: callers always get an answer,
// even if it is the no-content sentinel.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agora-labs/agora/internal/channel"
	"github.com/agora-labs/agora/internal/config"
	"github.com/agora-labs/agora/internal/metrics"
)

// NoResponse is the terminal outcome for failed or timed-out generation.
// Callers treat it as "no content", never as an error.
const NoResponse = "No response."

// Channel carries message sequences in and generated text out.
type Channel = channel.Channel[[]Message, string]

// ErrNoBackends is returned by Start when no backend passes its probe.
var ErrNoBackends = errors.New("inference: no usable backends")

// reprobeEvery is the cooldown between readiness re-checks of a backend
// that failed a job or a probe.
const reprobeEvery = 15 * time.Second

// Manager is the inference router: a single consumer that load-balances
// jobs across the backend pool and replies by request id.
type Manager struct {
	log      *slog.Logger
	ch       *Channel
	backends []*Backend
	met      *metrics.Metrics
	reprobe  time.Duration

	mu   sync.Mutex
	cond *sync.Cond

	jobs    sync.WaitGroup // in-flight backend round-trips
	runDone chan struct{}
}

// NewManager registers one backend per config entry. met may be nil.
func NewManager(log *slog.Logger, ch *Channel, cfgs []config.BackendConfig, met *metrics.Metrics) *Manager {
	m := &Manager{
		log:     log.With("component", "inference"),
		ch:      ch,
		met:     met,
		reprobe: reprobeEvery,
		runDone: make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	for i, cfg := range cfgs {
		m.backends = append(m.backends, NewBackend(cfg, i))
	}
	return m
}

// Start probes every backend and launches the routing loop. Failure to bring
// up at least one backend is fatal: the simulation cannot run without
// generation capacity.
func (m *Manager) Start(ctx context.Context) error {
	usable := 0
	for _, b := range m.backends {
		if b.Probe(ctx) {
			usable++
			m.log.Info("inference.backend.ready", "backend", b.Name())
		} else {
			m.log.Warn("inference.backend.unreachable", "backend", b.Name())
		}
	}
	if usable == 0 {
		return fmt.Errorf("%w (%d configured)", ErrNoBackends, len(m.backends))
	}

	// Wake selection waiters when the context dies.
	go func() {
		<-ctx.Done()
		m.cond.Broadcast()
	}()

	go m.run(ctx)
	return nil
}

// Stop closes admission, waits for queued and in-flight jobs to finish,
// then unblocks any waiter left without a reply. No new jobs are admitted
// after Stop is observed.
func (m *Manager) Stop() {
	m.ch.Close()
	<-m.runDone
	m.jobs.Wait()
	m.ch.Terminate()
	m.log.Info("inference.stopped")
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.runDone)
	m.log.Info("inference.started", "backends", len(m.backends))

	for {
		req, ok := m.ch.Receive(ctx)
		if !ok {
			return
		}

		backend := m.acquire(ctx)
		if backend == nil {
			// Shutdown or no capacity will ever come back; degrade, don't drop.
			m.ch.Reply(req.ID, NoResponse)
			m.met.ObserveInferenceJob("none", "no_backend")
			continue
		}

		m.jobs.Add(1)
		go func(id string, messages []Message, b *Backend) {
			defer m.jobs.Done()
			defer m.release(b)

			content, err := b.Chat(ctx, messages)
			if err != nil {
				m.log.Warn("inference.job.failed", "backend", b.Name(), "error", err)
				b.healthy.Store(false)
				m.met.ObserveInferenceJob(b.Name(), "failed")
				m.ch.Reply(id, NoResponse)
				return
			}
			m.met.ObserveInferenceJob(b.Name(), "ok")
			m.ch.Reply(id, content)
		}(req.ID, req.Payload, backend)
	}
}

// acquire blocks until a healthy backend has spare capacity. Health is
// re-checked before admission: unhealthy backends past their probe cooldown
// get one readiness check per pass, so a transient failure never retires a
// backend for the rest of the run. Returns nil on ctx death or when no
// backend is currently usable.
func (m *Manager) acquire(ctx context.Context) *Backend {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if ctx.Err() != nil {
			return nil
		}

		for _, b := range m.backends {
			if !b.Healthy() && b.SinceProbe() >= m.reprobe {
				if b.Probe(ctx) {
					m.log.Info("inference.backend.recovered", "backend", b.Name())
				}
			}
		}

		var best *Backend
		anyHealthy := false
		for _, b := range m.backends {
			if !b.Healthy() {
				continue
			}
			anyHealthy = true
			if b.Inflight() >= b.capacity {
				continue
			}
			if best == nil || b.Inflight() < best.Inflight() {
				best = b // ties keep the earlier-registered backend
			}
		}
		if best != nil {
			best.inflight.Add(1)
			return best
		}
		if !anyHealthy {
			// Nothing recovered this pass; degrade the job instead of
			// queueing behind a dark pool.
			return nil
		}

		m.cond.Wait()
	}
}

func (m *Manager) release(b *Backend) {
	b.inflight.Add(-1)
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}
