// Copyright (c) 2025 PassChain Authors
//
// This file is part of go-passchain.
//
// go-passchain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@passchain.dev for commercial licensing options.

// Package workerpool manages a pool of isolated signing workers. Slots move
// through cold, warming, ready, busy, and dead; a slot serves exactly one
// operation and is then destroyed and replaced in the background, so no state
// leaks between unrelated signing requests.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/metrics"
	"github.com/passchain/go-passchain/pkg/types"
)

// SlotState is the lifecycle state of one worker slot.
type SlotState string

const (
	SlotCold    SlotState = "cold"
	SlotWarming SlotState = "warming"
	SlotReady   SlotState = "ready"
	SlotBusy    SlotState = "busy"
	SlotDead    SlotState = "dead"
)

// slot is one worker plus its state. Never shared: a slot is owned either by
// the ready list or by exactly one in-flight dispatch.
type slot struct {
	id     string
	state  SlotState
	worker Worker
}

// Config sets pool limits and timeouts.
type Config struct {
	// MaxReady caps the number of ready spares. Excess warmed slots are
	// discarded rather than queued.
	MaxReady int

	// WarmTimeout bounds the liveness probe during warming.
	WarmTimeout time.Duration

	// DispatchTimeout is the fallback per-operation bound when the caller's
	// context carries no deadline.
	DispatchTimeout time.Duration
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	if c.MaxReady == 0 {
		c.MaxReady = 2
	}
	if c.WarmTimeout == 0 {
		c.WarmTimeout = 5 * time.Second
	}
	if c.DispatchTimeout == 0 {
		c.DispatchTimeout = 2 * time.Minute
	}
}

// OnMessage handles a transient message during a dispatch. A non-nil return
// value is sent back to the worker (the confirmation decision path).
type OnMessage func(env Envelope) *Envelope

// Pool owns the worker slots.
type Pool struct {
	mu      sync.Mutex
	factory Factory
	cfg     Config
	logger  *logging.Logger
	ready   []*slot
	busy    map[string]*slot
	closed  bool
}

// New creates a pool around a worker factory.
func New(factory Factory, cfg Config, logger *logging.Logger) *Pool {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Pool{
		factory: factory,
		cfg:     cfg,
		logger:  logger.WithComponent("workerpool"),
		busy:    make(map[string]*slot),
	}
}

// Prewarm asynchronously fills the ready list up to n slots (bounded by
// MaxReady).
func (p *Pool) Prewarm(n int) {
	if n > p.cfg.MaxReady {
		n = p.cfg.MaxReady
	}
	for i := 0; i < n; i++ {
		go p.replenish()
	}
}

// Ready reports the current number of ready spares.
func (p *Pool) Ready() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ready)
}

// Close destroys all ready slots and rejects further dispatches. In-flight
// operations finish; their slots are destroyed on completion as usual.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	readySlots := p.ready
	p.ready = nil
	p.mu.Unlock()

	for _, s := range readySlots {
		s.worker.Destroy()
	}
	p.updateGauges()
}

// Dispatch runs one operation: acquire a ready slot (creating one on demand),
// send the request, and pump messages until a terminal response, a protocol
// violation, or the deadline. The slot is destroyed afterward in every case
// and a replacement is warmed in the background.
func (p *Pool) Dispatch(ctx context.Context, request Envelope, onMessage OnMessage) (Envelope, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.DispatchTimeout)
		defer cancel()
	}

	s, err := p.acquire()
	if err != nil {
		return Envelope{}, err
	}

	// The slot never outlives the operation. Destruction is synchronous on
	// every path; replacement happens in the background.
	defer func() {
		p.retire(s)
		go p.replenish()
	}()

	if err := s.worker.Send(request); err != nil {
		return Envelope{}, err
	}

	for {
		select {
		case env, ok := <-s.worker.Recv():
			if !ok {
				return Envelope{}, types.WrapError("dispatch", types.ErrProtocol)
			}
			if IsTerminal(env.Type) {
				return env, nil
			}
			if onMessage == nil {
				return Envelope{}, types.WrapError(
					fmt.Sprintf("dispatch: unexpected message %q", env.Type), types.ErrProtocol)
			}
			if reply := onMessage(env); reply != nil {
				if err := s.worker.Send(*reply); err != nil {
					return Envelope{}, err
				}
			}
		case <-ctx.Done():
			return Envelope{}, types.WrapError("dispatch", types.ErrTimeout)
		}
	}
}

// acquire pops a ready slot or creates one synchronously when the pool is
// empty. The returned slot is busy and owned by the caller.
func (p *Pool) acquire() (*slot, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, types.WrapError("acquire", types.ErrProtocol)
	}
	if n := len(p.ready); n > 0 {
		s := p.ready[n-1]
		p.ready = p.ready[:n-1]
		s.state = SlotBusy
		p.busy[s.id] = s
		p.mu.Unlock()
		p.updateGauges()
		return s, nil
	}
	p.mu.Unlock()

	s, err := p.createSlot()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		s.worker.Destroy()
		return nil, types.WrapError("acquire", types.ErrProtocol)
	}
	s.state = SlotBusy
	p.busy[s.id] = s
	p.mu.Unlock()
	p.updateGauges()
	return s, nil
}

// retire destroys a slot after its single operation.
func (p *Pool) retire(s *slot) {
	s.worker.Destroy()

	p.mu.Lock()
	delete(p.busy, s.id)
	s.state = SlotDead
	p.mu.Unlock()

	metrics.PoolReplacementsTotal.Inc()
	p.updateGauges()
	p.logger.Debug("slot retired", "slot", s.id)
}

// Warm attempts per replacement slot. A transient probe failure must not
// leave the ready list permanently short of a spare.
const (
	replenishRetries = 3
	replenishBackoff = 100 * time.Millisecond
)

// replenish warms a fresh slot into the ready list, discarding it if the
// pool is already at capacity or closed. Failed warm attempts are retried
// with a short backoff before giving up.
func (p *Pool) replenish() {
	for attempt := 1; attempt <= replenishRetries; attempt++ {
		p.mu.Lock()
		if p.closed || len(p.ready) >= p.cfg.MaxReady {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		s, err := p.createSlot()
		if err != nil {
			p.logger.Warn("failed to warm replacement slot", "attempt", attempt, "error", err)
			time.Sleep(replenishBackoff)
			continue
		}

		p.mu.Lock()
		if p.closed || len(p.ready) >= p.cfg.MaxReady {
			p.mu.Unlock()
			s.worker.Destroy()
			return
		}
		s.state = SlotReady
		p.ready = append(p.ready, s)
		p.mu.Unlock()
		p.updateGauges()
		return
	}
}

// createSlot builds a worker and takes it through cold, warming, and the
// liveness probe. A probe failure destroys the worker and reports an error;
// the caller decides whether to retry.
func (p *Pool) createSlot() (*slot, error) {
	s := &slot{id: uuid.New().String(), state: SlotCold}

	worker, err := p.factory()
	if err != nil {
		s.state = SlotDead
		return nil, fmt.Errorf("create worker: %w", err)
	}
	s.worker = worker
	s.state = SlotWarming

	if err := p.probe(worker); err != nil {
		worker.Destroy()
		s.state = SlotDead
		metrics.RecordOperation(metrics.OpHealthProbe, metrics.StatusError)
		return nil, err
	}

	metrics.RecordOperation(metrics.OpHealthProbe, metrics.StatusSuccess)
	s.state = SlotReady
	return s, nil
}

// probe sends a ping and waits for the pong within the warm timeout.
func (p *Pool) probe(w Worker) error {
	if err := w.Send(Envelope{Type: TypePing}); err != nil {
		return err
	}

	timer := time.NewTimer(p.cfg.WarmTimeout)
	defer timer.Stop()

	select {
	case env, ok := <-w.Recv():
		if !ok || env.Type != TypePong {
			return types.WrapError("probe", types.ErrProtocol)
		}
		return nil
	case <-timer.C:
		return types.WrapError("probe", types.ErrTimeout)
	}
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	ready := len(p.ready)
	busy := len(p.busy)
	p.mu.Unlock()
	metrics.SetPoolSlots(string(SlotReady), ready)
	metrics.SetPoolSlots(string(SlotBusy), busy)
}
