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

package workerpool

import (
	"sync"
	"time"

	"github.com/passchain/go-passchain/pkg/types"
)

// Worker is one isolated execution unit. All interaction is asynchronous
// message passing; no state is shared with the coordinator.
type Worker interface {
	// Send delivers a message to the worker. Fails once the worker is
	// destroyed.
	Send(env Envelope) error

	// Recv returns the channel of messages emitted by the worker. The
	// channel is closed when the worker is destroyed.
	Recv() <-chan Envelope

	// Destroy tears the worker down synchronously. Idempotent.
	Destroy()
}

// Factory creates a fresh worker. Called on demand and for background
// replacement.
type Factory func() (Worker, error)

// Conn is the worker-side handle a Handler uses to emit messages and consume
// follow-up requests (the confirmation decision) addressed to it.
type Conn struct {
	w *ChannelWorker
}

// Emit sends a message toward the coordinator. Dropped silently if the
// worker was destroyed mid-operation.
func (c *Conn) Emit(env Envelope) {
	c.w.emit(env)
}

// Next blocks for the next inbound message, honoring the timeout and worker
// teardown.
func (c *Conn) Next(timeout time.Duration) (Envelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-c.w.in:
		return env, nil
	case <-timer.C:
		return Envelope{}, types.WrapError("await message", types.ErrTimeout)
	case <-c.w.done:
		return Envelope{}, types.WrapError("await message", types.ErrProtocol)
	}
}

// Handler processes one inbound request on the worker goroutine. It may emit
// any number of transient messages and must end with a terminal one.
type Handler func(env Envelope, conn *Conn)

// ChannelWorker hosts a Handler on its own goroutine with buffered in/out
// channels as the isolation boundary. Liveness pings are answered by the
// worker loop itself, so a wedged handler fails its probe.
type ChannelWorker struct {
	in   chan Envelope
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

// NewChannelWorker starts a worker goroutine around the handler.
func NewChannelWorker(handler Handler) *ChannelWorker {
	w := &ChannelWorker{
		in:   make(chan Envelope, 8),
		out:  make(chan Envelope, 8),
		done: make(chan struct{}),
	}
	go w.loop(handler)
	return w
}

func (w *ChannelWorker) loop(handler Handler) {
	defer close(w.out)
	conn := &Conn{w: w}
	for {
		select {
		case <-w.done:
			return
		case env := <-w.in:
			if env.Type == TypePing {
				w.emit(Envelope{Type: TypePong})
				continue
			}
			handler(env, conn)
		}
	}
}

func (w *ChannelWorker) emit(env Envelope) {
	select {
	case w.out <- env:
	case <-w.done:
	}
}

// Send delivers a message to the worker loop.
func (w *ChannelWorker) Send(env Envelope) error {
	select {
	case <-w.done:
		return types.WrapError("send", types.ErrProtocol)
	default:
	}
	select {
	case w.in <- env:
		return nil
	case <-w.done:
		return types.WrapError("send", types.ErrProtocol)
	}
}

// Recv returns the worker's outbound channel.
func (w *ChannelWorker) Recv() <-chan Envelope {
	return w.out
}

// Destroy tears the worker down. Safe to call more than once.
func (w *ChannelWorker) Destroy() {
	w.once.Do(func() { close(w.done) })
}
