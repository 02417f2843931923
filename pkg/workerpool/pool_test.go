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
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passchain/go-passchain/pkg/types"
)

// echoFactory answers any request with a terminal success echoing the
// payload, counting the workers it created.
func echoFactory(created *atomic.Int32) Factory {
	return func() (Worker, error) {
		if created != nil {
			created.Add(1)
		}
		return NewChannelWorker(func(env Envelope, conn *Conn) {
			conn.Emit(Envelope{Type: TypeSuccess, Payload: env.Payload})
		}), nil
	}
}

func TestDispatchSuccess(t *testing.T) {
	pool := New(echoFactory(nil), Config{}, nil)
	defer pool.Close()

	request, err := NewEnvelope(TypeSignTransaction, map[string]string{"accountId": "alice.testnet"})
	require.NoError(t, err)

	resp, err := pool.Dispatch(context.Background(), request, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeSuccess, resp.Type)
	assert.JSONEq(t, `{"accountId":"alice.testnet"}`, string(resp.Payload))
}

func TestDispatchTransientMessageRoundTrip(t *testing.T) {
	factory := func() (Worker, error) {
		return NewChannelWorker(func(env Envelope, conn *Conn) {
			conn.Emit(Envelope{Type: TypeRequestConfirmation, Payload: json.RawMessage(`{"q":1}`)})
			reply, err := conn.Next(time.Second)
			if err != nil || reply.Type != TypeConfirmationDecision {
				conn.Emit(Envelope{Type: TypeFailure})
				return
			}
			conn.Emit(Envelope{Type: TypeSuccess, Payload: reply.Payload})
		}), nil
	}
	pool := New(factory, Config{}, nil)
	defer pool.Close()

	resp, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, func(env Envelope) *Envelope {
		if env.Type != TypeRequestConfirmation {
			return nil
		}
		return &Envelope{Type: TypeConfirmationDecision, Payload: json.RawMessage(`{"confirmed":true}`)}
	})
	require.NoError(t, err)
	assert.Equal(t, TypeSuccess, resp.Type)
	assert.JSONEq(t, `{"confirmed":true}`, string(resp.Payload))
}

func TestDispatchTimeout(t *testing.T) {
	stall := make(chan struct{})
	defer close(stall)
	factory := func() (Worker, error) {
		return NewChannelWorker(func(env Envelope, conn *Conn) {
			<-stall
		}), nil
	}
	pool := New(factory, Config{}, nil)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := pool.Dispatch(ctx, Envelope{Type: TypeSignTransaction}, nil)
	assert.ErrorIs(t, err, types.ErrTimeout)
}

func TestDispatchAfterWorkerKilled(t *testing.T) {
	var created atomic.Int32
	// The first worker dies mid-operation; the pool must reject the
	// in-flight call and serve the next one from a fresh slot.
	factory := func() (Worker, error) {
		n := created.Add(1)
		return NewChannelWorker(func(env Envelope, conn *Conn) {
			if n == 1 {
				conn.w.Destroy()
				return
			}
			conn.Emit(Envelope{Type: TypeSuccess})
		}), nil
	}
	pool := New(factory, Config{}, nil)
	defer pool.Close()

	_, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, nil)
	assert.ErrorIs(t, err, types.ErrProtocol)

	resp, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, nil)
	require.NoError(t, err)
	assert.Equal(t, TypeSuccess, resp.Type)
	assert.GreaterOrEqual(t, created.Load(), int32(2))
}

func TestSlotsNeverReused(t *testing.T) {
	var created atomic.Int32
	pool := New(echoFactory(&created), Config{MaxReady: 1}, nil)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		_, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, nil)
		require.NoError(t, err)
	}
	// One worker per operation, plus any background spares.
	assert.GreaterOrEqual(t, created.Load(), int32(3))
}

func TestPrewarm(t *testing.T) {
	var created atomic.Int32
	pool := New(echoFactory(&created), Config{MaxReady: 2}, nil)
	defer pool.Close()

	pool.Prewarm(4) // capped at MaxReady

	require.Eventually(t, func() bool {
		return pool.Ready() == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), created.Load())
}

func TestReplenishRetriesTransientFailure(t *testing.T) {
	var attempts atomic.Int32
	// The first factory call fails; the spare must still appear on a later
	// attempt instead of the ready list staying short.
	factory := func() (Worker, error) {
		if attempts.Add(1) == 1 {
			return nil, assert.AnError
		}
		return NewChannelWorker(func(env Envelope, conn *Conn) {
			conn.Emit(Envelope{Type: TypeSuccess})
		}), nil
	}
	pool := New(factory, Config{MaxReady: 1}, nil)
	defer pool.Close()

	pool.Prewarm(1)

	require.Eventually(t, func() bool {
		return pool.Ready() == 1
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

// deafWorker never answers its liveness probe.
type deafWorker struct {
	out  chan Envelope
	done chan struct{}
}

func (d *deafWorker) Send(Envelope) error   { return nil }
func (d *deafWorker) Recv() <-chan Envelope { return d.out }
func (d *deafWorker) Destroy()              { close(d.done) }

func TestProbeFailure(t *testing.T) {
	factory := func() (Worker, error) {
		return &deafWorker{out: make(chan Envelope), done: make(chan struct{})}, nil
	}
	pool := New(factory, Config{WarmTimeout: 50 * time.Millisecond}, nil)
	defer pool.Close()

	_, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, nil)
	assert.ErrorIs(t, err, types.ErrTimeout)
}

func TestDispatchUnexpectedMessageShape(t *testing.T) {
	factory := func() (Worker, error) {
		return NewChannelWorker(func(env Envelope, conn *Conn) {
			conn.Emit(Envelope{Type: "garbage"})
		}), nil
	}
	pool := New(factory, Config{}, nil)
	defer pool.Close()

	_, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, nil)
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestDispatchAfterClose(t *testing.T) {
	pool := New(echoFactory(nil), Config{}, nil)
	pool.Close()

	_, err := pool.Dispatch(context.Background(), Envelope{Type: TypeSignTransaction}, nil)
	assert.ErrorIs(t, err, types.ErrProtocol)
}

func TestChannelWorkerAnswersPing(t *testing.T) {
	w := NewChannelWorker(func(env Envelope, conn *Conn) {})
	defer w.Destroy()

	require.NoError(t, w.Send(Envelope{Type: TypePing}))
	select {
	case env := <-w.Recv():
		assert.Equal(t, TypePong, env.Type)
	case <-time.After(time.Second):
		t.Fatal("no pong received")
	}
}

func TestChannelWorkerSendAfterDestroy(t *testing.T) {
	w := NewChannelWorker(func(env Envelope, conn *Conn) {})
	w.Destroy()
	assert.ErrorIs(t, w.Send(Envelope{Type: TypePing}), types.ErrProtocol)
}
