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

// Package noncecache caches an account's transaction context (next nonce,
// block height and hash) and hands out collision-free nonce reservations for
// concurrent and batched submission. Nonce freshness and block freshness age
// independently; refreshes against the chain RPC are coalesced so at most one
// fetch is ever outstanding.
package noncecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/passchain/go-passchain/pkg/logging"
	"github.com/passchain/go-passchain/pkg/metrics"
	"github.com/passchain/go-passchain/pkg/rpc"
	"github.com/passchain/go-passchain/pkg/types"
)

// Config sets the two freshness windows and the RPC fetch timeout.
type Config struct {
	// NonceFreshness is how long a fetched nonce is trusted. Shorter than
	// the block window because other clients may consume nonces under the
	// same access key.
	NonceFreshness time.Duration

	// BlockFreshness is how long fetched block data is trusted. Bounded by
	// how old a transaction's block hash may be at submission.
	BlockFreshness time.Duration

	// FetchTimeout bounds a single refresh against the RPC.
	FetchTimeout time.Duration
}

// SetDefaults fills zero fields with defaults.
func (c *Config) SetDefaults() {
	if c.NonceFreshness == 0 {
		c.NonceFreshness = 10 * time.Second
	}
	if c.BlockFreshness == 0 {
		c.BlockFreshness = 60 * time.Second
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 10 * time.Second
	}
}

// fetch is one coalesced refresh; waiters block on done.
type fetch struct {
	done chan struct{}
	err  error
}

// Cache is the per-account nonce and block-context cache. Safe for
// concurrent use.
type Cache struct {
	mu sync.Mutex

	accountID string
	publicKey string
	client    rpc.ChainClient
	cfg       Config
	logger    *logging.Logger

	current      *types.TransactionContext
	nonceFetched time.Time
	blockFetched time.Time

	reserved        map[uint64]struct{}
	highestReserved uint64

	inflight *fetch

	// now is a test hook for freshness arithmetic.
	now func() time.Time
}

// New creates a cache for one account's access key.
func New(accountID, publicKey string, client rpc.ChainClient, cfg Config, logger *logging.Logger) *Cache {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Cache{
		accountID: accountID,
		publicKey: publicKey,
		client:    client,
		cfg:       cfg,
		logger:    logger.WithComponent("noncecache"),
		reserved:  make(map[uint64]struct{}),
		now:       time.Now,
	}
}

// GetContext returns a fresh transaction context. If both windows are fresh
// the cached copy is returned, scheduling a background refresh once either
// window passes its half-life. If either window is stale the fetch happens
// synchronously; concurrent callers share one in-flight fetch.
func (c *Cache) GetContext(ctx context.Context) (*types.TransactionContext, error) {
	c.mu.Lock()

	if c.current != nil && !c.nonceStaleLocked() && !c.blockStaleLocked() {
		if c.pastHalfLifeLocked() && c.inflight == nil {
			f := c.startFetchLocked()
			_ = f // background; nobody waits
		}
		snapshot := *c.current
		c.mu.Unlock()
		return &snapshot, nil
	}

	f := c.startFetchLocked()
	c.mu.Unlock()

	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, types.WrapError("get context", types.ErrTimeout)
	}
	if f.err != nil {
		return nil, f.err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		// A logout cleared the cache between the fetch completing and
		// this re-acquire.
		return nil, types.WrapError("get context", types.ErrKeyUnavailable)
	}
	snapshot := *c.current
	return &snapshot, nil
}

// ReserveNonces returns n sequential nonces strictly greater than the latest
// known on-chain nonce and strictly greater than every previous reservation.
// Reservations are recorded so concurrent calls can never collide.
func (c *Cache) ReserveNonces(ctx context.Context, n int) ([]uint64, error) {
	if n <= 0 {
		return nil, fmt.Errorf("reserve nonces: n must be positive, got %d", n)
	}

	if _, err := c.GetContext(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, types.WrapError("reserve nonces", types.ErrKeyUnavailable)
	}
	start := c.current.NextNonce
	if c.highestReserved >= start {
		start = c.highestReserved + 1
	}

	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		nonce := start + uint64(i)
		c.reserved[nonce] = struct{}{}
		out[i] = nonce
	}
	c.highestReserved = out[n-1]

	metrics.NonceReservationsTotal.Add(float64(n))
	c.logger.Debug("reserved nonces", "first", out[0], "count", n)
	return out, nil
}

// Release drops reservations on a non-success path. Released nonces are not
// reissued until the chain confirms past them; the reservation high-water
// mark only advances.
func (c *Cache) Release(nonces ...uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, nonce := range nonces {
		delete(c.reserved, nonce)
	}
}

// Confirm records a nonce accepted on chain, pruning reservations at or
// below it and advancing the cached next nonce.
func (c *Cache) Confirm(nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for reserved := range c.reserved {
		if reserved <= nonce {
			delete(c.reserved, reserved)
		}
	}
	if c.current != nil && c.current.NextNonce <= nonce {
		c.current.NextNonce = nonce + 1
	}
}

// Reserved reports how many reservations are outstanding.
func (c *Cache) Reserved() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reserved)
}

// Clear wipes the cached context and all reservations. Called on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.nonceFetched = time.Time{}
	c.blockFetched = time.Time{}
	c.reserved = make(map[uint64]struct{})
	c.highestReserved = 0
}

func (c *Cache) nonceStaleLocked() bool {
	return c.now().Sub(c.nonceFetched) >= c.cfg.NonceFreshness
}

func (c *Cache) blockStaleLocked() bool {
	return c.now().Sub(c.blockFetched) >= c.cfg.BlockFreshness
}

func (c *Cache) pastHalfLifeLocked() bool {
	now := c.now()
	return now.Sub(c.nonceFetched) >= c.cfg.NonceFreshness/2 ||
		now.Sub(c.blockFetched) >= c.cfg.BlockFreshness/2
}

// startFetchLocked returns the in-flight fetch, creating one if none is
// outstanding. Caller must hold the lock.
func (c *Cache) startFetchLocked() *fetch {
	if c.inflight != nil {
		return c.inflight
	}
	f := &fetch{done: make(chan struct{})}
	c.inflight = f
	go c.run(f)
	return f
}

func (c *Cache) run(f *fetch) {
	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		close(f.done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	accessKey, err := c.client.ViewAccessKey(ctx, c.accountID, c.publicKey)
	if err != nil {
		f.err = fmt.Errorf("%w: view access key: %v", types.ErrRPCFailure, err)
		metrics.NonceRefreshTotal.WithLabelValues(metrics.StatusError).Inc()
		c.logger.Warn("context refresh failed", "error", err)
		return
	}

	block, err := c.client.ViewBlock(ctx, rpc.FinalityFinal)
	if err != nil {
		f.err = fmt.Errorf("%w: view block: %v", types.ErrRPCFailure, err)
		metrics.NonceRefreshTotal.WithLabelValues(metrics.StatusError).Inc()
		c.logger.Warn("context refresh failed", "error", err)
		return
	}

	c.mu.Lock()
	now := c.now()
	next := accessKey.Nonce + 1
	if c.current != nil && c.current.NextNonce > next {
		// Locally observed nonces can run ahead of a lagging RPC view.
		next = c.current.NextNonce
	}
	c.current = &types.TransactionContext{
		NextNonce:     next,
		TxBlockHeight: block.Height,
		TxBlockHash:   block.Hash,
		AccessKeyInfo: types.AccessKeyInfo{
			PublicKey:  c.publicKey,
			Nonce:      accessKey.Nonce,
			Permission: accessKey.Permission,
		},
	}
	c.nonceFetched = now
	c.blockFetched = now
	c.mu.Unlock()

	metrics.NonceRefreshTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	c.logger.Debug("context refreshed", "nextNonce", next, "blockHeight", block.Height)
}
