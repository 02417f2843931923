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

package noncecache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passchain/go-passchain/pkg/rpc"
	"github.com/passchain/go-passchain/pkg/types"
)

func newTestCache(client rpc.ChainClient) *Cache {
	return New("alice.testnet", "ed25519:abc", client, Config{}, nil)
}

func TestGetContextFetchesOnce(t *testing.T) {
	client := rpc.NewMockClient()
	cache := newTestCache(client)
	ctx := context.Background()

	got, err := cache.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.NextNonce) // on-chain nonce 4
	assert.Equal(t, uint64(100), got.TxBlockHeight)
	assert.Equal(t, 1, client.ViewAccessKeyCalls)

	// Second call within both windows is served from cache.
	_, err = cache.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, client.ViewAccessKeyCalls)
}

func TestGetContextRefetchesWhenStale(t *testing.T) {
	client := rpc.NewMockClient()
	cache := newTestCache(client)
	ctx := context.Background()

	_, err := cache.GetContext(ctx)
	require.NoError(t, err)

	// Age past the nonce window; block data is still fresh but either stale
	// window forces a synchronous fetch.
	cache.mu.Lock()
	cache.nonceFetched = time.Now().Add(-time.Minute)
	cache.mu.Unlock()

	client.SetAccessKeyNonce(9)
	got, err := cache.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.NextNonce)
	assert.Equal(t, 2, client.ViewAccessKeyCalls)
}

// blockingClient parks ViewAccessKey until released, counting entries.
type blockingClient struct {
	*rpc.MockClient
	entered chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (b *blockingClient) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*rpc.AccessKeyView, error) {
	b.mu.Lock()
	b.calls++
	if b.calls == 1 {
		close(b.entered)
	}
	b.mu.Unlock()
	<-b.release
	return b.MockClient.ViewAccessKey(ctx, accountID, publicKey)
}

func TestGetContextCoalescesConcurrentFetches(t *testing.T) {
	client := &blockingClient{
		MockClient: rpc.NewMockClient(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	cache := newTestCache(client)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.GetContext(ctx)
		}(i)
	}

	<-client.entered
	close(client.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, client.calls, "concurrent callers must share one fetch")
}

func TestReserveNoncesSequential(t *testing.T) {
	cache := newTestCache(rpc.NewMockClient())
	ctx := context.Background()

	// Context has nextNonce 5; a batch of two gets 5 and 6.
	nonces, err := cache.ReserveNonces(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 6}, nonces)

	more, err := cache.ReserveNonces(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, more)
}

func TestReserveNoncesConcurrentNoCollision(t *testing.T) {
	cache := newTestCache(rpc.NewMockClient())
	ctx := context.Background()

	const callers = 16
	results := make([]uint64, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nonces, err := cache.ReserveNonces(ctx, 1)
			if !assert.NoError(t, err) {
				return
			}
			results[i] = nonces[0]
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	seen := make(map[uint64]bool)
	for _, nonce := range results {
		assert.False(t, seen[nonce], "nonce %d issued twice", nonce)
		assert.Greater(t, nonce, uint64(4), "nonce must exceed on-chain nonce")
		seen[nonce] = true
	}
}

func TestReleaseDoesNotReissue(t *testing.T) {
	cache := newTestCache(rpc.NewMockClient())
	ctx := context.Background()

	first, err := cache.ReserveNonces(ctx, 1)
	require.NoError(t, err)
	cache.Release(first...)
	assert.Equal(t, 0, cache.Reserved())

	// The high-water mark is monotonic: the released nonce is not handed to
	// a later caller while it may still be in flight elsewhere.
	second, err := cache.ReserveNonces(ctx, 1)
	require.NoError(t, err)
	assert.Greater(t, second[0], first[0])
}

func TestConfirmPrunesReservations(t *testing.T) {
	cache := newTestCache(rpc.NewMockClient())
	ctx := context.Background()

	nonces, err := cache.ReserveNonces(ctx, 3) // 5 6 7
	require.NoError(t, err)
	require.Equal(t, 3, cache.Reserved())

	cache.Confirm(nonces[1]) // confirms 6: prunes 5 and 6
	assert.Equal(t, 1, cache.Reserved())

	got, err := cache.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.NextNonce)
}

func TestReserveNoncesInvalidCount(t *testing.T) {
	cache := newTestCache(rpc.NewMockClient())
	_, err := cache.ReserveNonces(context.Background(), 0)
	assert.Error(t, err)
}

func TestGetContextRPCFailure(t *testing.T) {
	client := rpc.NewMockClient()
	client.AccessKeyErr = errors.New("connection refused")
	cache := newTestCache(client)

	_, err := cache.GetContext(context.Background())
	assert.ErrorIs(t, err, types.ErrRPCFailure)
}

func TestClearWipesState(t *testing.T) {
	client := rpc.NewMockClient()
	cache := newTestCache(client)
	ctx := context.Background()

	_, err := cache.ReserveNonces(ctx, 2)
	require.NoError(t, err)

	cache.Clear()
	assert.Equal(t, 0, cache.Reserved())

	// Next use refetches.
	_, err = cache.GetContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, client.ViewAccessKeyCalls)
}

func TestClearDuringOperationsFailsClean(t *testing.T) {
	// Logout may land between a refresh completing and the caller
	// re-acquiring the lock. The caller must see a sentinel, never a nil
	// dereference. Nanosecond windows force a fetch on every call so the
	// Clear loop keeps hitting that gap.
	cache := New("alice.testnet", "ed25519:abc", rpc.NewMockClient(), Config{
		NonceFreshness: time.Nanosecond,
		BlockFreshness: time.Nanosecond,
	}, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := cache.GetContext(ctx); err != nil {
					assert.ErrorIs(t, err, types.ErrKeyUnavailable)
				}
				if _, err := cache.ReserveNonces(ctx, 1); err != nil {
					assert.ErrorIs(t, err, types.ErrKeyUnavailable)
				}
			}
		}()
	}
	for i := 0; i < 400; i++ {
		cache.Clear()
	}
	wg.Wait()
}
