package singleflight

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_Coalesces(t *testing.T) {
	t.Parallel()

	var (
		g       Group[string]
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
		shared  atomic.Int32
	)
	fn := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "v", nil
	}

	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v, sh, err := g.Do(context.Background(), "k", fn)
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
			if sh {
				shared.Add(1)
			}
		}()
	}
	// Wait until every caller is either leading or parked on the call.
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		c := g.calls["k"]
		return c != nil && c.dups == n-1
	}, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	assert.EqualValues(t, n, shared.Load())
}

func TestGroup_WaiterCancelDoesNotStopLeader(t *testing.T) {
	t.Parallel()

	var g Group[int]
	started := make(chan struct{})
	release := make(chan struct{})
	leaderCtx, cancelLeader := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := g.Do(leaderCtx, "k", func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 42, ctx.Err()
		})
		done <- err
	}()
	<-started

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := g.Do(waitCtx, "k", func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelLeader()
	close(release)
	assert.NoError(t, <-done, "fn context is detached from the leader's cancellation")
}

func TestGroup_PanicReachesWaiters(t *testing.T) {
	t.Parallel()

	var g Group[int]
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		defer func() { _ = recover() }()
		_, _, _ = g.Do(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			panic("boom")
		})
	}()
	<-started

	errc := make(chan error, 1)
	go func() {
		_, _, err := g.Do(context.Background(), "k", func(context.Context) (int, error) { return 1, nil })
		errc <- err
	}()
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.calls["k"] != nil && g.calls["k"].dups == 1
	}, time.Second, time.Millisecond)
	close(release)
	assert.ErrorIs(t, <-errc, ErrLoaderPanicked)

	// The key is free again.
	v, shared, err := g.Do(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.False(t, shared)
}

func TestGroup_Forget(t *testing.T) {
	t.Parallel()

	var g Group[int]
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _, _ = g.Do(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
	}()
	<-started
	g.Forget("k")

	v, _, err := g.Do(context.Background(), "k", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v, "a forgotten key starts a fresh load")
	close(release)
}
