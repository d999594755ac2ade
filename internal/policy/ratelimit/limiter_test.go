package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSpacesRequestsToOneHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays = map[string]time.Duration{}
	)
	l := New(Config{
		DefaultRPS:   10,
		DefaultBurst: 1,
		OnDelay: func(host string, d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			delays[host] += d
		},
	})

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://shop.example/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://shop.example/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, delays["shop.example"], 50*time.Millisecond)
}

func TestWaitIsolatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example:8443/1"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestWaitDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 50 {
		require.NoError(t, l.Wait(context.Background(), "https://same.example"))
	}
	require.Zero(t, l.Hosts())

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://same.example"))
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Wait(ctx, "https://slow.example"), context.Canceled)
}

func TestWaitFailsFastPastDeadline(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	err := l.Wait(ctx, "https://slow.example")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "unknown", hostOf("://bad"))
	require.Equal(t, "example.com", hostOf("https://example.com:8443/x"))
}
