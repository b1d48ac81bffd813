package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunBoundsConcurrency(t *testing.T) {
	p := New(3, NewDomainLimiter(0, 0))

	var inFlight, peak int32
	var mu sync.Mutex
	var done []string

	targets := make([]string, 20)
	for i := range targets {
		targets[i] = "https://site.example/p/" + string(rune('a'+i))
	}

	p.Run(context.Background(), targets, nil, func(_ context.Context, target string) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		mu.Lock()
		done = append(done, target)
		mu.Unlock()
	})

	require.Len(t, done, 20)
	require.LessOrEqual(t, peak, int32(3))
}

func TestRunSkipsAndDeduplicates(t *testing.T) {
	p := New(2, NewDomainLimiter(0, 0))

	var mu sync.Mutex
	var done []string
	targets := []string{
		"https://site.example/a",
		"https://site.example/a",
		"https://site.example/b",
		"https://site.example/c",
	}
	skip := func(u string) bool { return u == "https://site.example/b" }

	p.Run(context.Background(), targets, skip, func(_ context.Context, target string) {
		mu.Lock()
		done = append(done, target)
		mu.Unlock()
	})

	require.ElementsMatch(t, []string{"https://site.example/a", "https://site.example/c"}, done)
}

func TestRunStopsDispatchOnCancel(t *testing.T) {
	p := New(1, NewDomainLimiter(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	var count int32
	targets := make([]string, 50)
	for i := range targets {
		targets[i] = "https://site.example/p/" + string(rune('a'+i%26)) + string(rune('a'+i/26))
	}

	p.Run(ctx, targets, nil, func(_ context.Context, _ string) {
		if atomic.AddInt32(&count, 1) == 3 {
			cancel()
		}
	})

	// The in-flight target finishes, nothing new is dispatched after that.
	require.LessOrEqual(t, atomic.LoadInt32(&count), int32(4))
	require.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestDomainLimiterUnlimitedWhenDisabled(t *testing.T) {
	l := NewDomainLimiter(0, 0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://site.example/p"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestDomainLimiterHonorsContext(t *testing.T) {
	l := NewDomainLimiter(0.001, 1)
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/p"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example/p")
	require.Error(t, err)
}
