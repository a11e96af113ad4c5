package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/payparse/internal/payment"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func gbp(t *testing.T, amount string) payment.ParseResult {
	t.Helper()
	return payment.Succeeded(decimal.RequireFromString(amount), "GBP", time.Unix(0, 0).UTC())
}

const stripeURL = "https://checkout.stripe.com/c/pay/cs_live_abc"

func TestGetIsIdempotent(t *testing.T) {
	t.Parallel()

	c := New(Config{}, newFakeClock(), nil)
	_, ok := c.Get(stripeURL)
	require.False(t, ok)
	_, ok = c.Get(stripeURL)
	require.False(t, ok)

	want := gbp(t, "20.00")
	c.Set(stripeURL, want)
	first, ok := c.Get(stripeURL)
	require.True(t, ok)
	second, ok := c.Get(stripeURL)
	require.True(t, ok)
	require.Equal(t, first, second)
	require.True(t, first.Amount.Equal(*want.Amount))

	stats := c.Stats()
	require.Equal(t, int64(2), stats.Hits)
	require.Equal(t, int64(2), stats.Misses)
	require.Equal(t, 1, stats.Keys)
	require.Equal(t, 1, stats.Entries)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(Config{TTL: 300 * time.Second}, clk, nil)
	c.Set(stripeURL, gbp(t, "5"))

	clk.Advance(299 * time.Second)
	_, ok := c.Get(stripeURL)
	require.True(t, ok)

	clk.Advance(time.Second)
	stats := c.Stats()
	require.Equal(t, 1, stats.Keys)
	require.Equal(t, 0, stats.Entries)

	_, ok = c.Get(stripeURL)
	require.False(t, ok)
	require.Equal(t, 0, c.Stats().Keys)
}

func TestExactURLKeys(t *testing.T) {
	t.Parallel()

	c := New(Config{}, newFakeClock(), nil)
	c.Set("https://buy.stripe.com/x?a=1&b=2", gbp(t, "1"))
	_, ok := c.Get("https://buy.stripe.com/x?b=2&a=1")
	require.False(t, ok)
}

func TestEvictsLeastRecentlySet(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 2}, newFakeClock(), nil)
	c.Set("u1", gbp(t, "1"))
	c.Set("u2", gbp(t, "2"))
	_, ok := c.Get("u1")
	require.True(t, ok)

	c.Set("u3", gbp(t, "3"))
	_, ok = c.Get("u1")
	require.False(t, ok, "reads must not protect an entry from eviction")
	_, ok = c.Get("u2")
	require.True(t, ok)

	c.Set("u2", gbp(t, "22"))
	c.Set("u4", gbp(t, "4"))
	_, ok = c.Get("u3")
	require.False(t, ok)
	got, ok := c.Get("u2")
	require.True(t, ok)
	require.Equal(t, "22", got.Amount.String())
}

func TestClearAndSweep(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := New(Config{TTL: time.Minute}, clk, nil)
	c.Set("a", gbp(t, "1"))
	c.Set("b", gbp(t, "2"))
	clk.Advance(30 * time.Second)
	c.Set("c", gbp(t, "3"))
	clk.Advance(31 * time.Second)

	require.Equal(t, 2, c.Sweep())
	require.Equal(t, 1, c.Stats().Keys)
	require.Equal(t, 1, c.Clear())
	require.Equal(t, 0, c.Stats().Keys)
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	t.Parallel()

	c := New(Config{TTL: 10 * time.Millisecond, SweepInterval: 5 * time.Millisecond}, nil, nil)
	c.Set(stripeURL, gbp(t, "1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.RunJanitor(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Stats().Keys == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New(Config{MaxEntries: 50}, newFakeClock(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				u := fmt.Sprintf("https://pay.openai.com/%d", (i*j)%80)
				c.Set(u, gbp(t, "1"))
				c.Get(u)
			}
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, c.Stats().Keys, 50)
}
