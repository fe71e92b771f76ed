package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(max int) (*Cache[string], *clock) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New[string](Config{TTL: time.Minute, MaxSessions: max, Now: clk.Now}), clk
}

func TestCache_PutGetConsume(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(10)

	c.Put("a", "preview")
	v, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "preview", v)

	v, err = c.Consume("a")
	require.NoError(t, err)
	assert.Equal(t, "preview", v)

	_, err = c.Consume("a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, IsSessionError(err))
}

func TestCache_Expiry(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(10)

	c.Put("a", "x")
	clk.Advance(59 * time.Second)
	_, err := c.Get("a")
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = c.Get("a")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.True(t, IsSessionError(err))

	_, err = c.Get("a")
	assert.ErrorIs(t, err, ErrSessionNotFound, "an expired entry is dropped on access")
}

func TestCache_Extend(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(10)

	c.Put("a", "x")
	clk.Advance(50 * time.Second)
	_, err := c.Extend("a")
	require.NoError(t, err)
	clk.Advance(50 * time.Second)
	_, err = c.Get("a")
	assert.NoError(t, err)

	_, err = c.Extend("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(2)

	c.Put("a", "1")
	clk.Advance(time.Second)
	c.Put("b", "2")
	clk.Advance(time.Second)
	c.Put("c", "3")

	assert.Equal(t, 2, c.Len())
	_, err := c.Get("a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, c.Stats().Evicted)
}

func TestCache_Sweep(t *testing.T) {
	t.Parallel()
	c, clk := newTestCache(10)

	c.Put("a", "1")
	clk.Advance(30 * time.Second)
	c.Put("b", "2")
	clk.Advance(45 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, Stats{Active: 1, Expired: 1}, c.Stats())
}

func TestCache_ConcurrentConsumeSingleWinner(t *testing.T) {
	t.Parallel()
	c, _ := newTestCache(10)
	c.Put("s", "preview")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Consume("s"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestCache_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	c := New[int](Config{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewID(t *testing.T) {
	t.Parallel()
	assert.NotEqual(t, NewID(), NewID())
}
