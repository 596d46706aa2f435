package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHLC_MonotonicWhenWallStalls(t *testing.T) {
	t.Parallel()
	fixed := time.UnixMilli(1_700_000_000_000)
	h := &hlc{wall: func() time.Time { return fixed }}

	a := h.Now()
	b := h.Now()
	require.Greater(t, b, a)
	assert.Equal(t, fixed.UnixMilli(), hlcWallMillis(a))
	assert.Equal(t, hlcLogical(a)+1, hlcLogical(b))
}

func TestHLC_WallGoesBackwards(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1_700_000_000_000)
	h := &hlc{wall: func() time.Time { return now }}

	a := h.Now()
	now = now.Add(-time.Second)
	b := h.Now()
	assert.Greater(t, b, a)
}

func TestHLC_Observe(t *testing.T) {
	t.Parallel()
	fixed := time.UnixMilli(1_000)
	h := &hlc{wall: func() time.Time { return fixed }}

	ahead := uint64(5_000) << hlcLogicalBits
	h.observe(ahead)
	assert.Greater(t, h.Now(), ahead)

	h.observe(1)
	assert.Greater(t, h.Now(), ahead, "observing the past is ignored")
}

func TestHLC_ConcurrentUnique(t *testing.T) {
	t.Parallel()
	var h HybridClock = newHLC()
	const n = 64
	const per = 200

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, n*per)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for j := 0; j < per; j++ {
				local = append(local, h.Now())
			}
			mu.Lock()
			for _, ts := range local {
				seen[ts] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n*per)
}

func TestTimestampAt(t *testing.T) {
	t.Parallel()
	wall := time.UnixMilli(1_700_000_000_000)
	h := &hlc{wall: func() time.Time { return wall }}

	issued := h.Now()
	assert.Equal(t, TimestampAt(wall), issued)
	assert.Less(t, TimestampAt(wall.Add(-time.Millisecond)), issued)
	assert.Zero(t, TimestampAt(time.UnixMilli(-5)))
}
