package store

import (
	"sync/atomic"
	"time"
)

const (
	hlcLogicalBits        = 16
	hlcLogicalMask uint64 = (1 << hlcLogicalBits) - 1
)

// HybridClock provides monotonically increasing timestamps.
type HybridClock interface {
	Now() uint64
}

// hlc packs wall milliseconds into the high 48 bits and a logical counter
// into the low 16 bits. Timestamps never go backwards even if the wall
// clock does.
type hlc struct {
	last atomic.Uint64
	wall func() time.Time
}

func newHLC() *hlc {
	return &hlc{wall: time.Now}
}

func (h *hlc) Now() uint64 {
	for {
		prev := h.last.Load()
		ms := h.wall().UnixMilli()
		if ms < 0 {
			ms = 0
		}
		next := uint64(ms) << hlcLogicalBits
		if next <= prev {
			// Same or earlier millisecond: bump the logical part, which
			// carries into the wall part on overflow.
			next = prev + 1
		}
		if h.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// observe moves the clock forward past ts.
func (h *hlc) observe(ts uint64) {
	for {
		prev := h.last.Load()
		if ts <= prev {
			return
		}
		if h.last.CompareAndSwap(prev, ts) {
			return
		}
	}
}

// TimestampAt is the lowest timestamp a clock can issue at wall time t, for
// turning a retention period into a compaction horizon.
func TimestampAt(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		ms = 0
	}
	return uint64(ms) << hlcLogicalBits
}

func hlcWallMillis(ts uint64) int64 {
	return int64(ts >> hlcLogicalBits) //nolint:gosec
}

func hlcLogical(ts uint64) uint16 {
	return uint16(ts & hlcLogicalMask) //nolint:gosec
}
