package dispatch

import (
	"sync/atomic"
	"time"
)

// atomicTime is a lock-free timestamp cell (nanoseconds since epoch).
type atomicTime struct {
	v atomic.Int64
}

func (t *atomicTime) Store(ts time.Time) {
	t.v.Store(ts.UnixNano())
}

func (t *atomicTime) Load() time.Time {
	return time.Unix(0, t.v.Load())
}
