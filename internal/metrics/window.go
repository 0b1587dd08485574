package metrics

import (
	"sync/atomic"
	"time"
)

const (
	// DefaultRetention is how far back the instantaneous throughput window looks.
	DefaultRetention = 60 * time.Second
	// MaxRetention caps the window so its ring stays small.
	MaxRetention = time.Hour
)

// windowBucket holds the traffic observed during one second. sec never
// changes after the bucket is published.
type windowBucket struct {
	sec   int64
	count atomic.Int64
	bytes atomic.Int64
}

// rateWindow is a ring of one-second buckets indexed by sec mod len(slots).
// A slot is lazily replaced the first time a newer second touches it, so no
// background sweeper is needed.
type rateWindow struct {
	slots []atomic.Pointer[windowBucket]
}

func newRateWindow(retention time.Duration) *rateWindow {
	n := int(retention / time.Second)
	if n < 1 {
		n = 1
	}
	return &rateWindow{slots: make([]atomic.Pointer[windowBucket], n)}
}

func (w *rateWindow) size() int64 {
	return int64(len(w.slots))
}

func (w *rateWindow) slot(sec int64) *atomic.Pointer[windowBucket] {
	n := w.size()
	return &w.slots[((sec%n)+n)%n]
}

// add counts one sample in second sec. It returns false when the slot is
// already owned by a newer second, i.e. the sample is past the horizon.
func (w *rateWindow) add(sec, bytes int64) bool {
	slot := w.slot(sec)
	// Installed seconds in a slot only grow, so this loop terminates.
	for {
		cur := slot.Load()
		if cur != nil && cur.sec == sec {
			cur.count.Add(1)
			cur.bytes.Add(bytes)
			return true
		}
		if cur != nil && cur.sec > sec {
			return false
		}
		fresh := &windowBucket{sec: sec}
		fresh.count.Store(1)
		fresh.bytes.Store(bytes)
		if slot.CompareAndSwap(cur, fresh) {
			return true
		}
	}
}

// windowTotals is the traffic retained in the window at a given second.
type windowTotals struct {
	count int64
	bytes int64
	span  time.Duration
}

// sum totals the buckets inside (now-retention, ...] and evicts anything
// older. Eviction is a CAS against the observed bucket, so running it twice
// or concurrently is harmless.
func (w *rateWindow) sum(now int64) windowTotals {
	horizon := now - w.size()
	var (
		totals         windowTotals
		oldest, newest int64
		seen           bool
	)
	for i := range w.slots {
		b := w.slots[i].Load()
		if b == nil {
			continue
		}
		if b.sec <= horizon {
			w.slots[i].CompareAndSwap(b, nil)
			continue
		}
		totals.count += b.count.Load()
		totals.bytes += b.bytes.Load()
		if !seen || b.sec < oldest {
			oldest = b.sec
		}
		if !seen || b.sec > newest {
			newest = b.sec
		}
		seen = true
	}
	if !seen {
		return totals
	}
	if now > newest {
		newest = now
	}
	secs := newest - oldest + 1
	if secs > w.size() {
		secs = w.size()
	}
	totals.span = time.Duration(secs) * time.Second
	return totals
}

// floorSeconds places an offset from the run start on the one-second grid.
func floorSeconds(d time.Duration) int64 {
	sec := int64(d / time.Second)
	if d < 0 && d%time.Second != 0 {
		sec--
	}
	return sec
}
