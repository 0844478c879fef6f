// Package refresh holds the timing glue around the external quote fetch:
// the outbound debouncer, the "about to refresh" signal and the countdown.
package refresh

import (
	"sync"
	"time"

	"github.com/ggonzalez94/xbridge/internal/model"
)

const DefaultDebounce = 300 * time.Millisecond

// Debouncer coalesces calls inside a window and forwards only the last one.
// A call made while a forward is pending replaces it.
type Debouncer[T any] struct {
	mu       sync.Mutex
	idle     *sync.Cond
	window   time.Duration
	forward  func(T)
	timer    *time.Timer
	pending  T
	seq      uint64
	inflight int
}

func NewDebouncer[T any](window time.Duration, forward func(T)) *Debouncer[T] {
	if window <= 0 {
		window = DefaultDebounce
	}
	d := &Debouncer[T]{window: window, forward: forward}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Push schedules v to be forwarded once the window passes without another
// call.
func (d *Debouncer[T]) Push(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = v
	d.seq++
	seq := d.seq
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.fire(seq) })
}

// Flush forwards the pending value immediately, if any, then waits for a
// forward the timer already started. It reports whether it forwarded.
func (d *Debouncer[T]) Flush() bool {
	d.mu.Lock()
	flushed := d.timer != nil
	var v T
	if flushed {
		d.timer.Stop()
		d.timer = nil
		v = d.pending
	}
	d.mu.Unlock()
	if flushed {
		d.forward(v)
	}

	d.mu.Lock()
	for d.inflight > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
	return flushed
}

// Cancel drops the pending value without forwarding it.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
}

func (d *Debouncer[T]) fire(seq uint64) {
	d.mu.Lock()
	// A stopped timer can still fire if it was already running.
	if seq != d.seq || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	v := d.pending
	d.inflight++
	d.mu.Unlock()

	d.forward(v)

	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		d.idle.Broadcast()
	}
	d.mu.Unlock()
}

// IsQuoteGoingToRefresh reports whether another fetch cycle will run for the
// current request. The insufficient balance override stops refreshing.
func IsQuoteGoingToRefresh(state model.RefreshState, insufficientBal bool) bool {
	return state.QuotesRefreshCount < state.MaxRefreshCount && !insufficientBal
}

// RemainingUntilNext is the time left before the next scheduled fetch. It is
// zero while loading, before the first fetch and after the last one.
func RemainingUntilNext(state model.RefreshState, refreshRate time.Duration, insufficientBal bool, now time.Time) time.Duration {
	if state.IsLoading || state.QuotesLastFetchedMs == 0 || !IsQuoteGoingToRefresh(state, insufficientBal) {
		return 0
	}
	next := time.UnixMilli(state.QuotesLastFetchedMs).Add(refreshRate)
	if remaining := next.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
