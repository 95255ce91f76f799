/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Notification aggregator (spec section 4.8, properties P7/S6):
 * debounces device-arrival/departure events from the USB subsystem
 * before they reach connected peers, so a device that blinks in and
 * out during re-enumeration produces one notification, not several.
 */

package notify

import (
	"sync"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

const (
	debounceWindow = 100 * time.Millisecond
	maxPending     = 50
)

// Change is the last known state for one device within the current
// debounce window.
type Change struct {
	DeviceID wire.DeviceID
	Arrived  bool // true = arrived, false = left
}

// Aggregator batches device change notifications and flushes them
// either when the debounce timer fires or when maxPending is reached,
// whichever happens first (S6).
type Aggregator struct {
	mu      sync.Mutex
	pending map[wire.DeviceID]Change
	order   []wire.DeviceID // first-seen order within the current window
	timer   *time.Timer
	flush   func([]Change)
}

// NewAggregator builds an Aggregator that invokes flush with the
// batched changes whenever it drains its pending set.
func NewAggregator(flush func([]Change)) *Aggregator {
	return &Aggregator{
		pending: make(map[wire.DeviceID]Change),
		flush:   flush,
	}
}

// Push records a device's latest state, overwriting any pending change
// already queued for the same device (last state wins, original
// position kept) so a flushed batch preserves the order devices first
// changed within the window.
func (a *Aggregator) Push(c Change) {
	a.mu.Lock()
	if _, ok := a.pending[c.DeviceID]; !ok {
		a.order = append(a.order, c.DeviceID)
	}
	a.pending[c.DeviceID] = c

	if len(a.pending) >= maxPending {
		batch := a.drainLocked()
		a.mu.Unlock()
		a.flush(batch)
		return
	}

	if a.timer == nil {
		a.timer = time.AfterFunc(debounceWindow, a.onTimer)
	}
	a.mu.Unlock()
}

func (a *Aggregator) onTimer() {
	a.mu.Lock()
	batch := a.drainLocked()
	a.mu.Unlock()
	if len(batch) > 0 {
		a.flush(batch)
	}
}

// drainLocked must be called with a.mu held. It stops any pending
// timer and returns (and clears) the current batch.
func (a *Aggregator) drainLocked() []Change {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if len(a.pending) == 0 {
		return nil
	}

	batch := make([]Change, 0, len(a.pending))
	for _, id := range a.order {
		batch = append(batch, a.pending[id])
	}
	a.pending = make(map[wire.DeviceID]Change)
	a.order = nil
	return batch
}

// Flush forces an immediate flush of whatever is pending, used on
// shutdown so no change is silently dropped.
func (a *Aggregator) Flush() {
	a.mu.Lock()
	batch := a.drainLocked()
	a.mu.Unlock()
	if len(batch) > 0 {
		a.flush(batch)
	}
}
