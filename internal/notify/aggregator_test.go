package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

func TestAggregatorDebouncesFlappingDevice(t *testing.T) {
	var mu sync.Mutex
	var flushes [][]Change

	a := NewAggregator(func(batch []Change) {
		mu.Lock()
		defer mu.Unlock()
		flushes = append(flushes, batch)
	})

	a.Push(Change{DeviceID: 1, Arrived: true})
	a.Push(Change{DeviceID: 1, Arrived: false})
	a.Push(Change{DeviceID: 1, Arrived: true})

	time.Sleep(debounceWindow + 50*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(flushes) != 1 {
		t.Fatalf("got %d flushes, want 1", len(flushes))
	}
	if len(flushes[0]) != 1 || !flushes[0][0].Arrived {
		t.Fatalf("expected single arrived change, got %v", flushes[0])
	}
}

func TestAggregatorForceFlushAtCeiling(t *testing.T) {
	var mu sync.Mutex
	var flushed int

	a := NewAggregator(func(batch []Change) {
		mu.Lock()
		defer mu.Unlock()
		flushed += len(batch)
	})

	for i := 0; i < maxPending; i++ {
		a.Push(Change{DeviceID: wire.DeviceID(i), Arrived: true})
	}

	mu.Lock()
	defer mu.Unlock()
	if flushed != maxPending {
		t.Fatalf("flushed = %d, want %d", flushed, maxPending)
	}
}

func TestAggregatorPreservesFirstSeenOrder(t *testing.T) {
	done := make(chan []Change, 1)
	a := NewAggregator(func(batch []Change) { done <- batch })

	a.Push(Change{DeviceID: 3, Arrived: true})
	a.Push(Change{DeviceID: 1, Arrived: true})
	a.Push(Change{DeviceID: 2, Arrived: true})
	a.Push(Change{DeviceID: 1, Arrived: false}) // update, keeps its original slot
	a.Flush()

	select {
	case batch := <-done:
		want := []wire.DeviceID{3, 1, 2}
		if len(batch) != len(want) {
			t.Fatalf("got %d changes, want %d", len(batch), len(want))
		}
		for i, id := range want {
			if batch[i].DeviceID != id {
				t.Fatalf("batch[%d].DeviceID = %d, want %d", i, batch[i].DeviceID, id)
			}
		}
		if batch[1].Arrived {
			t.Fatalf("expected device 1's update to overwrite state, got Arrived=true")
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not fire")
	}
}

func TestAggregatorManualFlush(t *testing.T) {
	done := make(chan []Change, 1)
	a := NewAggregator(func(batch []Change) { done <- batch })

	a.Push(Change{DeviceID: 7, Arrived: false})
	a.Flush()

	select {
	case batch := <-done:
		if len(batch) != 1 || batch[0].DeviceID != 7 {
			t.Fatalf("unexpected batch: %v", batch)
		}
	case <-time.After(time.Second):
		t.Fatal("flush did not fire")
	}
}
