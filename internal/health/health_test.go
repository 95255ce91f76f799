package health

import (
	"testing"
	"time"
)

func TestMonitorGoodQualityAfterFastPongs(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 5; i++ {
		seq := m.NextPing()
		m.RecordPong(seq)
	}
	if got := m.Quality(); got != QualityGood {
		t.Fatalf("quality = %v, want Good", got)
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v, want Connected", m.State())
	}
}

func TestMonitorUnknownQualityWithNoSamples(t *testing.T) {
	m := NewMonitor()
	if got := m.Quality(); got != QualityUnknown {
		t.Fatalf("quality = %v, want Unknown", got)
	}
}

func TestMonitorDegradesAfterRepeatedTimeouts(t *testing.T) {
	m := NewMonitor()
	seq := m.NextPing()
	m.RecordPong(seq)

	for i := 0; i < maxConsecutiveFailures-1; i++ {
		s := m.NextPing()
		m.RecordTimeout(s)
	}
	if m.State() != StateDegraded {
		t.Fatalf("state = %v, want Degraded", m.State())
	}

	s := m.NextPing()
	m.RecordTimeout(s)
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v, want Disconnected", m.State())
	}
}

func TestMonitorRecordPongUnknownSeqIgnored(t *testing.T) {
	m := NewMonitor()
	m.RecordPong(999)
	if m.Quality() != QualityUnknown {
		t.Fatalf("unexpected quality change from unknown seq")
	}
}

func TestMonitorDegradesOnSingleFailureAfterConnected(t *testing.T) {
	m := NewMonitor()
	seq := m.NextPing()
	m.RecordPong(seq)

	s := m.NextPing()
	m.RecordTimeout(s)
	if m.State() != StateDegraded {
		t.Fatalf("state = %v, want Degraded after one failure (spec 4.6)", m.State())
	}
}

func TestMonitorDisconnectsAfterLongElapsedSinceLastSuccess(t *testing.T) {
	m := NewMonitor()
	seq := m.NextPing()
	m.RecordPong(seq)

	m.mu.Lock()
	m.lastSuccess = time.Now().Add(-disconnectAfterElapsed - time.Second)
	m.mu.Unlock()

	s := m.NextPing()
	m.RecordTimeout(s)
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v, want Disconnected once elapsed-since-last-success exceeds 15s", m.State())
	}
}
