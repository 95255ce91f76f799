/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Structured status snapshot, supplementing the distilled spec: the
 * out-of-scope TUI front end consumes this over the control socket
 * (internal/ctrlsock) instead of ipp-usb's plain-text StatusFormat, per
 * spec section 6's "status and diagnostics interface" note.
 */

package statusevents

import (
	"sync"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/health"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// PeerStatus is one connected peer's current state, as surfaced to the
// status/control interface.
type PeerStatus struct {
	PeerID        string        `json:"peer_id"`
	State         string        `json:"state"`
	Quality       string        `json:"quality"`
	AverageRTTMs  float64       `json:"average_rtt_ms"`
	AttachedCount int           `json:"attached_count"`
	ConnectedFor  time.Duration `json:"-"`
	Since         time.Time     `json:"since"`
}

// Snapshot is the full status payload returned by GET /status.
type Snapshot struct {
	Devices []wire.DeviceInfo `json:"devices"`
	Peers   []PeerStatus      `json:"peers"`
}

// Table is a thread-safe, process-wide registry of peer statuses,
// mirroring the teacher's status.go statusTable but exposed as a
// reusable type instead of package-level globals.
type Table struct {
	mu    sync.RWMutex
	peers map[string]*PeerStatus
}

// NewTable builds an empty status table.
func NewTable() *Table {
	return &Table{peers: make(map[string]*PeerStatus)}
}

// Upsert records or updates one peer's status.
func (t *Table) Upsert(p PeerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.PeerID] = &p
}

// Remove drops a peer from the table, on disconnect.
func (t *Table) Remove(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peerID)
}

// Peers returns a snapshot copy of every tracked peer.
func (t *Table) Peers() []PeerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]PeerStatus, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// FromMonitor builds a PeerStatus from a live health.Monitor.
func FromMonitor(peerID string, m *health.Monitor, attached int, since time.Time) PeerStatus {
	return PeerStatus{
		PeerID:        peerID,
		State:         m.State().String(),
		Quality:       m.Quality().String(),
		AverageRTTMs:  float64(m.AverageRTT().Microseconds()) / 1000.0,
		AttachedCount: attached,
		Since:         since,
	}
}
