/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Peer allowlist enforcement, spec section 4.2.
 */

package transport

import "sync"

// Allowlist gates inbound connections by peer identity.
//
// If Enforce is true and Peers is non-empty, only listed peers are
// accepted; an empty list with enforcement on rejects everyone. With
// enforcement off, every peer is accepted regardless of the list.
type Allowlist struct {
	mu      sync.RWMutex
	enforce bool
	peers   map[PeerID]bool
}

// NewAllowlist builds an Allowlist from a list of peer-id strings (as
// loaded from config) and an enforcement flag.
func NewAllowlist(enforce bool, peerHex []string) (*Allowlist, error) {
	peers := make(map[PeerID]bool, len(peerHex))
	for _, s := range peerHex {
		id, err := ParsePeerID(s)
		if err != nil {
			return nil, err
		}
		peers[id] = true
	}
	return &Allowlist{enforce: enforce, peers: peers}, nil
}

// Allowed reports whether id may connect.
func (a *Allowlist) Allowed(id PeerID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enforce {
		return true
	}
	return a.peers[id]
}

// Add appends a peer id to the allowlist at runtime (pairing flow).
func (a *Allowlist) Add(id PeerID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.peers == nil {
		a.peers = make(map[PeerID]bool)
	}
	a.peers[id] = true
}

// ParsePeerID parses the hex string form of a PeerID.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if len(s) != len(id)*2 {
		return id, errInvalidPeerID(s)
	}
	for i := range id {
		hi, ok1 := hexVal(s[i*2])
		lo, ok2 := hexVal(s[i*2+1])
		if !ok1 || !ok2 {
			return id, errInvalidPeerID(s)
		}
		id[i] = hi<<4 | lo
	}
	return id, nil
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

type errInvalidPeerID string

func (e errInvalidPeerID) Error() string {
	return "transport: invalid peer id " + string(e)
}
