/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Persistent Ed25519 peer identity, generalized from the teacher's
 * treatment of on-disk state in paths.go/devstate.go: load-validate a
 * fixed-size file, write it with parent dir created, fsync, 0600.
 */

package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// PeerID is the 32-byte Ed25519 public key identifying a peer.
type PeerID [ed25519.PublicKeySize]byte

func (id PeerID) String() string {
	const hex = "0123456789abcdef"
	buf := make([]byte, len(id)*2)
	for i, b := range id {
		buf[i*2] = hex[b>>4]
		buf[i*2+1] = hex[b&0xf]
	}
	return string(buf)
}

// Identity bundles a peer's long-term keypair.
type Identity struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// PeerID returns the 32-byte public identity derived from this keypair.
func (id Identity) PeerID() PeerID {
	var p PeerID
	copy(p[:], id.Public)
	return p
}

// LoadOrCreateIdentity loads a 32-byte raw Ed25519 seed from path, or
// generates one from crypto/rand and persists it with mode 0600 if
// absent. The file is exactly 32 bytes on disk (spec section 4.2/6); any
// other length is a load error.
func LoadOrCreateIdentity(path string) (Identity, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return Identity{}, fmt.Errorf("transport: secret key %s: expected %d bytes, got %d",
				path, ed25519.SeedSize, len(seed))
		}
		priv := ed25519.NewKeyFromSeed(seed)
		return Identity{Private: priv, Public: priv.Public().(ed25519.PublicKey)}, nil
	}

	if !os.IsNotExist(err) {
		return Identity{}, err
	}

	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return Identity{}, fmt.Errorf("transport: generating secret key: %w", err)
	}

	if err := writeKeyFile(path, seed); err != nil {
		return Identity{}, err
	}

	priv := ed25519.NewKeyFromSeed(seed)
	return Identity{Private: priv, Public: priv.Public().(ed25519.PublicKey)}, nil
}

func writeKeyFile(path string, seed []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("transport: creating key directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("transport: creating secret key file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(seed); err != nil {
		return fmt.Errorf("transport: writing secret key: %w", err)
	}
	return f.Sync()
}
