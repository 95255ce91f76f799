/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Self-signed TLS certificate derived from the Ed25519 identity. Peer
 * authentication is by public key, not CA trust: both sides present a
 * self-signed leaf and verify the peer's certificate public key against
 * the allowlist, not against any certificate authority.
 */

package transport

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// selfSignedCert builds a one-shot self-signed TLS certificate binding
// id's public key, valid for a long (10 year) window since peer identity
// is the on-disk Ed25519 key, not the certificate's validity period.
func selfSignedCert(id Identity) (tls.Certificate, error) {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: id.PeerID().String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(nil, tmpl, tmpl, id.Public, id.Private)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("transport: creating self-signed cert: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  id.Private,
	}, nil
}

// peerIDFromCert extracts the Ed25519 public key embedded in a leaf
// certificate presented over the handshake.
func peerIDFromCert(der []byte) (PeerID, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return PeerID{}, err
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return PeerID{}, fmt.Errorf("transport: peer certificate is not Ed25519")
	}
	var id PeerID
	copy(id[:], pub)
	return id, nil
}

// tlsConfig builds a mutually-authenticated TLS config: both sides
// present their self-signed leaf and accept the peer's certificate
// unconditionally at the TLS layer (InsecureSkipVerify), deferring
// actual identity authorization to the allowlist check performed on the
// negotiated connection (see Endpoint.Accept).
func tlsConfig(id Identity) (*tls.Config, error) {
	cert, err := selfSignedCert(id)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		ClientAuth:         tls.RequireAnyClientCert,
		NextProtos:         []string{ALPN},
		MinVersion:         tls.VersionTLS13,
	}, nil
}
