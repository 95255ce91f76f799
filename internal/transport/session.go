/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Stream-multiplexed, authenticated peer-to-peer transport built on
 * quic-go, generalized from the teacher's connection-handling idiom
 * (one logical connection, many short-lived request/response units) but
 * targeting QUIC streams instead of HTTP/USB connections.
 */

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/kimasplund/go-p2p-usb/internal/audit"
	"github.com/kimasplund/go-p2p-usb/internal/logutil"
)

// Stream is one bidirectional QUIC stream: write one envelope, finish
// the send half, read one envelope back, per spec section 4.2(c).
type Stream = quic.Stream

// Conn is one peer-to-peer connection: many streams, one handshake.
type Conn struct {
	quic.Connection
	PeerID PeerID
}

// OpenRequestStream opens a new bidirectional stream for a single
// request/response exchange.
func (c *Conn) OpenRequestStream(ctx context.Context) (Stream, error) {
	return c.OpenStreamSync(ctx)
}

// Endpoint is this host's side of the transport: it can dial out and,
// if configured with a listener address, accept inbound connections.
type Endpoint struct {
	Identity  Identity
	Allowlist *Allowlist
	Audit     *audit.Log
	Log       *logutil.Logger

	tlsConf *tls.Config
	qconf   *quic.Config
	ln      *quic.Listener
}

// Config bundles Endpoint construction options.
type Config struct {
	Identity    Identity
	Allowlist   *Allowlist
	Audit       *audit.Log
	Log         *logutil.Logger
	IdleTimeout time.Duration
}

// NewEndpoint builds an Endpoint ready to Dial and/or Listen.
func NewEndpoint(cfg Config) (*Endpoint, error) {
	tlsConf, err := tlsConfig(cfg.Identity)
	if err != nil {
		return nil, err
	}

	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = 180 * time.Second // spec section 4.3 idle timeout
	}

	log := cfg.Log
	if log == nil {
		log = logutil.New()
	}

	return &Endpoint{
		Identity:  cfg.Identity,
		Allowlist: cfg.Allowlist,
		Audit:     cfg.Audit,
		Log:       log,
		tlsConf:   tlsConf,
		qconf: &quic.Config{
			MaxIdleTimeout:  idle,
			KeepAlivePeriod: 0, // the connection-lifecycle layer runs its own §4.3/4.5 keep-alive
		},
	}, nil
}

// Listen starts accepting inbound QUIC connections on addr (server
// side). Call Accept in a loop to retrieve them.
func (e *Endpoint) Listen(addr string) error {
	ln, err := quic.ListenAddr(addr, e.tlsConf, e.qconf)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	e.ln = ln
	return nil
}

// Addr returns the local listen address, once Listen has succeeded.
func (e *Endpoint) Addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

// Accept blocks for the next inbound connection, enforcing the
// allowlist and negotiated ALPN before handing it back. Connections
// rejected by the allowlist are closed immediately and recorded as
// auth_failure in the audit log (spec section 4.2); Accept then loops
// to the next candidate rather than returning an error for it.
func (e *Endpoint) Accept(ctx context.Context) (*Conn, error) {
	for {
		qc, err := e.ln.Accept(ctx)
		if err != nil {
			return nil, err
		}

		peerID, err := e.peerIDOf(qc)
		if err != nil {
			qc.CloseWithError(0, "bad peer certificate")
			continue
		}

		if e.Allowlist != nil && !e.Allowlist.Allowed(peerID) {
			if e.Audit != nil {
				e.Audit.AuthFailure(peerID.String(), "peer not in allowlist")
			}
			if e.Log != nil {
				e.Log.Info("rejected connection from %s: not in allowlist", peerID)
			}
			qc.CloseWithError(0, "not allowed")
			continue
		}

		return &Conn{Connection: qc, PeerID: peerID}, nil
	}
}

// Dial connects to a peer at addr over QUIC and returns the established
// connection. The returned Conn's PeerID is derived from the answering
// peer's certificate; Dial does not check it against the allowlist or
// against any expected peer-id, so that comparison is left to the caller.
func (e *Endpoint) Dial(ctx context.Context, addr string) (*Conn, error) {
	qc, err := quic.DialAddr(ctx, addr, e.tlsConf, e.qconf)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	peerID, err := e.peerIDOf(qc)
	if err != nil {
		qc.CloseWithError(0, "bad peer certificate")
		return nil, err
	}

	return &Conn{Connection: qc, PeerID: peerID}, nil
}

func (e *Endpoint) peerIDOf(qc quic.Connection) (PeerID, error) {
	state := qc.ConnectionState().TLS
	if len(state.PeerCertificates) == 0 {
		return PeerID{}, fmt.Errorf("transport: peer presented no certificate")
	}
	return peerIDFromCert(state.PeerCertificates[0].Raw)
}

// PairingString returns the peer-id/listen-address pair a remote user
// types (or scans as a QR code, outside this module's scope) to add
// this host to their approved peer list.
func (e *Endpoint) PairingString() string {
	addr := ""
	if a := e.Addr(); a != nil {
		addr = a.String()
	}
	return fmt.Sprintf("%s@%s", e.Identity.PeerID(), addr)
}

// Close stops accepting new connections.
func (e *Endpoint) Close() error {
	if e.ln != nil {
		return e.ln.Close()
	}
	return nil
}
