/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Transport integration tests: dial/accept over real loopback QUIC,
 * allowlist enforcement, and the per-stream request/response helper.
 */

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

func newTestIdentity(t *testing.T) Identity {
	t.Helper()
	id, err := LoadOrCreateIdentity(t.TempDir() + "/identity.key")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %s", err)
	}
	return id
}

func newListeningEndpoint(t *testing.T, allow *Allowlist) *Endpoint {
	t.Helper()
	ep, err := NewEndpoint(Config{Identity: newTestIdentity(t), Allowlist: allow})
	if err != nil {
		t.Fatalf("NewEndpoint: %s", err)
	}
	if err := ep.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %s", err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestPairingStringIncludesPeerIDAndAddr(t *testing.T) {
	ep := newListeningEndpoint(t, nil)
	got := ep.PairingString()
	want := ep.Identity.PeerID().String()
	if len(got) <= len(want) || got[:len(want)] != want {
		t.Fatalf("PairingString() = %q, want prefix %q", got, want)
	}
}

func TestDialAcceptRoundTrip(t *testing.T) {
	srvEp := newListeningEndpoint(t, nil)

	accepted := make(chan *Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := srvEp.Accept(context.Background())
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	cliEp, err := NewEndpoint(Config{Identity: newTestIdentity(t)})
	if err != nil {
		t.Fatalf("NewEndpoint: %s", err)
	}
	defer cliEp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cliConn, err := cliEp.Dial(ctx, srvEp.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer cliConn.CloseWithError(0, "done")

	select {
	case err := <-acceptErr:
		t.Fatalf("Accept: %s", err)
	case srvConn := <-accepted:
		if srvConn.PeerID != cliEp.Identity.PeerID() {
			t.Fatalf("server saw peer id %s, want %s", srvConn.PeerID, cliEp.Identity.PeerID())
		}
		if cliConn.PeerID != srvEp.Identity.PeerID() {
			t.Fatalf("client saw peer id %s, want %s", cliConn.PeerID, srvEp.Identity.PeerID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server accept")
	}
}

// TestAllowlistRejectsUnknownPeer confirms a peer outside an enforced,
// empty allowlist never gets a usable connection: the handshake may
// complete at the QUIC layer before the server's Accept loop closes
// it, but no stream-level exchange can succeed afterward.
func TestAllowlistRejectsUnknownPeer(t *testing.T) {
	allow, err := NewAllowlist(true, nil) // enforced, empty list: reject everyone
	if err != nil {
		t.Fatalf("NewAllowlist: %s", err)
	}
	srvEp := newListeningEndpoint(t, allow)

	go srvEp.Accept(context.Background()) // rejects and loops forever; never returns a Conn here

	cliEp, err := NewEndpoint(Config{Identity: newTestIdentity(t)})
	if err != nil {
		t.Fatalf("NewEndpoint: %s", err)
	}
	defer cliEp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := cliEp.Dial(ctx, srvEp.Addr().String())
	if err != nil {
		return // rejected before the handshake even surfaced a *Conn
	}
	defer conn.CloseWithError(0, "done")

	if _, err := Request(ctx, conn, wire.Ping{}); err == nil {
		t.Fatal("expected request over a rejected connection to fail")
	}
}

func TestRequestServeStreamRoundTrip(t *testing.T) {
	srvEp := newListeningEndpoint(t, nil)

	serverDone := make(chan error, 1)
	go func() {
		conn, err := srvEp.Accept(context.Background())
		if err != nil {
			serverDone <- err
			return
		}
		stream, err := conn.AcceptStream(context.Background())
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- ServeStream(stream, func(p wire.Payload) wire.Payload {
			if _, ok := p.(wire.Ping); !ok {
				return wire.ErrorPayload{Message: "expected Ping"}
			}
			return wire.Pong{}
		})
	}()

	cliEp, err := NewEndpoint(Config{Identity: newTestIdentity(t)})
	if err != nil {
		t.Fatalf("NewEndpoint: %s", err)
	}
	defer cliEp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := cliEp.Dial(ctx, srvEp.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %s", err)
	}
	defer conn.CloseWithError(0, "done")

	resp, err := Request(ctx, conn, wire.Ping{})
	if err != nil {
		t.Fatalf("Request: %s", err)
	}
	if _, ok := resp.(wire.Pong); !ok {
		t.Fatalf("expected Pong, got %T", resp)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("ServeStream: %s", err)
	}
}
