/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Per-stream RPC helper: one envelope out, one envelope in, then FIN.
 * Spec section 4.2(c) and design note in section 9 ("per-connection
 * request demultiplexing" — implicit pairing by stream, not RequestId).
 */

package transport

import (
	"context"
	"fmt"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// Request opens a new stream, writes req, finishes the send half, reads
// and returns the response envelope's payload. Used by clients.
func Request(ctx context.Context, conn *Conn, payload wire.Payload) (wire.Payload, error) {
	stream, err := conn.OpenRequestStream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	env := wire.Envelope{Version: wire.Current, Payload: payload}
	if err := wire.WriteEnvelope(stream, env); err != nil {
		return nil, err
	}
	if err := stream.Close(); err != nil { // finish send half
		return nil, err
	}

	resp, err := wire.ReadEnvelope(stream)
	if err != nil {
		return nil, err
	}
	if err := wire.Validate(resp.Version); err != nil {
		return nil, err
	}
	if e, ok := resp.Payload.(wire.ErrorPayload); ok {
		return nil, fmt.Errorf("peer error: %s", e.Message)
	}
	return resp.Payload, nil
}

// ServeStream reads exactly one inbound envelope from stream, invokes
// handle to produce a response payload, writes the response, and
// finishes the send half. Used by the server connection handler's
// per-stream dispatch (spec section 4.3).
func ServeStream(stream Stream, handle func(wire.Payload) wire.Payload) error {
	env, err := wire.ReadEnvelope(stream)
	if err != nil {
		return err
	}

	var out wire.Payload
	if verr := wire.Validate(env.Version); verr != nil {
		out = wire.ErrorPayload{Message: verr.Error()}
	} else {
		out = handle(env.Payload)
	}

	respEnv := wire.Envelope{Version: wire.Current, Payload: out}
	if err := wire.WriteEnvelope(stream, respEnv); err != nil {
		return err
	}
	return stream.Close()
}
