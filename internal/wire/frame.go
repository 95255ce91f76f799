/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Length-prefixed stream framing: len:u32 big-endian || payload
 */

package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the maximum permitted frame size, per spec section 4.1
// / 6: 32 MiB. Frames larger than this are rejected before the length
// bytes are even turned into an allocation (invariant I4).
const MaxFrameSize = 32 * 1024 * 1024

// EncodeFrame wraps a pre-encoded envelope with its 4-byte big-endian
// length prefix.
func EncodeFrame(envelope []byte) ([]byte, error) {
	if len(envelope) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(envelope))
	}
	out := make([]byte, 4+len(envelope))
	binary.BigEndian.PutUint32(out[:4], uint32(len(envelope)))
	copy(out[4:], envelope)
	return out, nil
}

// WriteEnvelope encodes and frames env, then writes it to w in one call.
func WriteEnvelope(w io.Writer, env Envelope) error {
	body, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	frame, err := EncodeFrame(body)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads exactly one length-prefixed frame from r: the 4-byte
// prefix first, then (only if it passes the MaxFrameSize guard) exactly
// that many payload bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteFrame, err)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(lenbuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, fmt.Errorf("%w: %s", ErrIncompleteFrame, err)
		}
		return nil, err
	}
	return body, nil
}

// ReadEnvelope reads and decodes exactly one framed envelope.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return Envelope{}, err
	}
	return DecodeEnvelope(body)
}
