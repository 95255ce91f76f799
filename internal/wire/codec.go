/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Compact self-describing binary codec for the envelope payload union.
 *
 * Modeled on goipp's messageEncoder/messageDecoder (tag byte, explicit
 * length prefixes, streaming io.Writer/io.Reader): no tagged-union
 * binary codec library exists anywhere in the retrieved example pack,
 * so this is hand-written against encoding/binary, the same primitive
 * goipp itself is built on.
 */

package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// encoder writes the compact binary encoding to an io.Writer.
type encoder struct {
	w   io.Writer
	err error
}

func newEncoder(w io.Writer) *encoder { return &encoder{w: w} }

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *encoder) putByte(b byte) {
	if e.err != nil {
		return
	}
	_, err := e.w.Write([]byte{b})
	e.fail(err)
}

func (e *encoder) putVarint(v uint64) {
	if e.err != nil {
		return
	}
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	_, err := e.w.Write(buf[:n])
	e.fail(err)
}

func (e *encoder) putU16(v uint16) {
	if e.err != nil {
		return
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	_, err := e.w.Write(buf[:])
	e.fail(err)
}

func (e *encoder) putU32(v uint32) {
	if e.err != nil {
		return
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := e.w.Write(buf[:])
	e.fail(err)
}

func (e *encoder) putU64(v uint64) {
	if e.err != nil {
		return
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := e.w.Write(buf[:])
	e.fail(err)
}

func (e *encoder) putBool(b bool) {
	if b {
		e.putByte(1)
	} else {
		e.putByte(0)
	}
}

func (e *encoder) putBytes(b []byte) {
	e.putVarint(uint64(len(b)))
	if e.err != nil || len(b) == 0 {
		return
	}
	_, err := e.w.Write(b)
	e.fail(err)
}

func (e *encoder) putString(s string) {
	e.putBytes([]byte(s))
}

func (e *encoder) putOptionString(s *string) {
	if s == nil {
		e.putByte(0)
		return
	}
	e.putByte(1)
	e.putString(*s)
}

// decoder reads the compact binary encoding from an io.Reader.
type decoder struct {
	r   io.ByteReader
	raw io.Reader
}

func newDecoder(r io.Reader) *decoder {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
		r = br.(io.Reader)
	}
	return &decoder{r: br, raw: r}
}

func (d *decoder) getByte() (byte, error) {
	return d.r.ReadByte()
}

func (d *decoder) getVarint() (uint64, error) {
	return binary.ReadUvarint(d.r)
}

func (d *decoder) getU16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(d.raw, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (d *decoder) getU32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.raw, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (d *decoder) getU64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.raw, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (d *decoder) getBool() (bool, error) {
	b, err := d.getByte()
	return b != 0, err
}

// maxBytesField bounds any single length-prefixed field, independent of
// the overall frame guard in frame.go, so a corrupt length cannot force
// an enormous allocation while still inside the 32 MiB frame.
const maxBytesField = 32 * 1024 * 1024

func (d *decoder) getBytes() ([]byte, error) {
	n, err := d.getVarint()
	if err != nil {
		return nil, err
	}
	if n > maxBytesField {
		return nil, fmt.Errorf("%w: field length %d", ErrBufferTooSmall, n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.raw, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *decoder) getString() (string, error) {
	b, err := d.getBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) getOptionString() (*string, error) {
	tag, err := d.getByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case 0:
		return nil, nil
	case 1:
		s, err := d.getString()
		if err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("%w: option tag %d", ErrInvalidMessageType, tag)
	}
}
