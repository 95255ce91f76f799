/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Wire codec property and boundary tests
 */

package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func strp(s string) *string { return &s }

func samplePayloads() []Payload {
	return []Payload{
		ListDevicesRequest{},
		ListDevicesResponse{Devices: []DeviceInfo{
			{ID: 1, Vendor: 0x1234, Product: 0x5678, Bus: 1, Address: 2,
				Class: 0, SubClass: 0, Protocol: 0, Speed: SpeedHigh,
				NumConfigs: 1, Manufacturer: strp("Acme"), ProductName: strp("Widget"),
				SerialNumber: nil},
			{ID: 2, Vendor: 0xabcd, Product: 0xef01},
		}},
		AttachRequest{DeviceID: 7},
		AttachResponse{Result: AttachResult{Ok: true, Handle: 42}},
		AttachResponse{Result: AttachResult{Ok: false, Err: AttachError{Kind: AttachErrDeviceNotFound}}},
		DetachRequest{Handle: 42},
		DetachResponse{Result: DetachResult{Ok: true}},
		DetachResponse{Result: DetachResult{Ok: false, Err: DetachError{Kind: DetachErrNotAttached, Message: "x"}}},
		SubmitTransfer{Request: TransferRequest{
			ID: 1, Handle: 42, Kind: TransferControl,
			BmRequestType: 0x80, BRequest: 0x06, WValue: 0x0100, WIndex: 0,
		}},
		SubmitTransfer{Request: TransferRequest{
			ID: 2, Handle: 42, Kind: TransferBulk, Endpoint: 0x81, TimeoutMs: 1000,
		}},
		SubmitTransfer{Request: TransferRequest{
			ID: 3, Handle: 42, Kind: TransferInterrupt, Endpoint: 0x02,
			Data: []byte("out"), HasChecksum: true, Checksum: ComputeChecksum([]byte("out")),
		}},
		TransferComplete{Response: TransferResponse{ID: 1, Result: TransferResult{
			Ok: true, Data: bytes.Repeat([]byte{0xAB}, 18),
		}}},
		TransferComplete{Response: TransferResponse{ID: 3, Result: TransferResult{
			Ok: false, Err: UsbError{Kind: UsbErrNotFound},
		}}},
		Ping{},
		Pong{},
		ErrorPayload{Message: "Incompatible protocol version"},
	}
}

// P1: every payload value encodes and decodes without error back to a
// payload of the same variant (only the tag is compared).
func TestRoundTrip(t *testing.T) {
	for _, p := range samplePayloads() {
		env := Envelope{Version: Current, Payload: p}
		body, err := EncodeEnvelope(env)
		if err != nil {
			t.Fatalf("encode %T: %s", p, err)
		}
		got, err := DecodeEnvelope(body)
		if err != nil {
			t.Fatalf("decode %T: %s", p, err)
		}
		if got.Payload.Tag() != p.Tag() {
			t.Fatalf("tag mismatch for %T: got %v want %v", p, got.Payload.Tag(), p.Tag())
		}
	}
}

// P2: framing round-trip.
func TestFramingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	env := Envelope{Version: Current, Payload: Ping{}}
	if err := WriteEnvelope(&buf, env); err != nil {
		t.Fatal(err)
	}
	got, err := ReadEnvelope(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Payload.Tag() != TagPing {
		t.Fatalf("got %v", got.Payload.Tag())
	}
}

// P3: advertised length over MaxFrameSize fails before allocation.
func TestFrameTooLarge(t *testing.T) {
	r := &countingReader{limit: 4}
	var lenbuf [4]byte
	lenbuf[0] = 0xFF
	lenbuf[1] = 0xFF
	lenbuf[2] = 0xFF
	lenbuf[3] = 0xFF
	r.data = lenbuf[:]

	_, err := ReadFrame(r)
	if err == nil || !strings.Contains(err.Error(), "exceeds maximum") {
		t.Fatalf("expected FrameTooLarge, got %v", err)
	}
	if r.readCalls != 1 {
		t.Fatalf("expected exactly one read (the prefix), got %d", r.readCalls)
	}
}

// Boundary: exactly-max frame succeeds, max+1 fails (at the EncodeFrame
// guard, which is where a sender would notice).
func TestFrameSizeBoundary(t *testing.T) {
	ok := make([]byte, MaxFrameSize)
	if _, err := EncodeFrame(ok); err != nil {
		t.Fatalf("max-size frame should succeed: %s", err)
	}

	tooBig := make([]byte, MaxFrameSize+1)
	if _, err := EncodeFrame(tooBig); err == nil {
		t.Fatal("max+1 frame should fail")
	}
}

// Boundary: missing length prefix yields IncompleteFrame.
func TestIncompleteFrame(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
	if err == nil || !strings.Contains(err.Error(), "incomplete") {
		t.Fatalf("expected IncompleteFrame, got %v", err)
	}
}

// P4: version gate.
func TestVersionGate(t *testing.T) {
	cases := []struct {
		major, minor uint16
		wantErr      bool
	}{
		{Current.Major, Current.Minor, false},
		{Current.Major, Current.Minor + 7, false},
		{Current.Major + 1, Current.Minor, true},
		{Current.Major - 1, 0, true},
	}
	for _, c := range cases {
		err := Validate(Version{Major: c.major, Minor: c.minor})
		if (err != nil) != c.wantErr {
			t.Errorf("Validate(major=%d,minor=%d): err=%v, want err=%v", c.major, c.minor, err, c.wantErr)
		}
	}
}

// P10: integrity.
func TestChecksumIntegrity(t *testing.T) {
	data := []byte("the quick brown fox")
	sum := ComputeChecksum(data)
	if !VerifyChecksum(data, sum) {
		t.Fatal("checksum should verify over unmodified data")
	}

	flipped := append([]byte(nil), data...)
	flipped[0] ^= 0x01
	if VerifyChecksum(flipped, sum) {
		t.Fatal("checksum should not verify after flipping a data bit")
	}

	if VerifyChecksum(data, sum^1) {
		t.Fatal("checksum should not verify after flipping a checksum bit")
	}
}

// countingReader returns a fixed slice of bytes and counts Read calls,
// used to prove TestFrameTooLarge never attempts to read the (absent)
// oversized body.
type countingReader struct {
	data      []byte
	readCalls int
	limit     int
}

func (r *countingReader) Read(p []byte) (int, error) {
	r.readCalls++
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
