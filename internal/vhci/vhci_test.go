package vhci

import "testing"

func TestRetSubmitRoundTripDecodeCommand(t *testing.T) {
	ret := EncodeRetSubmit(RetSubmit{
		Seqnum:       42,
		Devid:        7,
		Direction:    DirIn,
		Endpoint:     0x81,
		ActualLength: 3,
		Data:         []byte{1, 2, 3},
	})

	if CommandOf(ret) != retSubmit {
		t.Fatalf("unexpected command code %d", CommandOf(ret))
	}
	if len(ret) != HeaderSize+3 {
		t.Fatalf("len = %d, want %d", len(ret), HeaderSize+3)
	}
}

func TestParseCmdSubmitControlSetup(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	putUint32(hdr, 0x00, cmdSubmit)
	putUint32(hdr, 0x04, 5)  // seqnum
	putUint32(hdr, 0x08, 1)  // devid
	putUint32(hdr, 0x0c, DirOut)
	putUint32(hdr, 0x10, 0) // endpoint 0
	putUint32(hdr, 0x18, 4) // xfer len
	copy(hdr[0x28:0x30], []byte{0x80, 0x06, 0x01, 0x02, 0x00, 0x00, 0x40, 0x00})

	cmd := ParseCmdSubmit(hdr, []byte{0xaa, 0xbb, 0xcc, 0xdd})
	if cmd.Seqnum != 5 || cmd.Devid != 1 {
		t.Fatalf("unexpected cmd: %+v", cmd)
	}
	if len(cmd.Data) != 4 {
		t.Fatalf("expected OUT data to be attached")
	}
	if cmd.Setup[0] != 0x80 || cmd.Setup[1] != 0x06 {
		t.Fatalf("unexpected setup bytes: %v", cmd.Setup)
	}
}

func TestParseCmdUnlink(t *testing.T) {
	hdr := make([]byte, HeaderSize)
	putUint32(hdr, 0x00, cmdUnlink)
	putUint32(hdr, 0x04, 9)
	putUint32(hdr, 0x14, 8)

	cmd := ParseCmdUnlink(hdr)
	if cmd.Seqnum != 9 || cmd.UnlinkSeqnum != 8 {
		t.Fatalf("unexpected unlink cmd: %+v", cmd)
	}
}

func TestEncodeRetUnlink(t *testing.T) {
	out := EncodeRetUnlink(RetUnlink{Seqnum: 3, Status: -104})
	if CommandOf(out) != retUnlink {
		t.Fatalf("unexpected command code")
	}
	if len(out) != HeaderSize {
		t.Fatalf("len = %d, want %d", len(out), HeaderSize)
	}
}
