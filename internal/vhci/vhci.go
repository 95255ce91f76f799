/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Shared VHCI/USB-IP wire constants (spec section 4.6), grounded on the
 * URB header layout used by the pack's USB-IP server implementation
 * (sanjay900-VIIPER's internal/server/usb/server.go): a 48-byte fixed
 * header, big-endian fields, command codes 0x0001-0x0004.
 */

package vhci

import "encoding/binary"

const (
	headerSize = 0x30

	cmdSubmit = 0x00000001
	retSubmit = 0x00000003
	cmdUnlink = 0x00000002
	retUnlink = 0x00000004

	// DirOut/DirIn match the USB-IP wire protocol's direction field.
	DirOut = 0
	DirIn  = 1
)

// CmdSubmit is a decoded USBIP_CMD_SUBMIT.
type CmdSubmit struct {
	Seqnum            uint32
	Devid             uint32
	Direction         uint32
	Endpoint          uint32
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             [8]byte
	Data              []byte // present only when Direction == DirOut
}

// RetSubmit is an encoded USBIP_RET_SUBMIT.
type RetSubmit struct {
	Seqnum          uint32
	Devid           uint32
	Direction       uint32
	Endpoint        uint32
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Data            []byte // present only when the original request was IN
}

// CmdUnlink is a decoded USBIP_CMD_UNLINK.
type CmdUnlink struct {
	Seqnum       uint32
	UnlinkSeqnum uint32
}

// RetUnlink is an encoded USBIP_RET_UNLINK.
type RetUnlink struct {
	Seqnum uint32
	Status int32
}

// decodeUint32 reads the big-endian uint32 stored at offset off of b.
func decodeUint32(b []byte, off int) uint32 {
	return binary.BigEndian.Uint32(b[off : off+4])
}

func putUint32(b []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(b[off:off+4], v)
}

// ParseCmdSubmit decodes a 48-byte CMD_SUBMIT header (command field
// already checked by the caller) plus any OUT payload appended after
// it.
func ParseCmdSubmit(hdr []byte, outData []byte) CmdSubmit {
	var c CmdSubmit
	c.Seqnum = decodeUint32(hdr, 0x04)
	c.Devid = decodeUint32(hdr, 0x08)
	c.Direction = decodeUint32(hdr, 0x0c)
	c.Endpoint = decodeUint32(hdr, 0x10)
	c.TransferFlags = decodeUint32(hdr, 0x14)
	c.TransferBufferLen = decodeUint32(hdr, 0x18)
	c.StartFrame = decodeUint32(hdr, 0x1c)
	c.NumberOfPackets = decodeUint32(hdr, 0x20)
	c.Interval = decodeUint32(hdr, 0x24)
	copy(c.Setup[:], hdr[0x28:0x30])
	if c.Direction == DirOut {
		c.Data = outData
	}
	return c
}

// EncodeRetSubmit serializes a RET_SUBMIT header plus its IN payload,
// if any.
func EncodeRetSubmit(r RetSubmit) []byte {
	out := make([]byte, headerSize, headerSize+len(r.Data))
	putUint32(out, 0x00, retSubmit)
	putUint32(out, 0x04, r.Seqnum)
	putUint32(out, 0x08, r.Devid)
	putUint32(out, 0x0c, r.Direction)
	putUint32(out, 0x10, r.Endpoint)
	putUint32(out, 0x14, uint32(r.Status))
	putUint32(out, 0x18, r.ActualLength)
	putUint32(out, 0x1c, r.StartFrame)
	putUint32(out, 0x20, r.NumberOfPackets)
	putUint32(out, 0x24, r.ErrorCount)
	// 0x28-0x30: setup/reserved, left zero on a RET_SUBMIT.
	if r.Direction == DirIn {
		out = append(out, r.Data...)
	}
	return out
}

// ParseCmdUnlink decodes a 48-byte CMD_UNLINK header.
func ParseCmdUnlink(hdr []byte) CmdUnlink {
	return CmdUnlink{
		Seqnum:       decodeUint32(hdr, 0x04),
		UnlinkSeqnum: decodeUint32(hdr, 0x14),
	}
}

// EncodeRetUnlink serializes a RET_UNLINK header.
func EncodeRetUnlink(r RetUnlink) []byte {
	out := make([]byte, headerSize)
	putUint32(out, 0x00, retUnlink)
	putUint32(out, 0x04, r.Seqnum)
	putUint32(out, 0x14, uint32(r.Status))
	return out
}

// CommandOf reads just the command code from a 48-byte header.
func CommandOf(hdr []byte) uint32 { return decodeUint32(hdr, 0x00) }

const (
	CmdSubmitCode = cmdSubmit
	CmdUnlinkCode = cmdUnlink
)

// HeaderSize is the fixed USB-IP URB header length.
const HeaderSize = headerSize
