/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Envelope and payload encode/decode
 */

package wire

import (
	"bytes"
	"fmt"
)

// EncodeEnvelope serializes an envelope to its compact binary form.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	var buf bytes.Buffer
	e := newEncoder(&buf)
	e.putU16(env.Version.Major)
	e.putU16(env.Version.Minor)
	e.putU16(env.Version.Patch)
	e.putVarint(uint64(env.Payload.Tag()))
	encodePayload(e, env.Payload)
	if e.err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSerialization, e.err)
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope parses the compact binary form produced by
// EncodeEnvelope. Version is validated by the caller (decode never
// fails just because of a version mismatch; see frame.go/Validate).
func DecodeEnvelope(data []byte) (Envelope, error) {
	d := newDecoder(bytes.NewReader(data))

	var v Version
	var err error
	if v.Major, err = d.getU16(); err != nil {
		return Envelope{}, wrapDecode(err)
	}
	if v.Minor, err = d.getU16(); err != nil {
		return Envelope{}, wrapDecode(err)
	}
	if v.Patch, err = d.getU16(); err != nil {
		return Envelope{}, wrapDecode(err)
	}

	tagv, err := d.getVarint()
	if err != nil {
		return Envelope{}, wrapDecode(err)
	}
	if tagv >= uint64(tagCount) {
		return Envelope{}, fmt.Errorf("%w: unknown payload tag %d", ErrInvalidMessageType, tagv)
	}

	payload, err := decodePayload(d, PayloadTag(tagv))
	if err != nil {
		return Envelope{}, wrapDecode(err)
	}

	return Envelope{Version: v, Payload: payload}, nil
}

func wrapDecode(err error) error {
	return fmt.Errorf("%w: %s", ErrSerialization, err)
}

func encodePayload(e *encoder, p Payload) {
	switch m := p.(type) {
	case ListDevicesRequest:
	case ListDevicesResponse:
		e.putVarint(uint64(len(m.Devices)))
		for _, d := range m.Devices {
			encodeDeviceInfo(e, d)
		}
	case AttachRequest:
		e.putU32(uint32(m.DeviceID))
	case AttachResponse:
		encodeAttachResult(e, m.Result)
	case DetachRequest:
		e.putU32(uint32(m.Handle))
	case DetachResponse:
		encodeDetachResult(e, m.Result)
	case SubmitTransfer:
		encodeTransferRequest(e, m.Request)
	case TransferComplete:
		encodeTransferResponse(e, m.Response)
	case Ping:
	case Pong:
	case ErrorPayload:
		e.putString(m.Message)
	default:
		e.fail(fmt.Errorf("%w: unencodable payload %T", ErrInvalidMessageType, p))
	}
}

func decodePayload(d *decoder, tag PayloadTag) (Payload, error) {
	switch tag {
	case TagListDevicesRequest:
		return ListDevicesRequest{}, nil
	case TagListDevicesResponse:
		n, err := d.getVarint()
		if err != nil {
			return nil, err
		}
		devs := make([]DeviceInfo, 0, n)
		for i := uint64(0); i < n; i++ {
			dev, err := decodeDeviceInfo(d)
			if err != nil {
				return nil, err
			}
			devs = append(devs, dev)
		}
		return ListDevicesResponse{Devices: devs}, nil
	case TagAttachRequest:
		id, err := d.getU32()
		if err != nil {
			return nil, err
		}
		return AttachRequest{DeviceID: DeviceID(id)}, nil
	case TagAttachResponse:
		r, err := decodeAttachResult(d)
		if err != nil {
			return nil, err
		}
		return AttachResponse{Result: r}, nil
	case TagDetachRequest:
		h, err := d.getU32()
		if err != nil {
			return nil, err
		}
		return DetachRequest{Handle: Handle(h)}, nil
	case TagDetachResponse:
		r, err := decodeDetachResult(d)
		if err != nil {
			return nil, err
		}
		return DetachResponse{Result: r}, nil
	case TagSubmitTransfer:
		req, err := decodeTransferRequest(d)
		if err != nil {
			return nil, err
		}
		return SubmitTransfer{Request: req}, nil
	case TagTransferComplete:
		resp, err := decodeTransferResponse(d)
		if err != nil {
			return nil, err
		}
		return TransferComplete{Response: resp}, nil
	case TagPing:
		return Ping{}, nil
	case TagPong:
		return Pong{}, nil
	case TagError:
		msg, err := d.getString()
		if err != nil {
			return nil, err
		}
		return ErrorPayload{Message: msg}, nil
	default:
		return nil, fmt.Errorf("%w: tag %d", ErrInvalidMessageType, tag)
	}
}

func encodeDeviceInfo(e *encoder, d DeviceInfo) {
	e.putU32(uint32(d.ID))
	e.putU16(d.Vendor)
	e.putU16(d.Product)
	e.putByte(d.Bus)
	e.putByte(d.Address)
	e.putByte(d.Class)
	e.putByte(d.SubClass)
	e.putByte(d.Protocol)
	e.putByte(byte(d.Speed))
	e.putByte(d.NumConfigs)
	e.putOptionString(d.Manufacturer)
	e.putOptionString(d.ProductName)
	e.putOptionString(d.SerialNumber)
}

func decodeDeviceInfo(d *decoder) (DeviceInfo, error) {
	var info DeviceInfo
	var err error
	var u32 uint32
	var u16 uint16
	var b byte

	if u32, err = d.getU32(); err != nil {
		return info, err
	}
	info.ID = DeviceID(u32)
	if u16, err = d.getU16(); err != nil {
		return info, err
	}
	info.Vendor = u16
	if u16, err = d.getU16(); err != nil {
		return info, err
	}
	info.Product = u16
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.Bus = b
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.Address = b
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.Class = b
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.SubClass = b
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.Protocol = b
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.Speed = Speed(b)
	if b, err = d.getByte(); err != nil {
		return info, err
	}
	info.NumConfigs = b
	if info.Manufacturer, err = d.getOptionString(); err != nil {
		return info, err
	}
	if info.ProductName, err = d.getOptionString(); err != nil {
		return info, err
	}
	if info.SerialNumber, err = d.getOptionString(); err != nil {
		return info, err
	}
	return info, nil
}

func encodeAttachResult(e *encoder, r AttachResult) {
	e.putBool(r.Ok)
	if r.Ok {
		e.putU32(uint32(r.Handle))
		return
	}
	e.putVarint(uint64(r.Err.Kind))
	e.putString(r.Err.Message)
}

func decodeAttachResult(d *decoder) (AttachResult, error) {
	var r AttachResult
	ok, err := d.getBool()
	if err != nil {
		return r, err
	}
	r.Ok = ok
	if ok {
		h, err := d.getU32()
		if err != nil {
			return r, err
		}
		r.Handle = Handle(h)
		return r, nil
	}
	kind, err := d.getVarint()
	if err != nil {
		return r, err
	}
	msg, err := d.getString()
	if err != nil {
		return r, err
	}
	r.Err = AttachError{Kind: AttachErrorKind(kind), Message: msg}
	return r, nil
}

func encodeDetachResult(e *encoder, r DetachResult) {
	e.putBool(r.Ok)
	if r.Ok {
		return
	}
	e.putVarint(uint64(r.Err.Kind))
	e.putString(r.Err.Message)
}

func decodeDetachResult(d *decoder) (DetachResult, error) {
	var r DetachResult
	ok, err := d.getBool()
	if err != nil {
		return r, err
	}
	r.Ok = ok
	if ok {
		return r, nil
	}
	kind, err := d.getVarint()
	if err != nil {
		return r, err
	}
	msg, err := d.getString()
	if err != nil {
		return r, err
	}
	r.Err = DetachError{Kind: DetachErrorKind(kind), Message: msg}
	return r, nil
}

func encodeTransferRequest(e *encoder, r TransferRequest) {
	e.putU64(uint64(r.ID))
	e.putU32(uint32(r.Handle))
	e.putVarint(uint64(r.Kind))
	switch r.Kind {
	case TransferControl:
		e.putByte(r.BmRequestType)
		e.putByte(r.BRequest)
		e.putU16(r.WValue)
		e.putU16(r.WIndex)
		e.putBytes(r.Data)
	case TransferBulk:
		e.putByte(r.Endpoint)
		e.putU32(r.TimeoutMs)
		e.putBytes(r.Data)
	case TransferInterrupt:
		e.putByte(r.Endpoint)
		e.putU32(r.TimeoutMs)
		e.putBytes(r.Data)
		e.putBool(r.HasChecksum)
		if r.HasChecksum {
			e.putU32(r.Checksum)
		}
	default:
		e.fail(fmt.Errorf("%w: transfer kind %d", ErrInvalidMessageType, r.Kind))
	}
}

func decodeTransferRequest(d *decoder) (TransferRequest, error) {
	var r TransferRequest
	var err error
	var u64 uint64
	var u32 uint32

	if u64, err = d.getU64(); err != nil {
		return r, err
	}
	r.ID = RequestID(u64)
	if u32, err = d.getU32(); err != nil {
		return r, err
	}
	r.Handle = Handle(u32)
	kind, err := d.getVarint()
	if err != nil {
		return r, err
	}
	r.Kind = TransferKind(kind)

	switch r.Kind {
	case TransferControl:
		if r.BmRequestType, err = d.getByte(); err != nil {
			return r, err
		}
		if r.BRequest, err = d.getByte(); err != nil {
			return r, err
		}
		if r.WValue, err = d.getU16(); err != nil {
			return r, err
		}
		if r.WIndex, err = d.getU16(); err != nil {
			return r, err
		}
		if r.Data, err = d.getBytes(); err != nil {
			return r, err
		}
	case TransferBulk:
		if r.Endpoint, err = d.getByte(); err != nil {
			return r, err
		}
		if r.TimeoutMs, err = d.getU32(); err != nil {
			return r, err
		}
		if r.Data, err = d.getBytes(); err != nil {
			return r, err
		}
	case TransferInterrupt:
		if r.Endpoint, err = d.getByte(); err != nil {
			return r, err
		}
		if r.TimeoutMs, err = d.getU32(); err != nil {
			return r, err
		}
		if r.Data, err = d.getBytes(); err != nil {
			return r, err
		}
		if r.HasChecksum, err = d.getBool(); err != nil {
			return r, err
		}
		if r.HasChecksum {
			if r.Checksum, err = d.getU32(); err != nil {
				return r, err
			}
		}
	default:
		return r, fmt.Errorf("%w: transfer kind %d", ErrInvalidMessageType, r.Kind)
	}
	return r, nil
}

func encodeTransferResponse(e *encoder, r TransferResponse) {
	e.putU64(uint64(r.ID))
	e.putBool(r.Result.Ok)
	if r.Result.Ok {
		e.putBytes(r.Result.Data)
		e.putBool(r.Result.HasChecksum)
		if r.Result.HasChecksum {
			e.putU32(r.Result.Checksum)
		}
		return
	}
	e.putVarint(uint64(r.Result.Err.Kind))
	e.putString(r.Result.Err.Message)
}

func decodeTransferResponse(d *decoder) (TransferResponse, error) {
	var r TransferResponse
	u64, err := d.getU64()
	if err != nil {
		return r, err
	}
	r.ID = RequestID(u64)

	ok, err := d.getBool()
	if err != nil {
		return r, err
	}
	r.Result.Ok = ok
	if ok {
		if r.Result.Data, err = d.getBytes(); err != nil {
			return r, err
		}
		if r.Result.HasChecksum, err = d.getBool(); err != nil {
			return r, err
		}
		if r.Result.HasChecksum {
			if r.Result.Checksum, err = d.getU32(); err != nil {
				return r, err
			}
		}
		return r, nil
	}

	kind, err := d.getVarint()
	if err != nil {
		return r, err
	}
	msg, err := d.getString()
	if err != nil {
		return r, err
	}
	r.Result.Err = UsbError{Kind: UsbErrorKind(kind), Message: msg}
	return r, nil
}
