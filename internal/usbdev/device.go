/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Device open/transfer, generalized from the teacher's usbio_libusb.go
 * transfer methods but built on the real github.com/google/gousb
 * binding rather than a hand-rolled cgo shim.
 */

package usbdev

import (
	"fmt"

	"github.com/google/gousb"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// defaultInBufferSize is used for IN transfers when no endpoint
// descriptor is available to derive a tighter max-packet size, per spec
// section 3 "size implied by endpoint max packet size and a server-side
// default buffer".
const defaultInBufferSize = 16 * 1024

// openDevice is an opened USB device plus the interfaces/endpoints it
// has lazily claimed so far. Exclusive mutable access lives only on the
// worker goroutine (invariant I5).
type openDevice struct {
	dev        *gousb.Device
	configs    map[int]*gousb.Config
	interfaces map[ifKey]*gousb.Interface
	inEps      map[epKey]*gousb.InEndpoint
	outEps     map[epKey]*gousb.OutEndpoint
	epRoute    map[int]ifKey
}

type ifKey struct {
	cfg, num, alt int
}

type epKey struct {
	cfg, ifnum, alt, ep int
}

func openByAddr(ctx *gousb.Context, addr Addr) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == addr.Bus && desc.Address == addr.Address
	})
	if len(devs) == 0 {
		if err == nil {
			err = fmt.Errorf("usbdev: %s: device not found", addr)
		}
		return nil, err
	}
	chosen := devs[0]
	for _, d := range devs[1:] {
		d.Close()
	}
	return chosen, nil
}

func newOpenDevice(dev *gousb.Device) *openDevice {
	o := &openDevice{
		dev:        dev,
		configs:    make(map[int]*gousb.Config),
		interfaces: make(map[ifKey]*gousb.Interface),
		inEps:      make(map[epKey]*gousb.InEndpoint),
		outEps:     make(map[epKey]*gousb.OutEndpoint),
		epRoute:    make(map[int]ifKey),
	}
	o.buildEndpointRoutes()
	return o
}

// buildEndpointRoutes walks the device's descriptor tree once at open
// time, recording which (config, interface, altsetting) claims each
// endpoint address. The wire protocol's Bulk/Interrupt requests carry
// only an endpoint address (spec section 3), so this is how the worker
// finds which interface to lazily claim for a given transfer.
func (o *openDevice) buildEndpointRoutes() {
	for cfgNum, cfg := range o.dev.Desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				for epAddr := range alt.Endpoints {
					k := ifKey{cfgNum, iface.Number, alt.Alternate}
					if _, exists := o.epRoute[int(epAddr)]; !exists {
						o.epRoute[int(epAddr)] = k
					}
				}
			}
		}
	}
}

// close releases every claimed interface/config and closes the device.
func (o *openDevice) close() {
	for _, iface := range o.interfaces {
		iface.Close()
	}
	for _, cfg := range o.configs {
		cfg.Close()
	}
	o.dev.Close()
}

// claimInterface lazily claims (cfg, num, alt), the first transfer on a
// given interface, per spec section 4.4 "Claim no interfaces implicitly".
func (o *openDevice) claimInterface(cfg, num, alt int) (*gousb.Interface, error) {
	k := ifKey{cfg, num, alt}
	if iface, ok := o.interfaces[k]; ok {
		return iface, nil
	}

	c, ok := o.configs[cfg]
	if !ok {
		var err error
		c, err = o.dev.Config(cfg)
		if err != nil {
			return nil, err
		}
		o.configs[cfg] = c
	}

	iface, err := c.Interface(num, alt)
	if err != nil {
		return nil, err
	}
	o.interfaces[k] = iface
	return iface, nil
}

func (o *openDevice) inEndpoint(cfg, num, alt, ep int) (*gousb.InEndpoint, error) {
	k := epKey{cfg, num, alt, ep}
	if e, ok := o.inEps[k]; ok {
		return e, nil
	}
	iface, err := o.claimInterface(cfg, num, alt)
	if err != nil {
		return nil, err
	}
	e, err := iface.InEndpoint(ep)
	if err != nil {
		return nil, err
	}
	o.inEps[k] = e
	return e, nil
}

func (o *openDevice) outEndpoint(cfg, num, alt, ep int) (*gousb.OutEndpoint, error) {
	k := epKey{cfg, num, alt, ep}
	if e, ok := o.outEps[k]; ok {
		return e, nil
	}
	iface, err := o.claimInterface(cfg, num, alt)
	if err != nil {
		return nil, err
	}
	e, err := iface.OutEndpoint(ep)
	if err != nil {
		return nil, err
	}
	o.outEps[k] = e
	return e, nil
}

// execTransfer runs one transfer to completion on the calling
// goroutine, which must be the dedicated USB worker goroutine
// (invariant I5). See spec section 4.4's Control/Bulk/Interrupt table.
func (o *openDevice) execTransfer(req wire.TransferRequest) wire.TransferResult {
	switch req.Kind {
	case wire.TransferControl:
		return o.execControl(req)
	case wire.TransferBulk, wire.TransferInterrupt:
		return o.execBulkOrInterrupt(req)
	default:
		return wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrOther, "unsupported transfer kind")}
	}
}

func (o *openDevice) execControl(req wire.TransferRequest) wire.TransferResult {
	in := req.BmRequestType&0x80 != 0
	buf := req.Data
	if in {
		size := len(req.Data)
		if size == 0 {
			size = defaultInBufferSize
		}
		buf = make([]byte, size)
	}

	n, err := o.dev.Control(req.BmRequestType, req.BRequest, req.WValue, req.WIndex, buf)
	if err != nil {
		return wire.TransferResult{Err: mapGousbError(err)}
	}

	if in {
		return wire.TransferResult{Ok: true, Data: buf[:n]}
	}
	return wire.TransferResult{Ok: true, Data: []byte{}}
}

func (o *openDevice) execBulkOrInterrupt(req wire.TransferRequest) wire.TransferResult {
	route, ok := o.epRoute[int(req.Endpoint)]
	if !ok {
		return wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrNotFound, "endpoint not found in any interface")}
	}

	if req.Kind == wire.TransferInterrupt && !req.IsIn() && req.HasChecksum {
		if !wire.VerifyChecksum(req.Data, req.Checksum) {
			return wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrIo, "checksum mismatch")}
		}
	}

	if req.IsIn() {
		ep, err := o.inEndpoint(route.cfg, route.num, route.alt, int(req.Endpoint))
		if err != nil {
			return wire.TransferResult{Err: mapGousbError(err)}
		}
		size := defaultInBufferSize
		if ep.Desc.MaxPacketSize > 0 {
			size = ep.Desc.MaxPacketSize
		}
		buf := make([]byte, size)
		n, err := ep.Read(buf)
		if err != nil {
			return wire.TransferResult{Err: mapGousbError(err)}
		}
		result := wire.TransferResult{Ok: true, Data: buf[:n]}
		if req.Kind == wire.TransferInterrupt {
			result.HasChecksum = true
			result.Checksum = wire.ComputeChecksum(result.Data)
		}
		return result
	}

	ep, err := o.outEndpoint(route.cfg, route.num, route.alt, int(req.Endpoint))
	if err != nil {
		return wire.TransferResult{Err: mapGousbError(err)}
	}
	if _, err := ep.Write(req.Data); err != nil {
		return wire.TransferResult{Err: mapGousbError(err)}
	}
	return wire.TransferResult{Ok: true, Data: []byte{}}
}

// mapGousbError maps a gousb/libusb error to the wire UsbError
// taxonomy, per spec section 4.4's mapping table.
func mapGousbError(err error) wire.UsbError {
	if err == nil {
		return wire.UsbError{}
	}

	switch err {
	case gousb.ErrorTimeout:
		return wire.NewUsbError(wire.UsbErrTimeout, "")
	case gousb.ErrorBusy:
		return wire.NewUsbError(wire.UsbErrBusy, "")
	case gousb.ErrorIO:
		return wire.NewUsbError(wire.UsbErrIo, "")
	case gousb.ErrorPipe:
		// gousb has no separate stall error; libusb reports a stalled
		// endpoint as LIBUSB_ERROR_PIPE, the same code as a broken
		// pipe, so Stall is unreachable here and Pipe covers both.
		return wire.NewUsbError(wire.UsbErrPipe, "")
	case gousb.ErrorNoDevice:
		return wire.NewUsbError(wire.UsbErrNoDevice, "")
	case gousb.ErrorAccess:
		return wire.NewUsbError(wire.UsbErrPermissionDenied, "")
	case gousb.ErrorOverflow:
		return wire.NewUsbError(wire.UsbErrOverflow, "")
	default:
		return wire.NewUsbError(wire.UsbErrOther, err.Error())
	}
}
