/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Enumeration scan and hot-plug debounce, generalized from the teacher's
 * hotplug.go polling loop but driven by AddrList.Diff (usbcommon.go's
 * UsbAddrList.Diff) instead of libusb hotplug callbacks, since gousb
 * exposes no hotplug API of its own.
 */

package usbdev

import (
	"time"

	"github.com/google/gousb"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// scan enumerates every currently attached device, applies the filter
// set, and updates the device table. It runs once at startup with no
// debounce so the initial device list is available immediately.
func (m *Manager) scan() {
	var current AddrList
	seen := make(map[Addr]*gousb.DeviceDesc)

	devs, _ := m.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if !m.filters.Allows(uint16(desc.Vendor), uint16(desc.Product)) {
			return false
		}
		a := Addr{Bus: desc.Bus, Address: desc.Address}
		current.Add(a)
		seen[a] = desc
		return false // never keep the device open just for enumeration
	})
	for _, d := range devs {
		d.Close()
	}

	added, removed := m.addrs.Diff(current)
	for _, a := range removed {
		m.retireDevice(a)
	}
	for _, a := range added {
		m.registerDevice(a, seen[a])
	}
	m.addrs = current
}

// pollHotplug re-enumerates and applies the 500ms debounce window (spec
// section 4.4): an address must remain in its new state (present or
// absent) across the whole window before an arrived/left event fires,
// so a device that blinks in and out during re-numbering doesn't
// generate spurious events.
func (m *Manager) pollHotplug() {
	var current AddrList
	seen := make(map[Addr]*gousb.DeviceDesc)

	devs, _ := m.ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if !m.filters.Allows(uint16(desc.Vendor), uint16(desc.Product)) {
			return false
		}
		a := Addr{Bus: desc.Bus, Address: desc.Address}
		current.Add(a)
		seen[a] = desc
		return false
	})
	for _, d := range devs {
		d.Close()
	}

	now := time.Now()
	added, removed := m.addrs.Diff(current)

	for _, a := range added {
		p := m.pending[a]
		if !p.present {
			p = pendingHotplug{present: true, fireAt: now.Add(debounceWindow)}
		}
		m.pending[a] = p
	}
	for _, a := range removed {
		p, ok := m.pending[a]
		if !ok || p.present {
			p = pendingHotplug{present: false, fireAt: now.Add(debounceWindow)}
		}
		m.pending[a] = p
	}

	for a, p := range m.pending {
		if now.Before(p.fireAt) {
			continue
		}
		if p.present {
			if _, known := m.byAddr[a]; !known {
				m.registerDevice(a, seen[a])
			}
		} else {
			if _, known := m.byAddr[a]; known {
				m.retireDevice(a)
			}
		}
		delete(m.pending, a)
	}

	m.addrs = current
}

// registerDevice assigns a DeviceID and emits DeviceArrived. An existing
// id is reused only when a device with the same
// (bus,addr,vendor,product,serial) tuple is still in the table;
// retireDevice deletes a departed device's entry, so a device that
// leaves and comes back receives a fresh id.
func (m *Manager) registerDevice(addr Addr, desc *gousb.DeviceDesc) {
	if desc == nil {
		return
	}

	dev, err := openByAddr(m.ctx, addr)
	var manufacturer, product, serial *string
	if err == nil && dev != nil {
		if s, e := dev.Manufacturer(); e == nil && s != "" {
			manufacturer = &s
		}
		if s, e := dev.Product(); e == nil && s != "" {
			product = &s
		}
		if s, e := dev.SerialNumber(); e == nil && s != "" {
			serial = &s
		}
		dev.Close()
	}

	key := deviceKey{
		bus:     addr.Bus,
		addr:    addr.Address,
		vendor:  uint16(desc.Vendor),
		product: uint16(desc.Product),
	}
	if serial != nil {
		key.serial = *serial
	}

	id, ok := m.findExistingID(key)
	if !ok {
		id = m.nextID
		m.nextID++
	}

	info := wire.DeviceInfo{
		ID:           id,
		Vendor:       uint16(desc.Vendor),
		Product:      uint16(desc.Product),
		Bus:          uint8(desc.Bus),
		Address:      uint8(desc.Address),
		Class:        uint8(desc.Class),
		SubClass:     uint8(desc.SubClass),
		Protocol:     uint8(desc.Protocol),
		Speed:        mapSpeed(desc.Speed),
		NumConfigs:   uint8(len(desc.Configs)),
		Manufacturer: manufacturer,
		ProductName:  product,
		SerialNumber: serial,
	}

	m.devices[id] = &entry{id: id, key: key, addr: addr, info: info}
	m.byAddr[addr] = id

	m.emit(Event{Kind: EventDeviceArrived, DeviceID: id})
}

// retireDevice drops a device from the table, invalidating every handle
// currently attached to it and emitting one DeviceLeft per invalidated
// handle, addressed to that handle's peer; a device with no handles
// leaves without any DeviceLeft event.
func (m *Manager) retireDevice(addr Addr) {
	id, ok := m.byAddr[addr]
	if !ok {
		return
	}
	delete(m.byAddr, addr)

	if e, ok := m.devices[id]; ok && e.open != nil {
		e.open.close()
	}
	delete(m.devices, id)

	for h, he := range m.handles {
		if he.device != id {
			continue
		}
		delete(m.handles, h)
		m.emit(Event{Kind: EventDeviceLeft, DeviceID: id, InvalidatedHandle: h, PeerID: he.peer})
	}
}

func (m *Manager) findExistingID(key deviceKey) (DeviceID, bool) {
	for id, e := range m.devices {
		if e.key == key {
			return id, true
		}
	}
	return 0, false
}

// emit fans an event out to subscribed connection handlers without
// blocking the worker loop (spec section 4.3(2)): a DeviceArrived event
// has no single owner and goes to every connected peer; a DeviceLeft
// event carries the peer whose handle it invalidated and is routed to
// that peer alone. Each subscriber's channel drops its oldest pending
// event on overflow rather than stalling USB servicing, since the
// aggregator downstream only cares about current state, not a complete
// history.
func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if ev.PeerID != "" {
		if ch, ok := m.subs[ev.PeerID]; ok {
			deliver(ch, ev)
		}
		return
	}
	for _, ch := range m.subs {
		deliver(ch, ev)
	}
}

func deliver(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func mapSpeed(s gousb.Speed) wire.Speed {
	switch s {
	case gousb.SpeedLow:
		return wire.SpeedLow
	case gousb.SpeedFull:
		return wire.SpeedFull
	case gousb.SpeedHigh:
		return wire.SpeedHigh
	case gousb.SpeedSuper:
		return wire.SpeedSuper
	default:
		return wire.SpeedFull
	}
}
