/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Device manager and sync USB worker (spec section 4.4). The worker
 * runs on a dedicated goroutine pinned to its OS thread (the closest Go
 * equivalent of "a single dedicated OS thread owns the USB context",
 * spec section 5, since gousb/libusb demand exclusive single-threaded
 * use the same way the teacher's cgo libusb binding does). gousb pumps
 * libusb's event loop on its own background goroutine, so the worker
 * here only has to drain the command channel and run the periodic
 * hot-plug poll.
 */

package usbdev

import (
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

const (
	hotplugPollInterval = 250 * time.Millisecond
	debounceWindow      = 500 * time.Millisecond
)

// command is the async->worker command union. Exactly one of the typed
// fields is meaningful, selected by kind; each command carries its own
// one-shot reply channel so the caller can await just this command.
type command struct {
	kind    cmdKind
	peerID  string
	id      DeviceID
	handle  Handle
	req     wire.TransferRequest
	listRep reply[[]wire.DeviceInfo]
	attRep  reply[attachResult]
	detRep  reply[error]
	subRep  reply[wire.TransferResult]
	doneRep reply[struct{}]
}

type cmdKind int

const (
	cmdList cmdKind = iota
	cmdAttach
	cmdDetach
	cmdSubmit
	cmdDetachPeer
	cmdShutdown
)

type attachResult struct {
	handle Handle
	err    error
}

// Manager owns the USB context and every open device; it is only ever
// touched from the worker goroutine once Run starts (invariant I5).
type Manager struct {
	log     *logutil.Logger
	filters FilterSet

	cmdCh chan command

	subMu sync.Mutex
	subs  map[string]chan Event

	ctx *gousb.Context

	addrs   AddrList
	devices map[DeviceID]*entry
	byAddr  map[Addr]DeviceID
	nextID  DeviceID

	handles    map[Handle]handleEntry
	nextHandle Handle

	pending map[Addr]pendingHotplug
}

type handleEntry struct {
	device DeviceID
	peer   string
}

type pendingHotplug struct {
	present bool // true if the device is present as of the last scan
	fireAt  time.Time
}

// NewManager constructs a Manager. Call Run in its own goroutine before
// issuing any command.
func NewManager(log *logutil.Logger, filters FilterSet) *Manager {
	return &Manager{
		log:     log,
		filters: filters,
		cmdCh:   make(chan command, commandQueueCapacity),
		subs:    make(map[string]chan Event),
		devices: make(map[DeviceID]*entry),
		byAddr:  make(map[Addr]DeviceID),
		handles: make(map[Handle]handleEntry),
		pending: make(map[Addr]pendingHotplug),
		nextID:  1,
	}
}

// Subscribe registers a per-peer event channel so every connected
// peer's handler sees its own copy of DeviceArrived/DeviceLeft events
// (spec section 4.3(2)) instead of racing the rest of the peers for a
// single shared channel. The returned func unsubscribes and must be
// called exactly once, typically via defer.
func (m *Manager) Subscribe(peerID string) (<-chan Event, func()) {
	ch := make(chan Event, eventQueueCapacity)
	m.subMu.Lock()
	m.subs[peerID] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		delete(m.subs, peerID)
		m.subMu.Unlock()
	}
}

// Run is the worker loop; call it in a dedicated goroutine. It blocks
// until Shutdown is issued.
func (m *Manager) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx := gousb.NewContext()
	defer ctx.Close()
	m.ctx = ctx

	m.scan() // initial enumeration, no debounce

	ticker := time.NewTicker(hotplugPollInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-m.cmdCh:
			if m.dispatch(cmd) {
				return nil
			}

		case <-ticker.C:
			m.pollHotplug()
		}
	}
}

func (m *Manager) dispatch(cmd command) (shutdown bool) {
	defer func() {
		// Spec section 4.4: panics in a command handler are caught; the
		// worker thread does not die.
		if r := recover(); r != nil {
			m.log.Error("usbdev: recovered from panic in command handler: %v", r)
		}
	}()

	switch cmd.kind {
	case cmdList:
		cmd.listRep <- m.listDevices()
	case cmdAttach:
		h, err := m.attach(cmd.id, cmd.peerID)
		cmd.attRep <- attachResult{handle: h, err: err}
	case cmdDetach:
		cmd.detRep <- m.detach(cmd.handle)
	case cmdSubmit:
		cmd.subRep <- m.submit(cmd.peerID, cmd.req)
	case cmdDetachPeer:
		m.detachPeer(cmd.peerID)
		cmd.doneRep <- struct{}{}
	case cmdShutdown:
		for id, e := range m.devices {
			if e.open != nil {
				e.open.close()
			}
			delete(m.devices, id)
		}
		cmd.doneRep <- struct{}{}
		return true
	}
	return false
}

func (m *Manager) listDevices() []wire.DeviceInfo {
	out := make([]wire.DeviceInfo, 0, len(m.devices))
	for _, id := range m.sortedIDs() {
		out = append(out, m.devices[id].info)
	}
	return out
}

func (m *Manager) sortedIDs() []DeviceID {
	ids := make([]DeviceID, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

func (m *Manager) attach(id DeviceID, peerID string) (Handle, error) {
	e, ok := m.devices[id]
	if !ok {
		return 0, wire.AttachError{Kind: wire.AttachErrDeviceNotFound}
	}

	if e.open == nil {
		dev, err := openByAddr(m.ctx, e.addr)
		if err != nil {
			return 0, wire.AttachError{Kind: wire.AttachErrPermissionDenied, Message: err.Error()}
		}
		e.open = newOpenDevice(dev)
	}

	m.nextHandle++
	h := m.nextHandle
	m.handles[h] = handleEntry{device: id, peer: peerID}
	return h, nil
}

func (m *Manager) detach(h Handle) error {
	he, ok := m.handles[h]
	if !ok {
		return wire.DetachError{Kind: wire.DetachErrNotAttached}
	}
	delete(m.handles, h)

	// Close the underlying device only once no handle references it.
	stillHeld := false
	for _, other := range m.handles {
		if other.device == he.device {
			stillHeld = true
			break
		}
	}
	if !stillHeld {
		if e, ok := m.devices[he.device]; ok && e.open != nil {
			e.open.close()
			e.open = nil
		}
	}
	return nil
}

// detachPeer releases every handle held by peerID, used on connection
// teardown (spec section 4.3's cleanup-on-disconnect rule).
func (m *Manager) detachPeer(peerID string) {
	var toDrop []Handle
	for h, he := range m.handles {
		if he.peer == peerID {
			toDrop = append(toDrop, h)
		}
	}
	for _, h := range toDrop {
		m.detach(h)
	}
}

func (m *Manager) submit(peerID string, req wire.TransferRequest) wire.TransferResult {
	he, ok := m.handles[req.Handle]
	if !ok || he.peer != peerID {
		return wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrNotFound, "")}
	}
	e, ok := m.devices[he.device]
	if !ok || e.open == nil {
		return wire.TransferResult{Err: wire.NewUsbError(wire.UsbErrNotFound, "")}
	}
	return e.open.execTransfer(req)
}
