/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Public, goroutine-safe entry points into the device manager. Every
 * method here sends a command across the bounded channel and blocks on
 * the command's own reply channel; the actual work always happens on
 * the worker goroutine (invariant I5).
 */

package usbdev

import (
	"context"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// ListDevices returns a snapshot of every currently visible device.
func (m *Manager) ListDevices(ctx context.Context) ([]wire.DeviceInfo, error) {
	rep := newReply[[]wire.DeviceInfo]()
	cmd := command{kind: cmdList, listRep: rep}
	if err := m.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case v := <-rep:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Attach opens id on behalf of peerID and returns a fresh handle.
func (m *Manager) Attach(ctx context.Context, id DeviceID, peerID string) (Handle, error) {
	rep := newReply[attachResult]()
	cmd := command{kind: cmdAttach, id: id, peerID: peerID, attRep: rep}
	if err := m.send(ctx, cmd); err != nil {
		return 0, err
	}
	select {
	case r := <-rep:
		return r.handle, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Detach releases a previously attached handle.
func (m *Manager) Detach(ctx context.Context, h Handle) error {
	rep := newReply[error]()
	cmd := command{kind: cmdDetach, handle: h, detRep: rep}
	if err := m.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-rep:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit executes one transfer on the device owning req.Handle, on
// behalf of peerID. If req.Handle was not attached by peerID, it
// returns a NotFound transfer error rather than touching the device.
func (m *Manager) Submit(ctx context.Context, peerID string, req wire.TransferRequest) (wire.TransferResult, error) {
	rep := newReply[wire.TransferResult]()
	cmd := command{kind: cmdSubmit, peerID: peerID, req: req, subRep: rep}
	if err := m.send(ctx, cmd); err != nil {
		return wire.TransferResult{}, err
	}
	select {
	case r := <-rep:
		return r, nil
	case <-ctx.Done():
		return wire.TransferResult{}, ctx.Err()
	}
}

// DetachPeer releases every handle peerID holds, used on connection
// teardown (spec section 4.3's cleanup-on-disconnect rule).
func (m *Manager) DetachPeer(ctx context.Context, peerID string) {
	rep := newReply[struct{}]()
	cmd := command{kind: cmdDetachPeer, peerID: peerID, doneRep: rep}
	if m.send(ctx, cmd) == nil {
		<-rep
	}
}

// Shutdown stops the worker loop and closes every open device.
func (m *Manager) Shutdown(ctx context.Context) error {
	rep := newReply[struct{}]()
	cmd := command{kind: cmdShutdown, doneRep: rep}
	if err := m.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case <-rep:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) send(ctx context.Context, cmd command) error {
	select {
	case m.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
