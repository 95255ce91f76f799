/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * DeviceProxy: the client-side handle a VHCI bridge operates through to
 * submit transfers against one remote device (spec section 4.5/4.6's
 * retry policy: retry only on transport failure or a retryable
 * UsbError, bounded at three attempts with linear backoff).
 */

package client

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

var errNotConnected = errors.New("client: not connected")

const (
	maxTransferAttempts = 3
	retryBackoffUnit    = 100 * time.Millisecond
)

// proxyState discriminates DeviceProxy's two states (spec section 3).
type proxyState int

const (
	proxyDetached proxyState = iota
	proxyAttached
)

// DeviceProxy represents one client-side attachment to a remote
// device, identified by DeviceID until attached and by Handle after.
type DeviceProxy struct {
	client   *Client
	deviceID wire.DeviceID

	state  proxyState
	handle wire.Handle

	nextReqID uint64
}

// NewDeviceProxy builds a DeviceProxy in the Detached state.
func NewDeviceProxy(c *Client, id wire.DeviceID) *DeviceProxy {
	return &DeviceProxy{client: c, deviceID: id, state: proxyDetached}
}

// Attach is idempotent: calling it while already attached returns the
// existing handle without issuing a new AttachRequest.
func (p *DeviceProxy) Attach(ctx context.Context) (wire.Handle, error) {
	if p.state == proxyAttached {
		return p.handle, nil
	}

	resp, err := p.client.request(ctx, wire.AttachRequest{DeviceID: p.deviceID})
	if err != nil {
		return 0, err
	}
	attachResp, ok := resp.(wire.AttachResponse)
	if !ok {
		return 0, errors.New("client: unexpected attach response")
	}
	if !attachResp.Result.Ok {
		return 0, attachResp.Result.Err
	}

	p.handle = attachResp.Result.Handle
	p.state = proxyAttached
	return p.handle, nil
}

// Detach releases the device. Calling it while already detached is a
// no-op.
func (p *DeviceProxy) Detach(ctx context.Context) error {
	if p.state != proxyAttached {
		return nil
	}

	resp, err := p.client.request(ctx, wire.DetachRequest{Handle: p.handle})
	p.state = proxyDetached
	if err != nil {
		return err
	}
	detachResp, ok := resp.(wire.DetachResponse)
	if !ok {
		return errors.New("client: unexpected detach response")
	}
	if !detachResp.Result.Ok {
		return detachResp.Result.Err
	}
	return nil
}

// Submit issues one transfer against the attached device, retrying per
// spec section 4.5/4.7: up to maxTransferAttempts total attempts, only
// when the previous attempt failed at the transport level or returned a
// retryable UsbError kind (Timeout, Busy, Io).
func (p *DeviceProxy) Submit(ctx context.Context, req wire.TransferRequest) (wire.TransferResult, error) {
	if p.state != proxyAttached {
		return wire.TransferResult{}, errors.New("client: device not attached")
	}
	req.Handle = p.handle
	req.ID = wire.RequestID(atomic.AddUint64(&p.nextReqID, 1))

	var lastResult wire.TransferResult
	var lastErr error

	for attempt := 1; attempt <= maxTransferAttempts; attempt++ {
		resp, err := p.client.request(ctx, wire.SubmitTransfer{Request: req})
		if err != nil {
			lastErr = err
			if attempt < maxTransferAttempts {
				p.wait(ctx, attempt)
				continue
			}
			return wire.TransferResult{}, lastErr
		}

		complete, ok := resp.(wire.TransferComplete)
		if !ok {
			return wire.TransferResult{}, errors.New("client: unexpected transfer response")
		}
		lastResult = complete.Response.Result
		lastErr = nil

		if lastResult.Ok || !lastResult.Err.Retryable() || attempt == maxTransferAttempts {
			return lastResult, nil
		}
		p.wait(ctx, attempt)
	}

	return lastResult, lastErr
}

func (p *DeviceProxy) wait(ctx context.Context, attempt int) {
	t := time.NewTimer(time.Duration(attempt) * retryBackoffUnit)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Handle returns the current attach handle; only meaningful while
// Attached.
func (p *DeviceProxy) Handle() wire.Handle { return p.handle }

// Attached reports whether this proxy currently holds a live handle.
func (p *DeviceProxy) Attached() bool { return p.state == proxyAttached }
