/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * connHandler.dispatch unit tests: the request/response table doesn't
 * need a live QUIC connection, only a running device manager.
 */

package server

import (
	"context"
	"testing"
	"time"

	"github.com/kimasplund/go-p2p-usb/internal/health"
	"github.com/kimasplund/go-p2p-usb/internal/logutil"
	"github.com/kimasplund/go-p2p-usb/internal/ratelimit"
	"github.com/kimasplund/go-p2p-usb/internal/usbdev"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

func newTestHandler(t *testing.T) *connHandler {
	t.Helper()
	mgr := usbdev.NewManager(logutil.New(), nil)
	go mgr.Run()
	t.Cleanup(func() {
		mgr.Shutdown(context.Background()) //nolint:errcheck
	})

	srv := &Server{Manager: mgr, Log: logutil.New()}
	return &connHandler{srv: srv, peerID: "test-peer", monitor: health.NewMonitor(), since: time.Now()}
}

func TestDispatchPingReturnsPong(t *testing.T) {
	h := newTestHandler(t)
	resp := h.dispatch(wire.Ping{})
	if _, ok := resp.(wire.Pong); !ok {
		t.Fatalf("dispatch(Ping) = %T, want Pong", resp)
	}
}

func TestDispatchListDevicesEmpty(t *testing.T) {
	h := newTestHandler(t)
	resp := h.dispatch(wire.ListDevicesRequest{})
	list, ok := resp.(wire.ListDevicesResponse)
	if !ok {
		t.Fatalf("dispatch(ListDevicesRequest) = %T, want ListDevicesResponse", resp)
	}
	if len(list.Devices) != 0 {
		t.Fatalf("expected no devices without real hardware, got %d", len(list.Devices))
	}
}

func TestDispatchAttachUnknownDeviceFails(t *testing.T) {
	h := newTestHandler(t)
	resp := h.dispatch(wire.AttachRequest{DeviceID: 999})
	attach, ok := resp.(wire.AttachResponse)
	if !ok {
		t.Fatalf("dispatch(AttachRequest) = %T, want AttachResponse", resp)
	}
	if attach.Result.Ok {
		t.Fatal("expected attach of an unknown device to fail")
	}
	if attach.Result.Err.Kind != wire.AttachErrDeviceNotFound {
		t.Fatalf("got error kind %v, want AttachErrDeviceNotFound", attach.Result.Err.Kind)
	}
}

func TestDispatchUnsupportedPayload(t *testing.T) {
	h := newTestHandler(t)
	resp := h.dispatch(wire.ErrorPayload{Message: "not a real request"})
	if _, ok := resp.(wire.ErrorPayload); !ok {
		t.Fatalf("dispatch(unsupported) = %T, want ErrorPayload", resp)
	}
}

func TestDispatchRespectsRateLimit(t *testing.T) {
	h := newTestHandler(t)
	h.srv.Limiter = ratelimit.NewLimiter(1, 0) // one token, never refills within the test

	first := h.dispatch(wire.SubmitTransfer{Request: wire.TransferRequest{ID: 1}})
	firstDone, ok := first.(wire.TransferComplete)
	if !ok {
		t.Fatalf("first request should pass the limiter, got %T", first)
	}
	if !firstDone.Response.Result.Ok && firstDone.Response.Result.Err.Kind == wire.UsbErrBusy {
		t.Fatal("first request should pass the limiter, got Busy")
	}

	second := h.dispatch(wire.SubmitTransfer{Request: wire.TransferRequest{ID: 2}})
	done, ok := second.(wire.TransferComplete)
	if !ok {
		t.Fatalf("second request should be rate limited, got %T", second)
	}
	if done.Response.Result.Ok || done.Response.Result.Err.Kind != wire.UsbErrBusy {
		t.Fatal("expected a Busy transfer error from the rate limiter")
	}
}
