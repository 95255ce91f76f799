package client

import (
	"context"
	"testing"

	"github.com/kimasplund/go-p2p-usb/internal/health"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

func TestDeviceProxyDetachNoopWhenNotAttached(t *testing.T) {
	c := &Client{monitor: health.NewMonitor(), closed: make(chan struct{})}
	p := NewDeviceProxy(c, 1)

	if err := p.Detach(context.Background()); err != nil {
		t.Fatalf("Detach on unattached proxy should be a no-op, got %v", err)
	}
}

func TestDeviceProxyAttachFailsWithoutConnection(t *testing.T) {
	c := &Client{monitor: health.NewMonitor(), closed: make(chan struct{})}
	p := NewDeviceProxy(c, 1)

	if _, err := p.Attach(context.Background()); err != errNotConnected {
		t.Fatalf("expected errNotConnected, got %v", err)
	}
	if p.Attached() {
		t.Fatalf("proxy should not be attached after a failed attach")
	}
}

func TestDeviceProxySubmitRequiresAttach(t *testing.T) {
	c := &Client{monitor: health.NewMonitor(), closed: make(chan struct{})}
	p := NewDeviceProxy(c, 1)

	if _, err := p.Submit(context.Background(), wire.TransferRequest{}); err == nil {
		t.Fatalf("expected error submitting on a detached proxy")
	}
}
