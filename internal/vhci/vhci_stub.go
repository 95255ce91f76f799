/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Non-Linux placeholder: spec section 4.6 scopes virtual-device
 * creation on Windows/macOS out (see Non-goals), but the client still
 * needs to compile and fail predictably there rather than not build at
 * all.
 */

//go:build !linux

package vhci

import (
	"context"

	"github.com/kimasplund/go-p2p-usb/internal/client"
	"github.com/kimasplund/go-p2p-usb/internal/usberr"
	"github.com/kimasplund/go-p2p-usb/internal/wire"
)

// Bridge is unimplemented on this platform.
type Bridge struct{}

// Attach always fails with usberr.ErrUnsupportedPlatform.
func Attach(ctx context.Context, proxy *client.DeviceProxy, speed wire.Speed, devid uint32) (*Bridge, error) {
	return nil, usberr.ErrUnsupportedPlatform
}

// Close is a no-op.
func (b *Bridge) Close() error { return nil }
