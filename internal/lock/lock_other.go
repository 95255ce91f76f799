/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Non-unix stub: this module's only real deployment target is Linux
 * (the VHCI bridge requires it), so other platforms simply skip the
 * single-instance guard rather than pull in a second locking strategy.
 */

//go:build !unix

package lock

import "errors"

// ErrBusy is never returned on this platform.
var ErrBusy = errors.New("lock: already held by another process")

// File is an inert placeholder on non-unix platforms.
type File struct{}

// Acquire is a no-op on non-unix platforms.
func Acquire(path string) (*File, error) {
	return &File{}, nil
}

// Release is a no-op on non-unix platforms.
func (l *File) Release() error { return nil }
