/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Common sentinel errors shared across packages, generalized from the
 * teacher's err.go.
 */

package usberr

import "errors"

var (
	ErrShutdown             = errors.New("shutdown requested")
	ErrNotImplemented       = errors.New("not implemented")
	ErrUnsupportedPlatform  = errors.New("unsupported on this platform")
	ErrAllowlistRejected    = errors.New("peer rejected by allowlist")
	ErrHandleNotFound       = errors.New("handle not found")
	ErrDeviceNotFound       = errors.New("device not found")
	ErrAlreadyAttached      = errors.New("device already attached")
	ErrDetachNotAttached    = errors.New("device not attached")
	ErrIsochronousUnsupported = errors.New("isochronous transfers are not implemented")
)
