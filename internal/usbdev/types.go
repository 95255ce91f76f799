/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Shared type aliases to the wire schema, and the device manager's
 * internal device table entry.
 */

package usbdev

import "github.com/kimasplund/go-p2p-usb/internal/wire"

type (
	DeviceID = wire.DeviceID
	Handle   = wire.Handle
)

// deviceKey is the tuple that makes a DeviceID stable across
// re-enumeration, per spec section 3.
type deviceKey struct {
	bus     int
	addr    int
	vendor  uint16
	product uint16
	serial  string
}

// entry is one row of the device manager's bus-indexed table.
type entry struct {
	id   DeviceID
	key  deviceKey
	addr Addr
	info wire.DeviceInfo

	open   *openDevice // nil unless currently attached by someone
	holder string      // never set; handle ownership is kept in Manager.handles
}
