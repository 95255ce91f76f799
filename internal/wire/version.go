/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Wire protocol version gate
 */

package wire

import "fmt"

// Version is the (major, minor, patch) triple carried by every envelope.
//
// Compatibility rule: major must match exactly; minor differences are
// accepted in both directions; patch is informational only.
type Version struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Current is the protocol version this implementation emits on every
// outgoing envelope.
var Current = Version{Major: 1, Minor: 0, Patch: 0}

// String returns a human-readable "major.minor.patch" form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Validate checks v against Current per the major/minor compatibility
// rule. Patch is never checked.
func Validate(v Version) error {
	if v.Major != Current.Major {
		return fmt.Errorf("incompatible protocol version %s (have %s): %w", v, Current, ErrIncompatibleVersion)
	}
	return nil
}
