/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Device filters: "usb.filters" config entries of the form "VVVV:PPPP",
 * spec section 4.4 "Filtered devices are invisible."
 */

package usbdev

import "fmt"

// FilterSet is a list of "VVVV:PPPP" glob patterns (case-insensitive
// hex). An empty FilterSet allows every device.
type FilterSet []string

// Allows reports whether (vendor, product) passes the filter set.
func (fs FilterSet) Allows(vendor, product uint16) bool {
	if len(fs) == 0 {
		return true
	}
	key := fmt.Sprintf("%04x:%04x", vendor, product)
	for _, pattern := range fs {
		if globMatch(key, normalizePattern(pattern)) >= 0 {
			return true
		}
	}
	return false
}

func normalizePattern(p string) string {
	out := make([]byte, len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
