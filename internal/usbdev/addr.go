/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * USB bus addresses and sorted-list diffing, lifted from the teacher's
 * usbcommon.go UsbAddr/UsbAddrList: the device manager's enumeration
 * scan diffs the previous and current address lists the same way the
 * teacher diffs them to decide what to open/close.
 */

package usbdev

import (
	"fmt"
	"sort"
)

// Addr identifies a device's physical bus position.
type Addr struct {
	Bus     int
	Address int
}

func (a Addr) String() string {
	return fmt.Sprintf("bus %03d addr %03d", a.Bus, a.Address)
}

func (a Addr) less(b Addr) bool {
	return a.Bus < b.Bus || (a.Bus == b.Bus && a.Address < b.Address)
}

// AddrList is a list of Addr kept sorted in ascending order; always
// mutate it through Add to preserve that invariant.
type AddrList []Addr

// Add inserts addr into the list, preserving sort order and ignoring
// duplicates.
func (list *AddrList) Add(addr Addr) {
	i := sort.Search(len(*list), func(n int) bool { return !(*list)[n].less(addr) })
	if i < len(*list) && (*list)[i] == addr {
		return
	}
	*list = append(*list, Addr{})
	copy((*list)[i+1:], (*list)[i:])
	(*list)[i] = addr
}

// Find returns the index of addr in list, or -1.
func (list AddrList) Find(addr Addr) int {
	i := sort.Search(len(list), func(n int) bool { return !list[n].less(addr) })
	if i < len(list) && list[i] == addr {
		return i
	}
	return -1
}

// Diff computes the addresses present in other but not in list (added)
// and present in list but not in other (removed).
func (list AddrList) Diff(other AddrList) (added, removed AddrList) {
	for _, a := range other {
		if list.Find(a) < 0 {
			added.Add(a)
		}
	}
	for _, a := range list {
		if other.Find(a) < 0 {
			removed.Add(a)
		}
	}
	return
}
