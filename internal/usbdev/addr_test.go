package usbdev

import "testing"

func TestAddrListDiff(t *testing.T) {
	var before AddrList
	before.Add(Addr{Bus: 1, Address: 2})
	before.Add(Addr{Bus: 1, Address: 3})

	var after AddrList
	after.Add(Addr{Bus: 1, Address: 3})
	after.Add(Addr{Bus: 1, Address: 4})

	added, removed := before.Diff(after)

	if len(added) != 1 || added[0] != (Addr{Bus: 1, Address: 4}) {
		t.Fatalf("added = %v, want [{1 4}]", added)
	}
	if len(removed) != 1 || removed[0] != (Addr{Bus: 1, Address: 2}) {
		t.Fatalf("removed = %v, want [{1 2}]", removed)
	}
}

func TestAddrListAddDedup(t *testing.T) {
	var list AddrList
	list.Add(Addr{Bus: 2, Address: 1})
	list.Add(Addr{Bus: 1, Address: 1})
	list.Add(Addr{Bus: 1, Address: 1})

	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0] != (Addr{Bus: 1, Address: 1}) {
		t.Fatalf("list not sorted: %v", list)
	}
}

func TestAddrListFind(t *testing.T) {
	var list AddrList
	list.Add(Addr{Bus: 1, Address: 5})

	if list.Find(Addr{Bus: 1, Address: 5}) != 0 {
		t.Fatalf("expected to find address at index 0")
	}
	if list.Find(Addr{Bus: 9, Address: 9}) != -1 {
		t.Fatalf("expected not found")
	}
}

func TestFilterSetAllows(t *testing.T) {
	var empty FilterSet
	if !empty.Allows(0x1234, 0x5678) {
		t.Fatalf("empty filter set must allow everything")
	}

	fs := FilterSet{"1234:*"}
	if !fs.Allows(0x1234, 0x0001) {
		t.Fatalf("expected vendor match to pass")
	}
	if fs.Allows(0xaaaa, 0x0001) {
		t.Fatalf("expected non-matching vendor to be rejected")
	}
}
