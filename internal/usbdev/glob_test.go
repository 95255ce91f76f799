package usbdev

import "testing"

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		str, pattern string
		count        int
	}{
		{"1234:5678", "1234:5678", 9},
		{"1234:5678", "1234:*", 5},
		{"1234:5678", "1234:????", 5},
		{"1234:5678", "*", 0},
		{"1234:5678", "abcd:*", -1},
	}

	for _, c := range cases {
		got := globMatch(c.str, c.pattern)
		if got != c.count {
			t.Errorf("globMatch(%q,%q) = %d, want %d", c.str, c.pattern, got, c.count)
		}
	}
}
