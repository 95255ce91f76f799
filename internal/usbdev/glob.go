/* go-p2p-usb - share USB devices over an authenticated P2P link
 *
 * Glob-style pattern matching, lifted from the teacher's glob.go
 * (originally used to match printer model-name blacklist patterns);
 * reused here to let "usb.filters" entries use wildcards, e.g.
 * "1234:*" to allow every product id from vendor 0x1234.
 */

package usbdev

// globMatch matches str against a glob pattern: '?' matches exactly one
// character, '*' matches any run of characters, '\' escapes the next
// character. Returns the count of matched non-wildcard characters, or
// -1 if str does not match pattern at all.
func globMatch(str, pattern string) int {
	return globMatchCount(str, pattern, 0)
}

func globMatchCount(str, pattern string, count int) int {
	for str != "" && pattern != "" {
		p := pattern[0]
		pattern = pattern[1:]

		switch p {
		case '*':
			for pattern != "" && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if pattern == "" {
				return count
			}
			for i := 0; i < len(str); i++ {
				if c2 := globMatchCount(str[i:], pattern, count); c2 >= 0 {
					return c2
				}
			}
			return -1

		case '?':
			str = str[1:]

		case '\\':
			if pattern == "" {
				return -1
			}
			p, pattern = pattern[0], pattern[1:]
			fallthrough

		default:
			if str[0] != p {
				return -1
			}
			str = str[1:]
			count++
		}
	}

	for pattern != "" && pattern[0] == '*' {
		pattern = pattern[1:]
	}

	if str == "" && pattern == "" {
		return count
	}
	return -1
}
