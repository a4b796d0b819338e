package text

import "strings"

// Post identifiers are decimal strings that can exceed the exactly-
// representable range of float64 and of anything that round-trips through
// JSON numbers. They are compared as arbitrary-precision integers: strip
// leading zeros, then shorter means smaller, then lexicographic.

// CompareIDs returns -1, 0 or 1 ordering a before b numerically.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(strings.TrimSpace(a), "0")
	b = strings.TrimLeft(strings.TrimSpace(b), "0")

	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
