package text

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareIDs(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "123", "123", 0},
		{"smaller", "99", "100", -1},
		{"larger", "100", "99", 1},
		{"same length lexicographic", "1234567890123456788", "1234567890123456789", -1},
		{"leading zeros ignored", "0099", "99", 0},
		// Adjacent ids beyond float64's 53-bit exact range; a float compare
		// would call these equal.
		{"beyond float precision", "9007199254740993", "9007199254740992", 1},
		{"beyond int64 range", "92233720368547758080", "92233720368547758079", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareIDs(tt.a, tt.b))
		})
	}
}

func TestCompareIDs_SortOrder(t *testing.T) {
	ids := []string{
		"18446744073709551617",
		"9",
		"18446744073709551616",
		"1000",
	}
	sort.Slice(ids, func(i, j int) bool { return CompareIDs(ids[i], ids[j]) < 0 })

	assert.Equal(t, []string{
		"9",
		"1000",
		"18446744073709551616",
		"18446744073709551617",
	}, ids)
}
