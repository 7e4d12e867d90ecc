package registry

import (
	"sort"
	"strconv"
	"strings"
)

// CompareVersions compares two dot-separated version strings numerically,
// segment by segment. It returns a positive number if a is newer than b,
// negative if older, and zero if they compare equal. Segment counts may
// differ; missing trailing segments read as 0, so "1.0" and "1.0.0" compare
// equal. Unparsable segments also read as 0 rather than failing, so garbage
// input sorts low instead of breaking the registry.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	length := len(as)
	if len(bs) > length {
		length = len(bs)
	}

	for i := 0; i < length; i++ {
		av := versionSegment(as, i)
		bv := versionSegment(bs, i)
		if av != bv {
			if av > bv {
				return 1
			}
			return -1
		}
	}

	return 0
}

func versionSegment(segments []string, i int) int {
	if i >= len(segments) {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(segments[i]))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// SortDescending sorts records newest-first. The sort is stable, so records
// whose version strings compare equal (like "1.0" and "1.0.0") keep their
// stored order, and the earlier-published one wins the "latest" slot.
func SortDescending(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return CompareVersions(records[i].Version, records[j].Version) > 0
	})
}
