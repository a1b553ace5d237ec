// forumd/utils/utils.go
package utils

import (
	"strconv"
	"strings"
)

// BtoI converts a boolean to an integer (1 for true, 0 for false).
func BtoI(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ParseIDs converts form values like ids[]=1&ids[]=2 (or "1,2") into positive int64 ids.
func ParseIDs(values []string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Truncate shortens s to at most max runes, ending in an ellipsis when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
