package cache

import "strings"

// BuildPattern creates a Redis match pattern for a key prefix, escaping glob characters.
func BuildPattern(prefix string) string {
	r := strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(prefix) + "*"
}

// normalizeRange maps redis-style inclusive indexes (negative from the end) onto [lo, hi).
func normalizeRange(n int, start, stop int64) (int, int) {
	s, e := int(start), int(stop)
	if s < 0 {
		s += n
	}
	if e < 0 {
		e += n
	}
	if s < 0 {
		s = 0
	}
	if e >= n {
		e = n - 1
	}
	if s > e || s >= n {
		return 0, 0
	}
	return s, e + 1
}
