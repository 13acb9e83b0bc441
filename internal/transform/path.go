package transform

import "strings"

// Path patterns are dot-separated segments. A "*" segment matches exactly one
// level; a "**" segment matches any number of levels, including zero.

// SplitPath breaks a dotted field path into segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// JoinPath renders path segments back to dotted form.
func JoinPath(segments []string) string {
	return strings.Join(segments, ".")
}

// MatchPath reports whether a pattern covers the given field path.
func MatchPath(pattern string, path []string) bool {
	return matchSegments(SplitPath(pattern), path)
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if pattern[0] == "**" {
		// Try consuming zero or more path segments.
		for skip := 0; skip <= len(path); skip++ {
			if matchSegments(pattern[1:], path[skip:]) {
				return true
			}
		}
		return false
	}
	if len(path) == 0 {
		return false
	}
	if pattern[0] != "*" && pattern[0] != path[0] {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
