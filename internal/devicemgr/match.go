package devicemgr

import (
	"regexp"
	"strings"
)

// looksLikeRegex implements the match_string heuristic: a pattern is
// treated as regex iff it begins with '^', ends with '$', or contains
// ".*" or ".+". The heuristic is intentionally permissive.
func looksLikeRegex(pattern string) bool {
	if strings.HasPrefix(pattern, "^") || strings.HasSuffix(pattern, "$") {
		return true
	}
	return strings.Contains(pattern, ".*") || strings.Contains(pattern, ".+")
}

// MatchString matches value against pattern, treating pattern as a regex
// per looksLikeRegex; a regex-compile failure falls back to literal
// equality.
func MatchString(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	if !looksLikeRegex(pattern) {
		return pattern == value
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return pattern == value
	}
	return re.MatchString(value)
}
