package store

import (
	"os"
	"strings"
	"unicode/utf8"
)

// hasPathPrefix reports whether p is prefix itself or lies beneath it.
func hasPathPrefix(p, prefix string) bool {
	if p == prefix {
		return true
	}
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if strings.HasSuffix(prefix, string(os.PathSeparator)) {
		return true
	}
	return p[len(prefix)] == os.PathSeparator
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
