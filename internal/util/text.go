package util

import (
	"regexp"
	"strings"
)

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, neither of which
// Postgres text columns accept.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

var (
	reBlankLines  = regexp.MustCompile(`\n{3,}`)
	reTrailingWS  = regexp.MustCompile(`[ \t]+\n`)
	reCarriageRet = regexp.MustCompile(`\r\n?`)
)

// NormalizeText unifies line endings, strips trailing spaces and collapses
// runs of blank lines so extracted documents chunk consistently.
func NormalizeText(value string) string {
	value = reCarriageRet.ReplaceAllString(value, "\n")
	value = reTrailingWS.ReplaceAllString(value, "\n")
	value = reBlankLines.ReplaceAllString(value, "\n\n")
	return strings.TrimSpace(value)
}

// Truncate returns at most n characters of value.
func Truncate(value string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(value)
	if len(r) <= n {
		return value
	}
	return string(r[:n])
}
