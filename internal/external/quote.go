package external

import (
	"regexp"
	"strings"
)

var shellSafe = regexp.MustCompile(`^[\w@%+=:,./-]+$`)

// Quote returns s quoted for safe interpolation into a shell command line.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// QuoteCommand joins argv into a single shell-quoted command string.
func QuoteCommand(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// truncateStr shortens s to at most n characters, marking the omission with
// a trailing ellipsis. Non-positive n disables truncation.
func truncateStr(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
