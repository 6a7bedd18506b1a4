package external

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

// Rule maps a stderr line pattern to the severity it is logged at. When the
// pattern contains a capturing group, only the group's text is logged;
// otherwise the whole match is.
type Rule struct {
	Pattern *regexp.Regexp
	Level   slog.Level
}

// NewRule compiles expr case-insensitively into a classification rule.
func NewRule(expr string, level slog.Level) (Rule, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Rule{}, fmt.Errorf("external: compiling rule %q: %w", expr, err)
	}
	return Rule{Pattern: re, Level: level}, nil
}

// MustRule is NewRule for static tables; it panics on a bad expression.
func MustRule(expr string, level slog.Level) Rule {
	r, err := NewRule(expr, level)
	if err != nil {
		panic(err)
	}
	return r
}

// continuation matches lines that continue a previous multi-line message.
var continuation = regexp.MustCompile(`^\s`)

var defaultRules = []Rule{
	MustRule(`.*error.*`, slog.LevelError),
	MustRule(`.*warning.*`, slog.LevelWarn),
	MustRule(`^info:\s*(.*)`, slog.LevelInfo),
	MustRule(`^debug:\s*(.*)`, slog.LevelDebug),
	MustRule(`^traceback.*`, slog.LevelDebug),
	MustRule(`.*`, slog.LevelInfo),
}

// DefaultRules returns a copy of the built-in classification table. Rules
// are tried in order and the first match wins; the trailing catch-all sends
// anything unclassified to INFO.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}

func compileFilters(exprs []string) ([]*regexp.Regexp, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("external: compiling filter %q: %w", expr, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// newLineScanner wraps r with a line scanner whose buffer is large enough
// for verbose SDK tracebacks.
func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}
