package stringutils

import "strings"

// SplitLines splits s on newlines, dropping the single trailing empty
// element a final "\n" would otherwise leave. An empty string yields a nil
// slice rather than a slice containing one empty string.
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
