// Package strings holds small string helpers shared by configuration parsing.
package strings

import "strings"

// SplitList splits a comma-separated value such as a broker list. Entries are
// trimmed; blanks and repeats are dropped, first occurrence wins.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
