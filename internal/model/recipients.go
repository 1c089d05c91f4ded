package model

import (
	"regexp"
	"strings"
)

var recipientSeparators = regexp.MustCompile(`[,;\s]+`)

// ParseRecipients splits a free-form recipient field on commas,
// semicolons and whitespace. Empty entries are dropped and duplicates
// collapse onto their first occurrence.
func ParseRecipients(raw string) []string {
	parts := recipientSeparators.Split(raw, -1)

	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
