package grants

import (
	"sort"
	"strings"
)

// Canonical single-character action codes. Grant rows may carry other codes;
// the reader treats actions as an opaque character set.
const (
	ActionCreate  = "C"
	ActionEdit    = "E"
	ActionDelete  = "D"
	ActionInquire = "I"
)

// Grant is one fine-grained permission row: the actions an identity holds on
// a function of a system, with an optional data restriction qualifier.
type Grant struct {
	System      string
	Function    string
	Actions     string
	Restriction string
}

// GrantSet is the full fallback collection of an identity's grants.
type GrantSet []Grant

// HasAccess reports whether any grant covers the system/function pair.
// Matching is case-insensitive; grants are additive across memberships.
func (gs GrantSet) HasAccess(system, function string) bool {
	for _, g := range gs {
		if strings.EqualFold(g.System, system) && strings.EqualFold(g.Function, function) {
			return true
		}
	}
	return false
}

// ActionsFor returns the union of action codes across all matching grants,
// deduplicated and sorted. Empty string when no grant matches.
func (gs GrantSet) ActionsFor(system, function string) string {
	var b strings.Builder
	for _, g := range gs {
		if strings.EqualFold(g.System, system) && strings.EqualFold(g.Function, function) {
			b.WriteString(strings.ToUpper(g.Actions))
		}
	}
	return sortedUniqueChars(b.String())
}

// sortedUniqueChars normalizes an action run into a deterministic form so
// containment checks reduce to simple character tests.
func sortedUniqueChars(s string) string {
	if s == "" {
		return ""
	}
	seen := make(map[rune]bool, len(s))
	chars := make([]rune, 0, len(s))
	for _, r := range s {
		if !seen[r] {
			seen[r] = true
			chars = append(chars, r)
		}
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })
	return string(chars)
}
