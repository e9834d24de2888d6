package grants

import (
	"sort"
	"strings"
)

// Aggregate wire format: SYS|FUNC=ACTIONS;SYS2|FUNC2=ACTIONS2
// Keys are upper-cased and sorted, action runs deduplicated and sorted, so
// the flattened form is deterministic for a given grant set.
const (
	keySeparator     = "|"
	actionSeparator  = "="
	segmentSeparator = ";"
)

// BuildAggregate flattens a grant set into the compact aggregate string.
// When budget is positive and the flattened form would exceed it, the
// aggregate is omitted ("", false) and callers must use the fallback
// collection exclusively. The bound exists because the aggregate typically
// rides on a size-constrained credential.
func BuildAggregate(gs GrantSet, budget int) (string, bool) {
	if len(gs) == 0 {
		return "", true
	}

	merged := make(map[string]string, len(gs))
	for _, g := range gs {
		key := strings.ToUpper(g.System) + keySeparator + strings.ToUpper(g.Function)
		merged[key] += strings.ToUpper(g.Actions)
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	segments := make([]string, 0, len(keys))
	for _, key := range keys {
		segments = append(segments, key+actionSeparator+sortedUniqueChars(merged[key]))
	}

	flat := strings.Join(segments, segmentSeparator)
	if budget > 0 && len(flat) > budget {
		return "", false
	}
	return flat, true
}

// aggregateLookup scans the aggregate for the system/function key and
// returns its action run. The second result distinguishes "key absent"
// from "key present with no actions".
func aggregateLookup(aggregate, system, function string) (string, bool) {
	if aggregate == "" {
		return "", false
	}

	want := strings.ToUpper(system) + keySeparator + strings.ToUpper(function) + actionSeparator
	for _, segment := range strings.Split(aggregate, segmentSeparator) {
		if strings.HasPrefix(segment, want) {
			return segment[len(want):], true
		}
	}
	return "", false
}
