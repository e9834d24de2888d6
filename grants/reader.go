package grants

import "strings"

// Reader answers permission questions for one identity. The fast path parses
// the compact aggregate carried on the credential; the fallback filters the
// full grant collection held in server-side session state. When both are
// present they must agree.
type Reader struct {
	aggregate string
	fallback  GrantSet
}

// NewReader builds a reader over an aggregate string and a fallback grant
// set. Either may be empty; an empty aggregate forces fallback-only mode.
func NewReader(aggregate string, fallback GrantSet) *Reader {
	return &Reader{
		aggregate: aggregate,
		fallback:  fallback,
	}
}

// HasAccess reports whether the identity holds the function at all,
// regardless of which actions are granted on it.
func (r *Reader) HasAccess(system, function string) bool {
	if _, ok := aggregateLookup(r.aggregate, system, function); ok {
		return true
	}
	return r.fallback.HasAccess(system, function)
}

// Actions returns the sorted, deduplicated action codes the identity holds
// on the function. Empty string when none.
func (r *Reader) Actions(system, function string) string {
	if actions, ok := aggregateLookup(r.aggregate, system, function); ok {
		return actions
	}
	return r.fallback.ActionsFor(system, function)
}

// HoldsAny reports whether the identity holds at least one of the required
// action codes on the function. An empty required set means any access counts.
func (r *Reader) HoldsAny(system, function, required string) bool {
	if required == "" {
		return r.HasAccess(system, function)
	}

	held := r.Actions(system, function)
	for _, code := range required {
		if strings.ContainsRune(held, code) {
			return true
		}
	}
	return false
}
