package authorize

import (
	"github.com/timerhsenso/sentinela/grants"
	"github.com/timerhsenso/sentinela/logger"
)

// GrantResolver resolves the permission reader for an identity. The session
// store is the production implementation.
type GrantResolver interface {
	ReaderFor(identity string) (*grants.Reader, bool)
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Gate is the single choke point every protected action passes through
// before touching data. It is stateless and safe for concurrent use.
type Gate struct {
	resolver GrantResolver
	logger   logger.Logger
}

func NewGate(resolver GrantResolver, log logger.Logger) *Gate {
	return &Gate{
		resolver: resolver,
		logger:   log,
	}
}

// Authorize checks that the identity holds the function, and when required
// is non-empty, at least one of the required action codes on it.
func (g *Gate) Authorize(identity, system, function, required string) Decision {
	reader, ok := g.resolver.ReaderFor(identity)
	if !ok {
		g.logger.Warn("authorization denied, unknown identity",
			logger.String("identity", identity),
			logger.String("system", system),
			logger.String("function", function))
		return deny("unknown identity")
	}

	if !reader.HasAccess(system, function) {
		g.logger.Warn("authorization denied, function not granted",
			logger.String("identity", identity),
			logger.String("system", system),
			logger.String("function", function))
		return deny("function not granted")
	}

	if required != "" && !reader.HoldsAny(system, function, required) {
		g.logger.Warn("authorization denied, action not granted",
			logger.String("identity", identity),
			logger.String("system", system),
			logger.String("function", function),
			logger.String("required", required))
		return deny("action not granted")
	}

	g.logger.Trace("authorization granted",
		logger.String("identity", identity),
		logger.String("system", system),
		logger.String("function", function))

	return allow
}
