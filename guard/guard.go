package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timerhsenso/sentinela/logger"
)

// Outcome is the result of a guarded toggle attempt.
type Outcome int

const (
	// Applied means the desired value was persisted.
	Applied Outcome = iota
	// NoOp means the row already held the desired value; nothing was written.
	NoOp
	// Busy means another toggle for the same key was in flight.
	Busy
	// Throttled means the key changed too recently.
	Throttled
	// NotFound means the row vanished between render and action.
	NotFound
	// Failed means the store rejected the write.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NoOp:
		return "noop"
	case Busy:
		return "busy"
	case Throttled:
		return "throttled"
	case NotFound:
		return "not_found"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ActiveStore reads and writes a row's active flag. GetActive reports
// ok=false when the row does not exist.
type ActiveStore interface {
	GetActive(ctx context.Context, key string) (value bool, ok bool, err error)
	SetActive(ctx context.Context, key string, value bool) error
}

// GuardConfig holds configuration for the row guard
type GuardConfig struct {
	// MinInterval is the minimum time between successful changes per key
	MinInterval time.Duration

	// EnableMetrics enables collection of operational metrics
	EnableMetrics bool
}

// DefaultGuardConfig returns a production-ready default configuration
func DefaultGuardConfig() *GuardConfig {
	return &GuardConfig{
		MinInterval:   2 * time.Second,
		EnableMetrics: true,
	}
}

// Metrics tracks operational statistics
type Metrics struct {
	mu                sync.RWMutex
	TogglesApplied    int64
	TogglesNoop       int64
	RejectedBusy      int64
	RejectedThrottled int64
	TargetsMissing    int64
	StoreFailures     int64
}

func (m *Metrics) IncrementApplied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TogglesApplied++
}

func (m *Metrics) IncrementNoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TogglesNoop++
}

func (m *Metrics) IncrementBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RejectedBusy++
}

func (m *Metrics) IncrementThrottled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RejectedThrottled++
}

func (m *Metrics) IncrementMissing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TargetsMissing++
}

func (m *Metrics) IncrementStoreFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreFailures++
}

func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"toggles_applied":    m.TogglesApplied,
		"toggles_noop":       m.TogglesNoop,
		"rejected_busy":      m.RejectedBusy,
		"rejected_throttled": m.RejectedThrottled,
		"targets_missing":    m.TargetsMissing,
		"store_failures":     m.StoreFailures,
	}
}

// entry is the per-key mutation state: a mutex and the time of the last
// successful change. Entries live for the process lifetime.
type entry struct {
	mu         sync.Mutex
	lastChange time.Time
}

// RowGuard serializes toggle-style mutations per entity key. Keys are opaque
// strings, conventionally "entityType:compositeKey", so one guard serves
// every toggle-style action uniformly. Acquisition is non-blocking: a key
// already in flight is rejected as Busy rather than queued, so bursts of
// near-simultaneous UI events cannot pile up requests.
//
// The guard's state is process-local. It does not prevent races across
// concurrently running instances; a version check at the storage layer is
// the backstop for that.
type RowGuard struct {
	mu      sync.Mutex
	entries map[string]*entry
	config  *GuardConfig
	logger  logger.Logger
	metrics *Metrics
}

// NewRowGuard creates a row guard. One instance per running process,
// constructed once and injected wherever toggles happen.
func NewRowGuard(log logger.Logger, config *GuardConfig) *RowGuard {
	if config == nil {
		config = DefaultGuardConfig()
	}

	log.Info("row guard initialized",
		logger.Duration("min_interval", config.MinInterval),
		logger.Bool("metrics_enabled", config.EnableMetrics))

	return &RowGuard{
		entries: make(map[string]*entry),
		config:  config,
		logger:  log,
		metrics: &Metrics{},
	}
}

// entryFor returns the mutation state for a key, creating it lazily.
func (g *RowGuard) entryFor(key string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		e = &entry{}
		g.entries[key] = e
	}
	return e
}

// SetActive attempts to set a row's active flag to desired. The attempt is
// rejected immediately as Busy when another toggle for the same key is in
// flight, and as Throttled when the key changed within MinInterval. A row
// already in the desired state is a NoOp that does not touch the throttle
// timestamp, so an unchanged row never blocks a later real change.
func (g *RowGuard) SetActive(ctx context.Context, key string, desired bool, store ActiveStore) (Outcome, error) {
	e := g.entryFor(key)

	if !e.mu.TryLock() {
		g.logger.Debug("toggle rejected, key in flight",
			logger.String("key", key))
		if g.config.EnableMetrics {
			g.metrics.IncrementBusy()
		}
		return Busy, nil
	}
	defer e.mu.Unlock()

	if !e.lastChange.IsZero() {
		if elapsed := time.Since(e.lastChange); elapsed < g.config.MinInterval {
			g.logger.Debug("toggle rejected, key changed too recently",
				logger.String("key", key),
				logger.Duration("elapsed", elapsed),
				logger.Duration("min_interval", g.config.MinInterval))
			if g.config.EnableMetrics {
				g.metrics.IncrementThrottled()
			}
			return Throttled, nil
		}
	}

	current, ok, err := store.GetActive(ctx, key)
	if err != nil {
		if g.config.EnableMetrics {
			g.metrics.IncrementStoreFailures()
		}
		return Failed, fmt.Errorf("failed to read current state of %q: %w", key, err)
	}
	if !ok {
		g.logger.Debug("toggle target missing",
			logger.String("key", key))
		if g.config.EnableMetrics {
			g.metrics.IncrementMissing()
		}
		return NotFound, nil
	}

	if current == desired {
		g.logger.Trace("toggle is a no-op",
			logger.String("key", key),
			logger.Bool("value", desired))
		if g.config.EnableMetrics {
			g.metrics.IncrementNoop()
		}
		return NoOp, nil
	}

	if err := store.SetActive(ctx, key, desired); err != nil {
		// The timestamp is only recorded after a successful write, so a
		// failed toggle does not throttle the retry.
		if g.config.EnableMetrics {
			g.metrics.IncrementStoreFailures()
		}
		return Failed, fmt.Errorf("failed to persist new state of %q: %w", key, err)
	}

	e.lastChange = time.Now()

	g.logger.Debug("toggle applied",
		logger.String("key", key),
		logger.Bool("value", desired))
	if g.config.EnableMetrics {
		g.metrics.IncrementApplied()
	}

	return Applied, nil
}

// GetMetrics returns a snapshot of current metrics
func (g *RowGuard) GetMetrics() map[string]int64 {
	if !g.config.EnableMetrics {
		return nil
	}
	return g.metrics.GetSnapshot()
}

// Keys returns the number of distinct keys the guard is tracking. The map
// grows with distinct keys touched, which is acceptable at admin-scale
// entity counts.
func (g *RowGuard) Keys() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
