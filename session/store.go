package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/hashicorp/go-uuid"
	"github.com/timerhsenso/sentinela/grants"
	"github.com/timerhsenso/sentinela/logger"
)

var ErrStoreClosed = errors.New("session store is closed")

// Session is the server-held credential established at login. It carries the
// compact permission aggregate for fast checks and the full grant collection
// as the authoritative fallback; both are invalidated together.
type Session struct {
	ID        string
	Username  string
	Aggregate string
	Grants    grants.GrantSet
	CreatedAt time.Time
	ExpireAt  time.Time
}

// Reader returns the permission reader for this session's identity.
func (s *Session) Reader() *grants.Reader {
	return grants.NewReader(s.Aggregate, s.Grants)
}

// StoreConfig holds configuration for the session store
type StoreConfig struct {
	// TTL is the session lifetime
	TTL time.Duration

	// AggregateBudget is the byte bound for the flattened aggregate;
	// larger grant sets run in fallback-only mode
	AggregateBudget int

	// CacheMaxCost is the maximum cost of cache (in bytes, roughly)
	CacheMaxCost int64

	// CacheNumCounters is the number of keys to track frequency
	CacheNumCounters int64

	// EnableMetrics enables collection of operational metrics
	EnableMetrics bool
}

// DefaultStoreConfig returns a production-ready default configuration
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		TTL:              8 * time.Hour,
		AggregateBudget:  3500,
		CacheMaxCost:     50 << 20, // 50 MB
		CacheNumCounters: 1e6,
		EnableMetrics:    true,
	}
}

// Metrics tracks operational statistics
type Metrics struct {
	mu                  sync.RWMutex
	SessionsEstablished int64
	SessionsInvalidated int64
	Lookups             int64
	LookupMisses        int64
	AggregateOverBudget int64
}

func (m *Metrics) IncrementEstablished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsEstablished++
}

func (m *Metrics) IncrementInvalidated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsInvalidated++
}

func (m *Metrics) IncrementLookups() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lookups++
}

func (m *Metrics) IncrementLookupMisses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LookupMisses++
}

func (m *Metrics) IncrementAggregateOverBudget() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AggregateOverBudget++
}

func (m *Metrics) GetSnapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"sessions_established":  m.SessionsEstablished,
		"sessions_invalidated":  m.SessionsInvalidated,
		"lookups":               m.Lookups,
		"lookup_misses":         m.LookupMisses,
		"aggregate_over_budget": m.AggregateOverBudget,
	}
}

// Store holds live sessions in a TTL-evicting cache.
type Store struct {
	mu      sync.RWMutex
	cache   *ristretto.Cache[string, *Session]
	config  *StoreConfig
	logger  logger.Logger
	metrics *Metrics
	closed  bool
}

func NewStore(log logger.Logger, config *StoreConfig) (*Store, error) {
	if config == nil {
		config = DefaultStoreConfig()
	}

	store := &Store{
		config:  config,
		logger:  log,
		metrics: &Metrics{},
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *Session]{
		NumCounters: config.CacheNumCounters,
		MaxCost:     config.CacheMaxCost,
		BufferItems: 64,
		OnEvict:     store.onEvict,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session cache: %w", err)
	}

	store.cache = cache

	log.Info("session store initialized",
		logger.Duration("ttl", config.TTL),
		logger.Int("aggregate_budget", config.AggregateBudget))

	return store, nil
}

func (s *Store) onEvict(item *ristretto.Item[*Session]) {
	if item.Value == nil {
		return
	}
	s.logger.Debug("session evicted from cache",
		logger.String("session_id", item.Value.ID),
		logger.String("username", item.Value.Username),
		logger.String("reason", "ttl_expired_or_capacity"),
	)
}

// Establish computes a new session for a user from their grant collection.
// The aggregate is flattened once here; when it exceeds the configured
// budget the session runs in fallback-only mode, which is correct but pays
// a grant-collection scan per check, so it is surfaced at WARN.
func (s *Store) Establish(ctx context.Context, username string, set grants.GrantSet) (*Session, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	id, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session id: %w", err)
	}

	aggregate, ok := grants.BuildAggregate(set, s.config.AggregateBudget)
	if !ok {
		s.logger.Warn("permission aggregate over budget, session runs fallback-only",
			logger.String("username", username),
			logger.Int("grants", len(set)),
			logger.Int("budget", s.config.AggregateBudget))
		if s.config.EnableMetrics {
			s.metrics.IncrementAggregateOverBudget()
		}
	}

	now := time.Now()
	sess := &Session{
		ID:        id,
		Username:  username,
		Aggregate: aggregate,
		Grants:    set,
		CreatedAt: now,
		ExpireAt:  now.Add(s.config.TTL),
	}

	// Cost is roughly the serialized size of the grant set
	cost := int64(64 + len(aggregate))
	for _, g := range set {
		cost += int64(len(g.System) + len(g.Function) + len(g.Actions) + len(g.Restriction))
	}
	s.cache.SetWithTTL(id, sess, cost, s.config.TTL)

	s.cache.Wait()

	if s.config.EnableMetrics {
		s.metrics.IncrementEstablished()
	}

	s.logger.Debug("session established",
		logger.String("session_id", id),
		logger.String("username", username),
		logger.Int("grants", len(set)),
		logger.Bool("aggregate_present", aggregate != ""),
		logger.Time("expires_at", sess.ExpireAt))

	return sess, nil
}

// Lookup returns the live session for an id.
func (s *Store) Lookup(id string) (*Session, bool) {
	if s.config.EnableMetrics {
		s.metrics.IncrementLookups()
	}

	sess, found := s.cache.Get(id)
	if !found {
		if s.config.EnableMetrics {
			s.metrics.IncrementLookupMisses()
		}
		return nil, false
	}

	// The cache TTL normally evicts first; this covers clock-edge reads.
	if time.Now().After(sess.ExpireAt) {
		s.cache.Del(id)
		return nil, false
	}

	return sess, true
}

// Invalidate drops a session; aggregate and fallback grants die together.
func (s *Store) Invalidate(id string) {
	s.cache.Del(id)
	if s.config.EnableMetrics {
		s.metrics.IncrementInvalidated()
	}
	s.logger.Debug("session invalidated", logger.String("session_id", id))
}

// ReaderFor implements authorize.GrantResolver keyed by session id.
func (s *Store) ReaderFor(identity string) (*grants.Reader, bool) {
	sess, found := s.Lookup(identity)
	if !found {
		return nil, false
	}
	return sess.Reader(), true
}

// GetMetrics returns a snapshot of current metrics
func (s *Store) GetMetrics() map[string]int64 {
	if !s.config.EnableMetrics {
		return nil
	}
	return s.metrics.GetSnapshot()
}

// Close gracefully shuts down the session store
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info("closing session store")

	s.cache.Clear()
	s.cache.Close()
}
