package audit

import (
	"context"
	"time"
)

// Event types emitted by the security core.
const (
	TypeTokenRejected = "token_rejected"
	TypeAuthzDenied   = "authz_denied"
	TypeToggle        = "toggle"
	TypeLogin         = "login"
	TypeLogout        = "logout"
	TypeRowDeleted    = "row_deleted"
)

// Event is a single audit log entry. Token material in Detail is salted
// before it reaches the sink; raw capabilities never end up on disk.
type Event struct {
	Time      time.Time         `json:"time"`
	Type      string            `json:"type"`
	Identity  string            `json:"identity,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Auditor records security-relevant events.
type Auditor interface {
	Emit(ctx context.Context, event *Event) error
	Close() error
}

// NopAuditor discards every event. Used when auditing is not configured
// and in tests.
type NopAuditor struct{}

func (NopAuditor) Emit(ctx context.Context, event *Event) error { return nil }
func (NopAuditor) Close() error                                 { return nil }
