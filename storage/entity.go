package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const rowPrefix = "rows"

var ErrNotFound = errors.New("entity not found")

// Row is one admin-screen record. Only the fields the security core needs
// are modeled; screen-specific columns ride in Fields untouched.
type Row struct {
	System    string         `json:"system"`
	Function  string         `json:"function"`
	Key       string         `json:"key"`
	Label     string         `json:"label"`
	Active    bool           `json:"active"`
	Fields    map[string]any `json:"fields,omitempty"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// GuardKey returns the opaque per-row key used by the row guard,
// "SYS/FUNC/key", so one guard serves every entity type uniformly.
func (r *Row) GuardKey() string {
	return GuardKey(r.System, r.Function, r.Key)
}

func GuardKey(system, function, key string) string {
	return strings.ToUpper(system) + "/" + strings.ToUpper(function) + "/" + key
}

// SplitGuardKey is the inverse of GuardKey.
func SplitGuardKey(guardKey string) (system, function, key string, err error) {
	parts := strings.SplitN(guardKey, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed row key %q", guardKey)
	}
	return parts[0], parts[1], parts[2], nil
}

// EntityStore persists admin rows on top of the generic Storage backend.
// Every write bumps the row version; the version is the cross-instance
// backstop the in-process guard cannot provide.
type EntityStore struct {
	backend Storage
}

func NewEntityStore(backend Storage) *EntityStore {
	return &EntityStore{backend: backend}
}

func listPrefix(system, function string) string {
	return rowPrefix + "/" + strings.ToUpper(system) + "/" + strings.ToUpper(function)
}

// Put creates or replaces a row.
func (s *EntityStore) Put(ctx context.Context, row *Row) error {
	if row.System == "" || row.Function == "" || row.Key == "" {
		return errors.New("row requires system, function and key")
	}

	existing, err := s.backend.Get(ctx, listPrefix(row.System, row.Function), row.Key)
	if err != nil {
		return err
	}

	version := int64(1)
	if existing != nil {
		version = entryVersion(existing) + 1
	}

	entry := map[string]any{
		"label":      row.Label,
		"active":     row.Active,
		"fields":     row.Fields,
		"version":    version,
		"updated_at": time.Now(),
	}

	return s.backend.Put(ctx, listPrefix(row.System, row.Function), row.Key, entry)
}

// Get returns the row for a guard key, or ErrNotFound.
func (s *EntityStore) Get(ctx context.Context, guardKey string) (*Row, error) {
	system, function, key, err := SplitGuardKey(guardKey)
	if err != nil {
		return nil, ErrNotFound
	}

	entry, err := s.backend.Get(ctx, listPrefix(system, function), key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}

	return rowFromEntry(system, function, key, entry), nil
}

// Delete removes the row for a guard key. Deleting a row that is already
// gone returns ErrNotFound so callers can report it as such.
func (s *EntityStore) Delete(ctx context.Context, guardKey string) error {
	system, function, key, err := SplitGuardKey(guardKey)
	if err != nil {
		return ErrNotFound
	}

	entry, err := s.backend.Get(ctx, listPrefix(system, function), key)
	if err != nil {
		return err
	}
	if entry == nil {
		return ErrNotFound
	}

	return s.backend.Delete(ctx, listPrefix(system, function), key)
}

// List returns all rows of a function, sorted by key.
func (s *EntityStore) List(ctx context.Context, system, function string) ([]*Row, error) {
	keys, err := s.backend.List(ctx, listPrefix(system, function))
	if err != nil {
		return nil, err
	}

	rows := make([]*Row, 0, len(keys))
	for _, key := range keys {
		entry, err := s.backend.Get(ctx, listPrefix(system, function), key)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			// Row deleted between List and Get; skip it.
			continue
		}
		rows = append(rows, rowFromEntry(system, function, key, entry))
	}
	return rows, nil
}

// GetActive reports the row's active flag, with ok=false when the row does
// not exist. Implements the guard's ActiveStore contract.
func (s *EntityStore) GetActive(ctx context.Context, guardKey string) (bool, bool, error) {
	row, err := s.Get(ctx, guardKey)
	if errors.Is(err, ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return row.Active, true, nil
}

// SetActive persists a new active flag, bumping the row version.
func (s *EntityStore) SetActive(ctx context.Context, guardKey string, value bool) error {
	row, err := s.Get(ctx, guardKey)
	if err != nil {
		return err
	}

	row.Active = value
	return s.Put(ctx, row)
}

func rowFromEntry(system, function, key string, entry map[string]any) *Row {
	row := &Row{
		System:   strings.ToUpper(system),
		Function: strings.ToUpper(function),
		Key:      key,
		Version:  entryVersion(entry),
	}
	if label, ok := entry["label"].(string); ok {
		row.Label = label
	}
	if active, ok := entry["active"].(bool); ok {
		row.Active = active
	}
	if fields, ok := entry["fields"].(map[string]any); ok {
		row.Fields = fields
	}
	if updated, ok := entry["updated_at"].(time.Time); ok {
		row.UpdatedAt = updated
	}
	return row
}

func entryVersion(entry map[string]any) int64 {
	switch v := entry["version"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
