package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timerhsenso/sentinela/audit"
	"github.com/timerhsenso/sentinela/authorize"
	"github.com/timerhsenso/sentinela/grants"
	"github.com/timerhsenso/sentinela/guard"
	"github.com/timerhsenso/sentinela/helper"
	"github.com/timerhsenso/sentinela/logger"
	"github.com/timerhsenso/sentinela/session"
	"github.com/timerhsenso/sentinela/storage"
	"github.com/timerhsenso/sentinela/token"
)

type testServer struct {
	handler http.Handler
	props   *HandlerProperties
}

// newTestServer wires the full stack over in-memory storage, seeded with an
// admin holding C/E/D/I on SEG_USUARIOS, a viewer holding only I, and an
// inactive user.
func newTestServer(t *testing.T, minInterval time.Duration) *testServer {
	t.Helper()
	ctx := context.Background()
	log := logger.NewZerologLogger(logger.DefaultConfig())

	backend := storage.NewMemoryStorage()
	require.NoError(t, backend.Init(ctx))
	entities := storage.NewEntityStore(backend)
	users := storage.NewUserStore(backend)

	require.NoError(t, users.PutUser(ctx, &storage.User{Username: "admin", Active: true}))
	require.NoError(t, users.AddGrant(ctx, "admin", grants.Grant{
		System: "SEG", Function: "SEG_USUARIOS", Actions: "CEDI",
	}))
	require.NoError(t, users.AddGrant(ctx, "admin", grants.Grant{
		System: "SEG", Function: "SEG_GRUPOS", Actions: "I",
	}))

	require.NoError(t, users.PutUser(ctx, &storage.User{Username: "viewer", Active: true}))
	require.NoError(t, users.AddGrant(ctx, "viewer", grants.Grant{
		System: "SEG", Function: "SEG_USUARIOS", Actions: "I",
	}))

	require.NoError(t, users.PutUser(ctx, &storage.User{Username: "gone", Active: false}))

	for _, key := range []string{"u1", "u2"} {
		require.NoError(t, entities.Put(ctx, &storage.Row{
			System: "SEG", Function: "SEG_USUARIOS", Key: key,
			Label: "User " + key, Active: true,
		}))
	}
	require.NoError(t, entities.Put(ctx, &storage.Row{
		System: "SEG", Function: "SEG_GRUPOS", Key: "g1",
		Label: "Group g1", Active: true,
	}))

	sessions, err := session.NewStore(log, nil)
	require.NoError(t, err)
	t.Cleanup(sessions.Close)

	codec, err := token.NewCodec(log, helper.GenerateProtectionKey(), nil)
	require.NoError(t, err)

	props := &HandlerProperties{
		Codec:    codec,
		Gate:     authorize.NewGate(sessions, log),
		Guard:    guard.NewRowGuard(log, &guard.GuardConfig{MinInterval: minInterval, EnableMetrics: true}),
		Sessions: sessions,
		Entities: entities,
		Users:    users,
		Auditor:  audit.NopAuditor{},
		Logger:   log,
		TokenTTL: time.Minute,
	}

	return &testServer{handler: props.Handler(), props: props}
}

func (ts *testServer) do(t *testing.T, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": username})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func decodeRows(t *testing.T, rec *httptest.ResponseRecorder) []*listedRow {
	t.Helper()
	var resp struct {
		Rows []*listedRow `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Rows
}

func TestHandler_Login(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "admin"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Contains(t, resp.Aggregate, "SEG|SEG_USUARIOS=CDEI")
	assert.True(t, resp.ExpireAt.After(time.Now()))
}

func TestHandler_Login_Rejected(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)

	rec := ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "nobody"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "gone"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_SessionRequired(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", "bogus-session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_Logout(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/v1/auth/logout", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The session is gone; further calls are unauthorized
	rec = ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_ListRows_TokensPerHeldAction(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)

	adminSid := ts.login(t, "admin")
	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", adminSid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rows := decodeRows(t, rec)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.NotEmpty(t, row.EditToken)
		assert.NotEmpty(t, row.DeleteToken)
		assert.True(t, row.Active)
	}

	// The viewer holds only I: no action tokens are minted
	viewerSid := ts.login(t, "viewer")
	rec = ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", viewerSid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rows = decodeRows(t, rec)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Empty(t, row.EditToken)
		assert.Empty(t, row.DeleteToken)
	}
}

func TestHandler_ListRows_Forbidden(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "viewer")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_GRUPOS/rows", sid, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_EditByToken(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeRows(t, rec)

	rec = ts.do(t, http.MethodPost, "/v1/rows/edit", sid, map[string]string{"token": rows[0].EditToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Row *storage.Row `json:"row"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, rows[0].Key, resp.Row.Key)
	assert.Equal(t, "SEG_USUARIOS", resp.Row.Function)
}

func TestHandler_EditByToken_WrongPurpose(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeRows(t, rec)

	// A delete token is not an edit token
	rec = ts.do(t, http.MethodPost, "/v1/rows/edit", sid, map[string]string{"token": rows[0].DeleteToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_EditByToken_WrongIdentity(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	adminSid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", adminSid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeRows(t, rec)

	// Tokens are bound to the identity they were minted for
	viewerSid := ts.login(t, "viewer")
	rec = ts.do(t, http.MethodPost, "/v1/rows/edit", viewerSid, map[string]string{"token": rows[0].EditToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_EditByToken_BadRequests(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/v1/rows/edit", sid, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/rows/edit", sid, map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_DeleteByToken(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeRows(t, rec)
	require.Len(t, rows, 2)

	rec = ts.do(t, http.MethodPost, "/v1/rows/delete", sid, map[string]string{"token": rows[0].DeleteToken})
	require.Equal(t, http.StatusOK, rec.Code)

	// The row is gone
	rec = ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeRows(t, rec), 1)

	// Replaying the token targets a row that no longer exists
	rec = ts.do(t, http.MethodPost, "/v1/rows/delete", sid, map[string]string{"token": rows[0].DeleteToken})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_BatchDelete_PartialFailure(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeRows(t, rec)
	require.Len(t, rows, 2)

	// Two valid tokens (one duplicated) plus one garbage token
	rec = ts.do(t, http.MethodPost, "/v1/rows/delete/batch", sid, map[string]any{
		"tokens": []string{
			rows[0].DeleteToken,
			rows[1].DeleteToken,
			rows[1].DeleteToken,
			"not-a-token",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchDeleteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)

	rec = ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeRows(t, rec))
}

func TestHandler_BatchDelete_EmptyBody(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/v1/rows/delete/batch", sid, map[string]any{"tokens": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_ToggleActive(t *testing.T) {
	ts := newTestServer(t, 0)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/v1/SEG/SEG_USUARIOS/rows/u1/active", sid, toggleRequest{Active: false})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "applied", resp["outcome"])
	assert.Equal(t, false, resp["active"])

	// Same desired value again: idempotent no-op, still 200
	rec = ts.do(t, http.MethodPost, "/v1/SEG/SEG_USUARIOS/rows/u1/active", sid, toggleRequest{Active: false})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "noop", resp["outcome"])
}

func TestHandler_ToggleActive_Throttled(t *testing.T) {
	ts := newTestServer(t, 30*time.Second)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/v1/SEG/SEG_USUARIOS/rows/u1/active", sid, toggleRequest{Active: false})
	require.Equal(t, http.StatusOK, rec.Code)

	// A real change inside the window is refused
	rec = ts.do(t, http.MethodPost, "/v1/SEG/SEG_USUARIOS/rows/u1/active", sid, toggleRequest{Active: true})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandler_ToggleActive_NotFound(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodPost, "/v1/SEG/SEG_USUARIOS/rows/ghost/active", sid, toggleRequest{Active: false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ToggleActive_Forbidden(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "viewer")

	rec := ts.do(t, http.MethodPost, "/v1/SEG/SEG_USUARIOS/rows/u1/active", sid, toggleRequest{Active: false})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandler_Metrics(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/sys/metrics", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "token")
	assert.Contains(t, resp, "guard")
	assert.Contains(t, resp, "sessions")
	assert.Equal(t, int64(1), resp["sessions"]["sessions_established"])
}

func TestHandler_ExpiredToken(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	ts.props.TokenTTL = time.Millisecond
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decodeRows(t, rec)

	time.Sleep(10 * time.Millisecond)

	rec = ts.do(t, http.MethodPost, "/v1/rows/edit", sid, map[string]string{"token": rows[0].EditToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4455"
	assert.Equal(t, "192.0.2.10", extractClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", extractClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", extractClientIP(req))
}

func TestHandler_RowKeysNeverInListURLs(t *testing.T) {
	ts := newTestServer(t, time.Millisecond)
	sid := ts.login(t, "admin")

	rec := ts.do(t, http.MethodGet, "/v1/SEG/SEG_USUARIOS/rows", sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Action tokens are opaque: the raw key never appears inside them
	for _, row := range decodeRows(t, rec) {
		assert.NotContains(t, row.EditToken, fmt.Sprintf("%q", row.Key))
		assert.NotContains(t, row.DeleteToken, fmt.Sprintf("%q", row.Key))
	}
}
