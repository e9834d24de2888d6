package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/timerhsenso/sentinela/audit"
	"github.com/timerhsenso/sentinela/authorize"
	"github.com/timerhsenso/sentinela/guard"
	"github.com/timerhsenso/sentinela/logger"
	"github.com/timerhsenso/sentinela/session"
	"github.com/timerhsenso/sentinela/storage"
	"github.com/timerhsenso/sentinela/token"
)

// SessionHeader carries the session id established at login.
const SessionHeader = "X-Sentinela-Token"

// HandlerProperties contains the collaborators of the action endpoints
type HandlerProperties struct {
	Codec    *token.Codec
	Gate     *authorize.Gate
	Guard    *guard.RowGuard
	Sessions *session.Store
	Entities *storage.EntityStore
	Users    *storage.UserStore
	Auditor  audit.Auditor
	Logger   logger.Logger

	// TokenTTL is the lifetime of row-action tokens minted on list
	TokenTTL time.Duration
}

// Handler creates and returns the main HTTP handler for sentinela.
func (props *HandlerProperties) Handler() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/login", props.handleLogin)

		// Everything below requires an established session
		r.Group(func(r chi.Router) {
			r.Use(props.sessionContext)

			r.Post("/auth/logout", props.handleLogout)

			r.Get("/{system}/{function}/rows", props.handleListRows)
			r.Post("/{system}/{function}/rows/{key}/active", props.handleToggleActive)

			r.Post("/rows/edit", props.handleEditByToken)
			r.Post("/rows/delete", props.handleDeleteByToken)
			r.Post("/rows/delete/batch", props.handleBatchDelete)

			r.Get("/sys/metrics", props.handleMetrics)
		})
	})

	return r
}

type contextKey string

const sessionContextKey contextKey = "sentinela.session"

// sessionContext resolves the caller's session from the request header and
// rejects requests without a live one.
func (props *HandlerProperties) sessionContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if id == "" {
			respondError(w, http.StatusUnauthorized, "missing session")
			return
		}

		sess, found := props.Sessions.Lookup(id)
		if !found {
			respondError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFrom returns the session placed in the context by sessionContext.
func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionContextKey).(*session.Session)
	return sess
}
