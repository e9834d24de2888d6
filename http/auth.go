package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/timerhsenso/sentinela/audit"
	"github.com/timerhsenso/sentinela/logger"
)

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	SessionID string    `json:"session_id"`
	Aggregate string    `json:"aggregate,omitempty"`
	ExpireAt  time.Time `json:"expire_at"`
}

// handleLogin establishes a session: the user's grants are fetched once,
// flattened into the aggregate, and both representations are pinned to the
// new session. Credential verification itself is delegated to the fronting
// identity provider; an unknown or inactive user is still rejected here.
func (props *HandlerProperties) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil || req.Username == "" {
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	user, err := props.Users.GetUser(r.Context(), req.Username)
	if err != nil || !user.Active {
		props.Logger.Warn("login rejected",
			logger.String("username", req.Username),
			logger.String("client_ip", extractClientIP(r)))
		respondForbidden(w)
		return
	}

	set, err := props.Users.GrantsFor(r.Context(), user.Username)
	if err != nil {
		props.Logger.Error("failed to load grants", logger.Err(err),
			logger.String("username", user.Username))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sess, err := props.Sessions.Establish(r.Context(), user.Username, set)
	if err != nil {
		props.Logger.Error("failed to establish session", logger.Err(err),
			logger.String("username", user.Username))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	props.Auditor.Emit(r.Context(), &audit.Event{
		Type:      audit.TypeLogin,
		Identity:  user.Username,
		ClientIP:  extractClientIP(r),
		RequestID: middleware.GetReqID(r.Context()),
		Outcome:   "success",
	})

	respondOk(w, &loginResponse{
		SessionID: sess.ID,
		Aggregate: sess.Aggregate,
		ExpireAt:  sess.ExpireAt,
	})
}

// handleLogout invalidates the caller's session.
func (props *HandlerProperties) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	props.Sessions.Invalidate(sess.ID)

	props.Auditor.Emit(r.Context(), &audit.Event{
		Type:      audit.TypeLogout,
		Identity:  sess.Username,
		ClientIP:  extractClientIP(r),
		RequestID: middleware.GetReqID(r.Context()),
		Outcome:   "success",
	})

	respondOk(w, map[string]string{"status": "logged_out"})
}
