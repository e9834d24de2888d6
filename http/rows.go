package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-secure-stdlib/strutil"
	"github.com/timerhsenso/sentinela/audit"
	"github.com/timerhsenso/sentinela/grants"
	"github.com/timerhsenso/sentinela/guard"
	"github.com/timerhsenso/sentinela/logger"
	"github.com/timerhsenso/sentinela/storage"
	"github.com/timerhsenso/sentinela/token"
)

// rowRef is the entity key structure carried inside row-action tokens. Raw
// identifiers never appear in URLs or forms; the token is the capability.
type rowRef struct {
	System   string `json:"s"`
	Function string `json:"f"`
	Key      string `json:"k"`
}

type listedRow struct {
	Key         string         `json:"key"`
	Label       string         `json:"label"`
	Active      bool           `json:"active"`
	Version     int64          `json:"version"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Fields      map[string]any `json:"fields,omitempty"`
	EditToken   string         `json:"edit_token,omitempty"`
	DeleteToken string         `json:"delete_token,omitempty"`
}

// handleListRows renders the rows of one admin function, each annotated with
// freshly minted edit/delete tokens for the actions the caller holds.
func (props *HandlerProperties) handleListRows(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	system := chi.URLParam(r, "system")
	function := chi.URLParam(r, "function")

	if decision := props.Gate.Authorize(sess.ID, system, function, grants.ActionInquire); !decision.Allowed {
		props.auditDenied(r, sess.Username, system, function, decision.Reason)
		respondForbidden(w)
		return
	}

	rows, err := props.Entities.List(r.Context(), system, function)
	if err != nil {
		props.Logger.Error("failed to list rows", logger.Err(err),
			logger.String("system", system),
			logger.String("function", function))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	reader := sess.Reader()
	canEdit := reader.HoldsAny(system, function, grants.ActionEdit)
	canDelete := reader.HoldsAny(system, function, grants.ActionDelete)

	listed := make([]*listedRow, 0, len(rows))
	for _, row := range rows {
		item := &listedRow{
			Key:       row.Key,
			Label:     row.Label,
			Active:    row.Active,
			Version:   row.Version,
			UpdatedAt: row.UpdatedAt,
			Fields:    row.Fields,
		}

		ref := rowRef{System: row.System, Function: row.Function, Key: row.Key}
		if canEdit {
			item.EditToken, err = props.Codec.Issue(r.Context(), ref, token.PurposeEdit, sess.Username, props.TokenTTL)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		if canDelete {
			item.DeleteToken, err = props.Codec.Issue(r.Context(), ref, token.PurposeDelete, sess.Username, props.TokenTTL)
			if err != nil {
				respondError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		listed = append(listed, item)
	}

	respondOk(w, map[string]any{"rows": listed})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// handleEditByToken resolves an edit token back to its row and returns the
// row for the edit form. The token is the only key material accepted.
func (props *HandlerProperties) handleEditByToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	ref, ok := props.redeemRowToken(w, r, req.Token, token.PurposeEdit, grants.ActionEdit)
	if !ok {
		return
	}

	row, err := props.Entities.Get(r.Context(), storage.GuardKey(ref.System, ref.Function, ref.Key))
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "row not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondOk(w, map[string]any{"row": row})
}

// handleDeleteByToken deletes the row named by a delete token.
func (props *HandlerProperties) handleDeleteByToken(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req tokenRequest
	if err := decodeBody(r, &req); err != nil || req.Token == "" {
		respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	ref, ok := props.redeemRowToken(w, r, req.Token, token.PurposeDelete, grants.ActionDelete)
	if !ok {
		return
	}

	guardKey := storage.GuardKey(ref.System, ref.Function, ref.Key)
	err := props.Entities.Delete(r.Context(), guardKey)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "row not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	props.Auditor.Emit(r.Context(), &audit.Event{
		Type:      audit.TypeRowDeleted,
		Identity:  sess.Username,
		ClientIP:  extractClientIP(r),
		RequestID: middleware.GetReqID(r.Context()),
		Outcome:   "success",
		Detail:    map[string]string{"row": guardKey},
	})

	respondOk(w, map[string]string{"status": "deleted"})
}

type batchDeleteRequest struct {
	Tokens []string `json:"tokens"`
}

type batchDeleteResponse struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// handleBatchDelete deletes rows for a list of tokens. Each token is
// redeemed and authorized independently; partial failure is expected and
// reported as counts, never all-or-nothing.
func (props *HandlerProperties) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	var req batchDeleteRequest
	if err := decodeBody(r, &req); err != nil || len(req.Tokens) == 0 {
		respondError(w, http.StatusBadRequest, "tokens are required")
		return
	}

	tokens := strutil.RemoveDuplicates(req.Tokens, false)

	var result batchDeleteResponse
	var errs *multierror.Error

	for _, tok := range tokens {
		var ref rowRef
		if err := props.Codec.RedeemFor(r.Context(), tok, token.PurposeDelete, sess.Username, &ref); err != nil {
			props.auditTokenRejected(r, sess.Username, tok, err)
			errs = multierror.Append(errs, err)
			result.Failed++
			continue
		}

		if decision := props.Gate.Authorize(sess.ID, ref.System, ref.Function, grants.ActionDelete); !decision.Allowed {
			props.auditDenied(r, sess.Username, ref.System, ref.Function, decision.Reason)
			result.Failed++
			continue
		}

		guardKey := storage.GuardKey(ref.System, ref.Function, ref.Key)
		if err := props.Entities.Delete(r.Context(), guardKey); err != nil {
			errs = multierror.Append(errs, err)
			result.Failed++
			continue
		}

		props.Auditor.Emit(r.Context(), &audit.Event{
			Type:      audit.TypeRowDeleted,
			Identity:  sess.Username,
			ClientIP:  extractClientIP(r),
			RequestID: middleware.GetReqID(r.Context()),
			Outcome:   "success",
			Detail:    map[string]string{"row": guardKey},
		})
		result.Succeeded++
	}

	if err := errs.ErrorOrNil(); err != nil {
		props.Logger.Debug("batch delete finished with failures",
			logger.Int("succeeded", result.Succeeded),
			logger.Int("failed", result.Failed),
			logger.Err(err))
	}

	respondOk(w, &result)
}

type toggleRequest struct {
	Active bool `json:"active"`
}

// handleToggleActive flips a row's active flag. The raw key plus ambient
// session identity is accepted here, unlike edit/delete; the guard's
// throttle and the authorization gate bound the damage of the weaker
// addressing, and the asymmetry matches the screens this core fronts.
func (props *HandlerProperties) handleToggleActive(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	system := chi.URLParam(r, "system")
	function := chi.URLParam(r, "function")
	key := chi.URLParam(r, "key")

	var req toggleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed body")
		return
	}

	if decision := props.Gate.Authorize(sess.ID, system, function, grants.ActionEdit); !decision.Allowed {
		props.auditDenied(r, sess.Username, system, function, decision.Reason)
		respondForbidden(w)
		return
	}

	guardKey := storage.GuardKey(system, function, key)
	outcome, err := props.Guard.SetActive(r.Context(), guardKey, req.Active, props.Entities)

	props.Auditor.Emit(r.Context(), &audit.Event{
		Type:      audit.TypeToggle,
		Identity:  sess.Username,
		ClientIP:  extractClientIP(r),
		RequestID: middleware.GetReqID(r.Context()),
		Outcome:   outcome.String(),
		Detail:    map[string]string{"row": guardKey},
	})

	switch outcome {
	case guard.Applied, guard.NoOp:
		respondOk(w, map[string]any{"outcome": outcome.String(), "active": req.Active})
	case guard.Busy:
		respondError(w, http.StatusConflict, "row is being changed, try again")
	case guard.Throttled:
		respondError(w, http.StatusTooManyRequests, "row changed too recently, try again")
	case guard.NotFound:
		respondError(w, http.StatusNotFound, "row not found")
	default:
		props.Logger.Error("toggle failed", logger.Err(err),
			logger.String("row", guardKey))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// redeemRowToken redeems a row-action token bound to the expected purpose
// and the caller's identity, then authorizes the action. Every failure
// surfaces as the same generic forbidden response.
func (props *HandlerProperties) redeemRowToken(w http.ResponseWriter, r *http.Request, tok, purpose, requiredAction string) (rowRef, bool) {
	sess := sessionFrom(r)

	var ref rowRef
	if err := props.Codec.RedeemFor(r.Context(), tok, purpose, sess.Username, &ref); err != nil {
		props.auditTokenRejected(r, sess.Username, tok, err)
		respondForbidden(w)
		return rowRef{}, false
	}

	if decision := props.Gate.Authorize(sess.ID, ref.System, ref.Function, requiredAction); !decision.Allowed {
		props.auditDenied(r, sess.Username, ref.System, ref.Function, decision.Reason)
		respondForbidden(w)
		return rowRef{}, false
	}

	return ref, true
}

func (props *HandlerProperties) auditTokenRejected(r *http.Request, identity, tok string, err error) {
	props.Auditor.Emit(r.Context(), &audit.Event{
		Type:      audit.TypeTokenRejected,
		Identity:  identity,
		ClientIP:  extractClientIP(r),
		RequestID: middleware.GetReqID(r.Context()),
		Outcome:   "rejected",
		Detail: map[string]string{
			"token":  tok,
			"reason": err.Error(),
		},
	})
}

func (props *HandlerProperties) auditDenied(r *http.Request, identity, system, function, reason string) {
	props.Auditor.Emit(r.Context(), &audit.Event{
		Type:      audit.TypeAuthzDenied,
		Identity:  identity,
		ClientIP:  extractClientIP(r),
		RequestID: middleware.GetReqID(r.Context()),
		Outcome:   "denied",
		Detail: map[string]string{
			"system":   system,
			"function": function,
			"reason":   reason,
		},
	})
}
