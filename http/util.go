package http

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// ErrorResponse represents a JSON error response
type ErrorResponse struct {
	Errors []string `json:"errors"`
}

// respondError writes an error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := &ErrorResponse{
		Errors: []string{message},
	}

	json.NewEncoder(w).Encode(resp)
}

// respondForbidden is the single surface for every token or authorization
// failure. No decode detail leaks to the caller.
func respondForbidden(w http.ResponseWriter) {
	respondError(w, http.StatusForbidden, "forbidden")
}

// respondOk writes a successful JSON response with status 200.
func respondOk(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// decodeBody parses a JSON request body into out.
func decodeBody(r *http.Request, out any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// extractClientIP extracts the client IP from the request.
// It checks X-Real-IP first (set by reverse proxies), then X-Forwarded-For,
// then falls back to RemoteAddr.
func extractClientIP(r *http.Request) string {
	clientIP := r.Header.Get("X-Real-IP")
	if clientIP != "" {
		return clientIP
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		// The first entry is the originating client
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
