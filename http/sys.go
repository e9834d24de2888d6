package http

import "net/http"

// handleMetrics exposes the operational counters of the security core.
func (props *HandlerProperties) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondOk(w, map[string]any{
		"token":    props.Codec.GetMetrics(),
		"guard":    props.Guard.GetMetrics(),
		"sessions": props.Sessions.GetMetrics(),
	})
}
