package anthropic

import (
	"encoding/json"
	"net/http"

	"claude-bridge/internal/apierr"
)

type apiErrorResponse struct {
	Type  string      `json:"type"`
	Error apiErrorObj `json:"error"`
}

type apiErrorObj struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, typ string, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiErrorResponse{
		Type: "error",
		Error: apiErrorObj{
			Type:    typ,
			Message: msg,
		},
	})
}

// writeAPIError renders a classified failure, carrying Retry-After
// through on rate limits.
func writeAPIError(w http.ResponseWriter, e *apierr.Error) {
	if e.RetryAfter != "" {
		w.Header().Set("Retry-After", e.RetryAfter)
	}
	writeError(w, e.HTTPStatus(), string(e.Kind), e.Message)
}
