package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"claude-bridge/internal/apierr"
	anthropicproto "claude-bridge/internal/proto/anthropic"
	anthropicProvider "claude-bridge/internal/providers/anthropic"
)

// countTokens answers /v1/messages/count_tokens. Native Anthropic
// targets get the real upstream count; everything else gets a local
// character-based estimate, since chat-completions upstreams have no
// counting endpoint.
func (h *Handler) countTokens(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.Header.Get("anthropic-version")) == "" {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidRequest), "anthropic-version header is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.srv.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidRequest), "failed to read request body")
		return
	}
	var req anthropicproto.MessageCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidRequest), "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidRequest), "model is required")
		return
	}

	target, err := h.reg.Resolve(req.Model)
	if err != nil {
		writeAPIError(w, apierr.As(err))
		return
	}

	if target.Provider == "anthropic" {
		uctx, cancel := context.WithTimeout(r.Context(), h.srv.RequestTimeout)
		defer cancel()
		up := anthropicProvider.Upstream{
			BaseURL: target.BaseURL,
			APIKey:  target.APIKey,
			Headers: target.Headers,
			APIVer:  r.Header.Get("anthropic-version"),
		}
		resp, err := anthropicProvider.DoCountTokens(uctx, up, body)
		if err != nil {
			writeAPIError(w, apierr.FromTransport(err))
			return
		}
		defer resp.Body.Close()
		anthropicProvider.CopyResponseHeaders(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(anthropicproto.CountTokensResponse{
		InputTokens: estimateTokens(&req),
	})
}

// estimateTokens approximates input tokens as serialized content
// length over four. Crude, but stable and monotonic with input size.
func estimateTokens(req *anthropicproto.MessageCreateRequest) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	if req.System != nil {
		if b, err := json.Marshal(req.System); err == nil {
			n += len(b)
		}
	}
	for _, t := range req.Tools {
		n += len(t.Name) + len(t.Description) + len(t.InputSchema)
	}
	tokens := (n + 3) / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
