package anthropic

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"claude-bridge/internal/apierr"
	anthropicproto "claude-bridge/internal/proto/anthropic"
	"claude-bridge/internal/proto/openai"
	anthropicProvider "claude-bridge/internal/providers/anthropic"
	"claude-bridge/internal/registry"
)

// passthrough forwards a Messages request untranslated to a native
// Anthropic-compatible upstream. Only the model field is rewritten
// when the route renames it.
func (h *Handler) passthrough(w http.ResponseWriter, r *http.Request, body []byte, req *anthropicproto.MessageCreateRequest, target *registry.Target, start time.Time, publish publishFunc) {
	outBody := body
	if target.Model != req.Model {
		if b, err := sjson.SetBytes(body, "model", target.Model); err == nil {
			outBody = b
		}
	}

	uctx, cancel := context.WithTimeout(r.Context(), h.srv.RequestTimeout)
	defer cancel()

	up := anthropicProvider.Upstream{
		BaseURL: target.BaseURL,
		APIKey:  target.APIKey,
		Headers: target.Headers,
		APIVer:  r.Header.Get("anthropic-version"),
	}
	resp, err := anthropicProvider.DoMessages(uctx, up, outBody)
	if err != nil {
		e := apierr.FromTransport(err)
		h.m.CountUpstreamError(string(e.Kind))
		publish(e.HTTPStatus(), e.Message, openai.Usage{}, 0)
		writeAPIError(w, e)
		return
	}
	defer resp.Body.Close()
	ttft := time.Since(start)
	h.m.ObserveTTFT("anthropic", ttft)

	anthropicProvider.CopyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		err = anthropicProvider.CopySSE(w, resp.Body)
	} else {
		_, err = io.Copy(w, resp.Body)
	}
	publish(resp.StatusCode, errString(err), openai.Usage{}, ttft)
}
