// Package anthropic serves the Anthropic-facing API: message creation
// fulfilled through OpenAI-compatible upstreams (or passed through to
// native ones), token counting, and model listing.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"claude-bridge/internal/adapters"
	"claude-bridge/internal/apierr"
	"claude-bridge/internal/config"
	"claude-bridge/internal/convert"
	"claude-bridge/internal/logbus"
	"claude-bridge/internal/metrics"
	"claude-bridge/internal/middleware"
	"claude-bridge/internal/normalize"
	anthropicproto "claude-bridge/internal/proto/anthropic"
	"claude-bridge/internal/proto/openai"
	openaiProvider "claude-bridge/internal/providers/openai"
	"claude-bridge/internal/registry"
	"claude-bridge/internal/sse"
	"claude-bridge/internal/streamconv"
)

type Handler struct {
	reg      *registry.Registry
	adapters *adapters.Registry
	m        *metrics.Metrics
	bus      *logbus.Bus
	log      *slog.Logger
	srv      config.Server
}

func NewHandler(reg *registry.Registry, ar *adapters.Registry, m *metrics.Metrics, bus *logbus.Bus, log *slog.Logger, srv config.Server) *Handler {
	return &Handler{reg: reg, adapters: ar, m: m, bus: bus, log: log, srv: srv}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/messages", h.createMessage)
	r.Post("/messages/count_tokens", h.countTokens)
	r.Get("/models", h.listModels)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Register(r)
	return r
}

type publishFunc func(status int, errMsg string, usage openai.Usage, ttft time.Duration)

func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	requestID := middleware.RequestIDFrom(ctx)

	if strings.TrimSpace(r.Header.Get("anthropic-version")) == "" {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidRequest), "anthropic-version header is required")
		return
	}
	if beta := strings.TrimSpace(r.Header.Get("anthropic-beta")); beta != "" {
		h.log.Debug("anthropic-beta requested", "request_id", requestID, "beta", beta)
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.srv.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, string(apierr.KindInvalidRequest), "request body too large")
			return
		}
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
	if req.MaxTokens <= 0 {
		writeError(w, http.StatusBadRequest, string(apierr.KindInvalidRequest), "max_tokens must be a positive integer")
		return
	}

	target, err := h.reg.Resolve(req.Model)
	if err != nil {
		writeAPIError(w, apierr.As(err))
		return
	}

	ev := logbus.Event{
		TS:            time.Now(),
		RequestID:     requestID,
		Facade:        "messages",
		RequestModel:  req.Model,
		UpstreamModel: target.Model,
		Provider:      target.Provider,
		SrcIP:         clientIP(r),
		UserAgent:     strings.TrimSpace(r.UserAgent()),
		Stream:        req.Stream,
		RequestBytes:  len(body),
	}
	publish := func(status int, errMsg string, usage openai.Usage, ttft time.Duration) {
		ev.Status = status
		ev.Error = errMsg
		ev.InputTokens = usage.PromptTokens
		ev.OutputTokens = usage.CompletionTokens
		ev.LatencyMs = time.Since(start).Milliseconds()
		if ttft > 0 {
			ev.TTFTMs = ttft.Milliseconds()
		}
		h.bus.Publish(ev)
		h.m.ObserveRequest(ev.Facade, ev.Provider, status, time.Since(start))
	}

	if target.Provider == "anthropic" {
		h.passthrough(w, r, body, &req, target, start, publish)
		return
	}

	creq, dropped, err := normalize.FromWire(&req, target.Caps)
	if err != nil {
		writeAPIError(w, apierr.As(err))
		return
	}
	creq.Model = target.Model
	if len(dropped) > 0 {
		ev.DroppedParams = strings.Join(dropped, ", ")
		w.Header().Set("X-Dropped-Params", ev.DroppedParams)
		for _, p := range dropped {
			h.m.CountDroppedParam(p)
		}
	}

	// The upstream is streamed whenever it can; a non-streaming client
	// still rides the translator via the collector.
	upstreamStream := target.Caps.Streaming
	oreq, err := convert.BuildChatRequest(creq, upstreamStream)
	if err != nil {
		writeAPIError(w, apierr.As(err))
		return
	}
	payload, err := json.Marshal(oreq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(apierr.KindTranslator), "failed to encode upstream request")
		return
	}
	adapter := h.adapters.Select(target.Model)
	if target.ToolStyle == "xml" {
		adapter = adapters.WithXMLTools(adapter)
	}
	payload = adapter.PrepareRequest(payload, creq)

	uctx, cancel := context.WithTimeout(ctx, h.srv.RequestTimeout)
	defer cancel()

	up := openaiProvider.Upstream{
		BaseURL: target.BaseURL,
		APIPath: target.APIPath,
		APIKey:  target.APIKey,
		Headers: target.Headers,
	}
	resp, err := openaiProvider.DoChatCompletions(uctx, up, payload)
	if err != nil {
		e := apierr.FromTransport(err)
		h.m.CountUpstreamError(string(e.Kind))
		publish(e.HTTPStatus(), e.Message, openai.Usage{}, 0)
		writeAPIError(w, e)
		return
	}
	defer resp.Body.Close()
	ttft := time.Since(start)
	h.m.ObserveTTFT(ev.Provider, ttft)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		e := apierr.FromUpstream(resp.StatusCode, resp.Header, raw)
		h.m.CountUpstreamError(string(e.Kind))
		publish(e.HTTPStatus(), e.Message, openai.Usage{}, ttft)
		writeAPIError(w, e)
		return
	}

	switch {
	case req.Stream && upstreamStream:
		h.streamTranslated(w, r, uctx, resp.Body, adapter, req.Model, publish, ttft)
	case req.Stream && !upstreamStream:
		h.replayUnstreamed(w, resp.Body, req.Model, publish, ttft)
	case !req.Stream && upstreamStream:
		h.collectTranslated(w, r, uctx, resp.Body, adapter, req.Model, publish, ttft)
	default:
		h.forwardUnstreamed(w, resp.Body, req.Model, publish, ttft)
	}
}

// streamTranslated serves a streaming client from a streaming
// upstream: the main path.
func (h *Handler) streamTranslated(w http.ResponseWriter, r *http.Request, uctx context.Context, body io.Reader, adapter adapters.Adapter, model string, publish publishFunc, ttft time.Duration) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := streamconv.NewWriter(w)
	tr := streamconv.New(countingSink{writer, h.m}, adapter, model, h.log)
	if err := tr.Start(); err != nil {
		publish(http.StatusOK, "client write failed", tr.Usage(), ttft)
		return
	}

	// Keepalive pings ride the writer's lock, so they never split an
	// event frame. They pause while real events are flowing.
	stop := make(chan struct{})
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		t := time.NewTicker(h.srv.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if writer.IdleFor() < h.srv.PingInterval {
					continue
				}
				if err := writer.Ping(); err != nil {
					return
				}
			}
		}
	}()

	var dec sse.Decoder
	err := drive(body, &dec, tr)
	close(stop)
	<-pingDone
	if n := dec.Truncations(); n > 0 {
		h.log.Warn("oversized upstream frames truncated", "count", n)
	}

	switch {
	case err == nil:
		if ferr := tr.Finish(); ferr != nil {
			publish(http.StatusOK, "client write failed", tr.Usage(), ttft)
			return
		}
		publish(http.StatusOK, "", tr.Usage(), ttft)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(uctx.Err(), context.DeadlineExceeded):
		// Deadline fired with data already flowed; end the message as
		// truncated rather than erroring a half-delivered stream.
		_ = tr.Expire()
		publish(http.StatusOK, "request deadline expired mid-stream", tr.Usage(), ttft)
	case r.Context().Err() != nil:
		publish(http.StatusOK, "client disconnected", tr.Usage(), ttft)
	default:
		e := apierr.FromTransport(err)
		h.m.CountUpstreamError(string(e.Kind))
		_ = tr.Abort(string(e.Kind), e.Message)
		publish(http.StatusOK, e.Message, tr.Usage(), ttft)
	}
}

// collectTranslated serves a non-streaming client from a streaming
// upstream: same translator, collected into one JSON body.
func (h *Handler) collectTranslated(w http.ResponseWriter, r *http.Request, uctx context.Context, body io.Reader, adapter adapters.Adapter, model string, publish publishFunc, ttft time.Duration) {
	collector := streamconv.NewCollector(h.log)
	tr := streamconv.New(collector, adapter, model, h.log)
	_ = tr.Start()

	var dec sse.Decoder
	err := drive(body, &dec, tr)
	if n := dec.Truncations(); n > 0 {
		h.log.Warn("oversized upstream frames truncated", "count", n)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(uctx.Err(), context.DeadlineExceeded) {
			e := &apierr.Error{Kind: apierr.KindUpstream, Status: http.StatusGatewayTimeout, Message: "upstream request timed out"}
			h.m.CountUpstreamError(string(e.Kind))
			publish(e.HTTPStatus(), e.Message, tr.Usage(), ttft)
			writeAPIError(w, e)
			return
		}
		if r.Context().Err() != nil {
			publish(0, "client disconnected", tr.Usage(), ttft)
			return
		}
		e := apierr.FromTransport(err)
		h.m.CountUpstreamError(string(e.Kind))
		publish(e.HTTPStatus(), e.Message, tr.Usage(), ttft)
		writeAPIError(w, e)
		return
	}
	_ = tr.Finish()

	aresp := collector.Response(tr.Usage())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(aresp)
	publish(http.StatusOK, "", tr.Usage(), ttft)
}

// replayUnstreamed serves a streaming client from an upstream that
// cannot stream: one POST, then the response replayed as events.
func (h *Handler) replayUnstreamed(w http.ResponseWriter, body io.Reader, model string, publish publishFunc, ttft time.Duration) {
	oresp, e := readChatResponse(body)
	if e != nil {
		h.m.CountUpstreamError(string(e.Kind))
		publish(e.HTTPStatus(), e.Message, openai.Usage{}, ttft)
		writeAPIError(w, e)
		return
	}
	aresp := convert.ResponseToAnthropic(oresp, streamconv.NewMessageID(), model)

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writer := streamconv.NewWriter(w)
	if err := streamconv.Replay(countingSink{writer, h.m}, aresp); err != nil {
		publish(http.StatusOK, "client write failed", usageOf(oresp), ttft)
		return
	}
	publish(http.StatusOK, "", usageOf(oresp), ttft)
}

// forwardUnstreamed serves a non-streaming client from a
// non-streaming upstream.
func (h *Handler) forwardUnstreamed(w http.ResponseWriter, body io.Reader, model string, publish publishFunc, ttft time.Duration) {
	oresp, e := readChatResponse(body)
	if e != nil {
		h.m.CountUpstreamError(string(e.Kind))
		publish(e.HTTPStatus(), e.Message, openai.Usage{}, ttft)
		writeAPIError(w, e)
		return
	}
	aresp := convert.ResponseToAnthropic(oresp, streamconv.NewMessageID(), model)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(aresp)
	publish(http.StatusOK, "", usageOf(oresp), ttft)
}

// drive pumps upstream SSE payloads through the translator until the
// DONE sentinel, EOF, or an error.
func drive(body io.Reader, dec *sse.Decoder, tr *streamconv.Translator) error {
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ev.Done {
					return nil
				}
				if err := tr.OnData(ev.Data); err != nil {
					return err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

func readChatResponse(body io.Reader) (*openai.ChatCompletionsResponse, *apierr.Error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, apierr.FromTransport(err)
	}
	var oresp openai.ChatCompletionsResponse
	if err := json.Unmarshal(raw, &oresp); err != nil {
		return nil, apierr.New(apierr.KindUpstream, "upstream response is not valid JSON")
	}
	return &oresp, nil
}

func usageOf(resp *openai.ChatCompletionsResponse) openai.Usage {
	if resp.Usage == nil {
		return openai.Usage{}
	}
	return *resp.Usage
}

// countingSink counts emitted event types on the way to the real sink.
type countingSink struct {
	inner streamconv.Sink
	m     *metrics.Metrics
}

func (s countingSink) Event(name string, payload any) error {
	s.m.CountEvent(name)
	return s.inner.Event(name, payload)
}

func (s countingSink) Raw(line string) error { return s.inner.Raw(line) }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && strings.TrimSpace(host) != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
