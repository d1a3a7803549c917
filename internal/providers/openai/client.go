// Package openai issues chat-completions requests to OpenAI-compatible
// upstreams. Connections get a dial timeout but no read deadline;
// stream lifetime is bounded by the request context.
package openai

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

type Upstream struct {
	BaseURL string
	// APIPath overrides the default /v1/chat/completions path for
	// upstreams that mount the endpoint elsewhere.
	APIPath string
	APIKey  string
	Headers map[string]string
}

var client = &http.Client{
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	},
}

func DoChatCompletions(ctx context.Context, up Upstream, body []byte) (*http.Response, error) {
	return do(ctx, up, chatURL(up), body)
}

func do(ctx context.Context, up Upstream, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	applyAuth(req, up)
	return client.Do(req)
}

func applyAuth(req *http.Request, up Upstream) {
	if strings.TrimSpace(up.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(up.APIKey))
	}
	for k, v := range up.Headers {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
}

func chatURL(up Upstream) string {
	if p := strings.TrimSpace(up.APIPath); p != "" {
		base := strings.TrimRight(strings.TrimSpace(up.BaseURL), "/")
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		return base + p
	}
	return buildURL(up.BaseURL, "/v1/chat/completions")
}

func buildURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/v1") {
		return base + strings.TrimPrefix(path, "/v1")
	}
	return base + path
}
