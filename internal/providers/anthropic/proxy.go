// Package anthropic forwards Messages-protocol requests unchanged to a
// native Anthropic-compatible upstream. No translation happens here;
// the body passes through both ways.
package anthropic

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultAPIVersion = "2023-06-01"

type Upstream struct {
	BaseURL string
	APIKey  string
	Headers map[string]string
	APIVer  string
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

func DoMessages(ctx context.Context, up Upstream, body []byte) (*http.Response, error) {
	return do(ctx, up, buildURL(up.BaseURL, "/v1/messages"), body)
}

func DoCountTokens(ctx context.Context, up Upstream, body []byte) (*http.Response, error) {
	return do(ctx, up, buildURL(up.BaseURL, "/v1/messages/count_tokens"), body)
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
	ver := strings.TrimSpace(up.APIVer)
	if ver == "" {
		ver = defaultAPIVersion
	}
	req.Header.Set("anthropic-version", ver)
	if strings.TrimSpace(up.APIKey) != "" {
		req.Header.Set("x-api-key", up.APIKey)
	}
	for k, v := range up.Headers {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		req.Header.Set(k, v)
	}
}

// hopByHop lists headers that must not be forwarded between hops.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CopyResponseHeaders forwards upstream response headers, dropping
// hop-by-hop ones.
func CopyResponseHeaders(dst http.Header, src http.Header) {
	for k, vals := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHop {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

// CopySSE relays a streaming body flush-per-read so events reach the
// client as they arrive.
func CopySSE(w http.ResponseWriter, r io.Reader) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		_, err := io.Copy(w, r)
		return err
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			flusher.Flush()
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func buildURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(base, "/v1") {
		return base + strings.TrimPrefix(path, "/v1")
	}
	return base + path
}
