package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatURL(t *testing.T) {
	cases := []struct {
		name string
		up   Upstream
		want string
	}{
		{"bare host", Upstream{BaseURL: "https://api.openai.com"}, "https://api.openai.com/v1/chat/completions"},
		{"trailing slash", Upstream{BaseURL: "https://api.openai.com/"}, "https://api.openai.com/v1/chat/completions"},
		{"v1 suffix not doubled", Upstream{BaseURL: "https://api.deepseek.com/v1"}, "https://api.deepseek.com/v1/chat/completions"},
		{"nested prefix", Upstream{BaseURL: "https://gateway.example/openai"}, "https://gateway.example/openai/v1/chat/completions"},
		{"api path override", Upstream{BaseURL: "https://llm.example", APIPath: "/api/chat"}, "https://llm.example/api/chat"},
		{"api path without slash", Upstream{BaseURL: "https://llm.example/", APIPath: "api/chat"}, "https://llm.example/api/chat"},
	}
	for _, tc := range cases {
		if got := chatURL(tc.up); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDoChatCompletionsHeaders(t *testing.T) {
	var gotAuth, gotCT, gotExtra, gotBlank string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		gotExtra = r.Header.Get("X-Custom")
		gotBlank = r.Header.Get("X-Blank")
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	up := Upstream{
		BaseURL: ts.URL,
		APIKey:  " sk-padded ",
		Headers: map[string]string{"X-Custom": "yes", "X-Blank": " "},
	}
	resp, err := DoChatCompletions(context.Background(), up, []byte(`{"model":"m"}`))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer sk-padded" {
		t.Fatalf("auth: %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Fatalf("content type: %q", gotCT)
	}
	if gotExtra != "yes" {
		t.Fatalf("extra header: %q", gotExtra)
	}
	if gotBlank != "" {
		t.Fatalf("blank-valued headers should be skipped: %q", gotBlank)
	}
}

func TestDoChatCompletionsNoKey(t *testing.T) {
	var sawAuth bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawAuth = r.Header["Authorization"]
		w.Write([]byte("{}"))
	}))
	defer ts.Close()

	resp, err := DoChatCompletions(context.Background(), Upstream{BaseURL: ts.URL}, []byte("{}"))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()
	if sawAuth {
		t.Fatal("no Authorization header expected without a key")
	}
}
