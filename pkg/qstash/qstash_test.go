package qstash

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientValidatesConfig(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{Token: "t", Destination: "https://example.com/hook"},
		{URL: "::bad", Token: "t", Destination: "d"},
		{URL: "https://qstash.upstash.io", Destination: "d"},
		{URL: "https://qstash.upstash.io", Token: "t"},
	}
	for _, cfg := range cases {
		if _, err := NewClient(cfg); err == nil {
			t.Fatalf("NewClient(%+v) error = nil", cfg)
		}
	}
}

func TestPublishJSON(t *testing.T) {
	t.Parallel()

	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"messageId":"msg_123"}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(Config{URL: server.URL, Token: "token", Destination: "research-turns", Retries: 2}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	id, err := client.PublishJSON(context.Background(), map[string]any{"session_id": "s-1"}, "req-1")
	if err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	if id != "msg_123" {
		t.Fatalf("PublishJSON() id = %q", id)
	}
	if gotPath != "/v2/publish/research-turns" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotHeaders.Get("Authorization") != "Bearer token" || gotHeaders.Get("Upstash-Deduplication-Id") != "req-1" || gotHeaders.Get("Upstash-Retries") != "2" {
		t.Fatalf("unexpected headers: %v", gotHeaders)
	}
	if gotBody["session_id"] != "s-1" {
		t.Fatalf("unexpected body: %v", gotBody)
	}
}

func TestPublishJSONSurfacesErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid token"}`)
	}))
	t.Cleanup(server.Close)

	client := MustNew(Config{URL: server.URL, Token: "bad", Destination: "d"}, WithHTTPClient(server.Client()))
	_, err := client.PublishJSON(context.Background(), map[string]any{}, "")
	if err == nil || !strings.Contains(err.Error(), "invalid token") {
		t.Fatalf("PublishJSON() error = %v, want invalid token", err)
	}
}
