package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stratochat/stratochat/internal/models"
)

func TestEndpointProviderChat(t *testing.T) {
	var gotAuth, gotCustom string
	var gotReq endpointChatReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Org")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hi there"}},
			},
		})
	}))
	defer srv.Close()

	p := NewEndpointProvider(&models.Model{
		Name:        "gpt-test",
		EndpointURL: srv.URL,
		APIKey:      "sk-123",
		CustomHeaders: []models.CustomHeader{
			{Key: "X-Org", Value: "acme", Secure: true},
		},
	})

	reply, err := p.Chat(context.Background(), []Message{{Role: "user", Content: "hello"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if gotAuth != "Bearer sk-123" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	if gotCustom != "acme" {
		t.Fatalf("custom header: %q", gotCustom)
	}
	if gotReq.Model != "gpt-test" || gotReq.Stream || len(gotReq.Messages) != 1 {
		t.Fatalf("unexpected upstream request: %+v", gotReq)
	}
}

func TestEndpointProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		case "/apierr":
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "invalid api key"},
			})
		default:
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}
	}))
	defer srv.Close()

	mk := func(path string) *EndpointProvider {
		return NewEndpointProvider(&models.Model{Name: "m", EndpointURL: srv.URL + path})
	}
	ctx := context.Background()

	if _, err := mk("/down").Chat(ctx, nil); err == nil || !strings.Contains(err.Error(), "http 502") {
		t.Fatalf("expected http error, got %v", err)
	}
	if _, err := mk("/apierr").Chat(ctx, nil); err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected api error, got %v", err)
	}
	if _, err := mk("/empty").Chat(ctx, nil); err == nil || !strings.Contains(err.Error(), "empty choices") {
		t.Fatalf("expected empty-choices error, got %v", err)
	}

	p := &EndpointProvider{EndpointURL: "", Client: http.DefaultClient}
	if _, err := p.Chat(ctx, nil); err == nil {
		t.Fatalf("expected error for missing url")
	}
}
