package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Startup-Consulting-Inc/newsletter/internal/api"
)

func withAPI(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	oldURL, oldKey, oldTimeout := apiURL, apiKey, requestTimeout
	apiURL, apiKey, requestTimeout = srv.URL+"/", "secret", 5*time.Second
	t.Cleanup(func() { apiURL, apiKey, requestTimeout = oldURL, oldKey, oldTimeout })
}

func TestCallAPI(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/v1/newsletters/n1/send" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.SendResponse{Success: true, Message: "Newsletter sent to 3 recipients"})
	})

	var resp api.SendResponse
	if err := callAPI(context.Background(), http.MethodPost, "/api/v1/newsletters/n1/send", nil, &resp); err != nil {
		t.Fatalf("callAPI() error = %v", err)
	}
	if resp.Message != "Newsletter sent to 3 recipients" {
		t.Errorf("Message = %q", resp.Message)
	}
}

func TestCallAPIError(t *testing.T) {
	withAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "newsletter already sent", Code: "failed-precondition"})
	})

	err := callAPI(context.Background(), http.MethodPost, "/api/v1/newsletters/n1/send", nil, nil)
	if err == nil {
		t.Fatal("callAPI() expected error")
	}
	if !strings.Contains(err.Error(), "already sent") || !strings.Contains(err.Error(), "failed-precondition") {
		t.Errorf("error = %v", err)
	}
}

func TestCallAPIRequiresKey(t *testing.T) {
	old := apiKey
	apiKey = ""
	defer func() { apiKey = old }()

	if err := callAPI(context.Background(), http.MethodGet, "/api/v1/newsletters", nil, nil); err == nil {
		t.Error("callAPI() expected error without key")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"a much longer subject line", 10, "a much ..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}

	if got := truncateID("0123456789abcdef"); got != "01234567" {
		t.Errorf("truncateID() = %q", got)
	}
}
