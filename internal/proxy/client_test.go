package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" {
			t.Errorf("path = %q, want /execute", r.URL.Path)
		}

		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.URL != "https://target.test/api" || req.Method != "POST" {
			t.Errorf("request = %+v", req)
		}
		if req.Headers["Authorization"] != "Bearer tok" {
			t.Errorf("headers = %v", req.Headers)
		}

		json.NewEncoder(w).Encode(ExecuteResponse{Status: 200, Content: `{"ok":true}`})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Execute(context.Background(), ExecuteRequest{
		URL:     "https://target.test/api",
		Method:  "POST",
		Headers: map[string]string{"Authorization": "Bearer tok"},
		Body:    `{"q":1}`,
	})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if resp.Status != 200 || resp.Content != `{"ok":true}` {
		t.Errorf("response = %+v", resp)
	}
}

func TestExecute_DefaultsMethodToGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", req.Method)
		}
		json.NewEncoder(w).Encode(ExecuteResponse{Status: 204})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Execute(context.Background(), ExecuteRequest{URL: "https://x.test"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
}

func TestExecute_RequiresURL(t *testing.T) {
	c := NewClient("http://unused.test")
	if _, err := c.Execute(context.Background(), ExecuteRequest{}); err == nil {
		t.Error("Execute() = nil error for empty URL")
	}
}

func TestExecute_ProxyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Execute(context.Background(), ExecuteRequest{URL: "https://x.test"}); err == nil {
		t.Error("Execute() = nil error on proxy failure")
	}
}
