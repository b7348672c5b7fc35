package cmd

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func withTestServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	oldAddr, oldTimeout, oldToken := serverAddr, timeout, jwtToken
	serverAddr = strings.TrimPrefix(srv.URL, "http://")
	timeout = 2 * time.Second
	t.Cleanup(func() {
		serverAddr, timeout, jwtToken = oldAddr, oldTimeout, oldToken
	})
}

func TestDoJSONDecodesResponse(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ping" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":"pong"}`))
	})

	var resp struct {
		Message string `json:"message"`
	}
	if err := doJSON("GET", "/v1/ping", nil, &resp); err != nil {
		t.Fatalf("doJSON: %v", err)
	}
	if resp.Message != "pong" {
		t.Errorf("message = %q", resp.Message)
	}
}

func TestDoJSONSurfacesServerError(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"subscription not found"}`))
	})

	err := doJSON("GET", "/v1/subscriptions/nope", nil, nil)
	if err == nil {
		t.Fatal("doJSON accepted a 404")
	}
	if !strings.Contains(err.Error(), "subscription not found") {
		t.Errorf("err = %v, want server message included", err)
	}
}

func TestDoJSONSendsAuthAndBody(t *testing.T) {
	var gotAuth, gotContentType string
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{}`))
	})
	jwtToken = "tok123"

	if err := doJSON("POST", "/v1/subscriptions", map[string]string{"name": "x"}, nil); err != nil {
		t.Fatalf("doJSON: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
}

func TestRootCommandWiring(t *testing.T) {
	want := map[string]bool{
		"subscription": false,
		"delivery":     false,
		"ingest":       false,
		"ping":         false,
		"version":      false,
		"completion":   false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
