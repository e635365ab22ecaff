package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequestJSONSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing content type for body request")
		}
		if r.Header.Get("X-Custom") != "yes" {
			t.Errorf("missing custom header")
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	status, body, err := RequestJSON(context.Background(), nil, http.MethodPost, srv.URL, []byte(`{}`), map[string]string{"X-Custom": "yes"}, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != 200 || string(body) != `{"ok":true}` {
		t.Fatalf("unexpected response: %d %s", status, body)
	}
}

func TestRequestJSONRetriesOn5xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(502)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), nil, http.MethodGet, srv.URL, nil, nil, 2, time.Millisecond)
	if err != nil || status != 200 {
		t.Fatalf("expected success after retries, got %d %v", status, err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRequestJSONNoRetryOn4xx(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(404)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), nil, http.MethodGet, srv.URL, nil, nil, 3, time.Millisecond)
	if err != nil || status != 404 {
		t.Fatalf("expected 404 without error, got %d %v", status, err)
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls)
	}
}

func TestRequestJSONExhaustedRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(500)
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), nil, http.MethodGet, srv.URL, nil, nil, 1, time.Millisecond)
	if err != nil {
		t.Fatalf("5xx is returned, not errored: %v", err)
	}
	if status != 500 || calls != 2 {
		t.Fatalf("expected final 500 after 2 attempts, got %d after %d", status, calls)
	}
}

func TestRequestJSONTransportError(t *testing.T) {
	client := &http.Client{Timeout: 20 * time.Millisecond}
	_, _, err := RequestJSON(context.Background(), client, http.MethodGet, "http://127.0.0.1:1", nil, nil, 1, time.Millisecond)
	if err == nil {
		t.Fatal("expected transport error")
	}
}
