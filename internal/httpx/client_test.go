package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/xbridge/internal/errors"
)

func TestDoJSONRetriesServerError(t *testing.T) {
	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"x"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var observed []int
	client := New(2*time.Second, 1).WithObserver(func(host string, status int, _ time.Duration) {
		if host != "127.0.0.1" {
			t.Errorf("unexpected host: %s", host)
		}
		observed = append(observed, status)
	})
	var out map[string]any
	if err := client.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("unexpected response: %#v", out)
	}
	if len(observed) != 2 || observed[0] != http.StatusInternalServerError || observed[1] != http.StatusOK {
		t.Fatalf("unexpected observed statuses: %v", observed)
	}
}

func TestDoJSONMapsStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   clierr.Code
	}{
		{http.StatusTooManyRequests, clierr.CodeRateLimited},
		{http.StatusForbidden, clierr.CodeAuth},
		{http.StatusBadGateway, clierr.CodeUnavailable},
		{http.StatusNotFound, clierr.CodeUnsupported},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		err := New(2*time.Second, 0).GetJSON(context.Background(), srv.URL, &map[string]any{})
		srv.Close()
		cErr, ok := clierr.As(err)
		if !ok || cErr.Code != tc.want {
			t.Fatalf("status %d: expected code %d, got %v", tc.status, tc.want, err)
		}
	}
}

func TestDoBodyJSONSendsUserAgentAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "xbridge/1.0" || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out map[string]any
	if _, err := DoBodyJSON(context.Background(), New(2*time.Second, 0), http.MethodPost, srv.URL, []byte(`{}`), nil, &out); err != nil {
		t.Fatalf("DoBodyJSON failed: %v", err)
	}
}

func TestDoJSONIncludesProviderMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"No available quotes for the requested transfer"}`))
	}))
	defer srv.Close()

	err := New(2*time.Second, 0).GetJSON(context.Background(), srv.URL, &map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "No available quotes") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if got := retryAfter(h); got != 0 {
		t.Fatalf("expected no wait without header, got %s", got)
	}
	h.Set("Retry-After", "2")
	if got := retryAfter(h); got != 2*time.Second {
		t.Fatalf("expected 2s, got %s", got)
	}
	h.Set("Retry-After", "600")
	if got := retryAfter(h); got != maxRetryAfter {
		t.Fatalf("expected cap %s, got %s", maxRetryAfter, got)
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if got := retryAfter(h); got != 0 {
		t.Fatalf("expected http-date to be ignored, got %s", got)
	}
}
