package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRobotsGateDisallow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprintln(w, "User-agent: *\nDisallow: /blocked")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := NewRobotsGate(true, "test-agent", zaptest.NewLogger(t))
	ctx := context.Background()
	require.True(t, gate.Allowed(ctx, srv.URL+"/allowed"))
	require.False(t, gate.Allowed(ctx, srv.URL+"/blocked"))
	require.False(t, gate.Allowed(ctx, srv.URL+"/blocked/deeper"))
}

func TestRobotsGateMissingRobotsAllowsAndCaches(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := NewRobotsGate(true, "test-agent", zaptest.NewLogger(t))
	ctx := context.Background()
	require.True(t, gate.Allowed(ctx, srv.URL+"/a"))
	require.True(t, gate.Allowed(ctx, srv.URL+"/b"))
	require.Equal(t, int64(1), hits.Load())
}

func TestRobotsGateServerErrorAllowsWithoutCaching(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	gate := NewRobotsGate(true, "test-agent", zaptest.NewLogger(t))
	ctx := context.Background()
	require.True(t, gate.Allowed(ctx, srv.URL+"/a"))
	require.True(t, gate.Allowed(ctx, srv.URL+"/b"))
	// Failure was not cached, so the second query refetched robots.txt.
	require.Equal(t, int64(2), hits.Load())
}

func TestRobotsGateUnreachableHostAllows(t *testing.T) {
	gate := NewRobotsGate(true, "test-agent", zaptest.NewLogger(t))
	require.True(t, gate.Allowed(context.Background(), "http://127.0.0.1:1/whatever"))
}

func TestRobotsGateDisabled(t *testing.T) {
	gate := NewRobotsGate(false, "test-agent", zaptest.NewLogger(t))
	require.True(t, gate.Allowed(context.Background(), "https://example.com/anything"))
}
