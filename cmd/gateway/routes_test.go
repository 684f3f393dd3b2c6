package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxgateway/agent/internal/readiness"
)

func newTestDeps() deps {
	return deps{
		cfg:   gatewayConfig{},
		t:     defaultTuning(),
		check: readiness.NewChecker(map[readiness.Backend]string{}),
	}
}

func TestRoutes_TraceEndpointsAreServiceUnavailableWithoutTracing(t *testing.T) {
	d := newTestDeps()
	mux := http.NewServeMux()
	registerRoutes(mux, d)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/sessions", "/sessions/abc", "/sessions/abc/runs/def"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "path %s", path)
	}
}

func TestRoutes_HealthzAlwaysOK(t *testing.T) {
	d := newTestDeps()
	mux := http.NewServeMux()
	registerRoutes(mux, d)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutes_ReadyzReflectsBackendHealth(t *testing.T) {
	d := newTestDeps()
	mux := http.NewServeMux()
	registerRoutes(mux, d)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// no backend URLs configured means every backend reports healthy
	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
