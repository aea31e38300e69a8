package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/server/handler"
	"github.com/alanyoungcy/tradegate/internal/server/middleware"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRoutesAndAuth(t *testing.T) {
	h := Handlers{
		Health:  handler.NewHealthHandler(nil, testLogger()),
		Status:  handler.NewStatusHandler("server", nil),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "# metrics") }),
	}
	srv := httptest.NewServer(newHandler(Config{APIKey: "k"}, h, nil, nil, testLogger()))
	defer srv.Close()

	get := func(path, key string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("X-API-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := get("/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(middleware.HeaderRequestID))

	assert.Equal(t, http.StatusOK, get("/metrics", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("/api/status", "").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/status", "k").StatusCode)
	// risk handler not supplied, so its routes are absent
	assert.Equal(t, http.StatusNotFound, get("/api/risk/limits", "k").StatusCode)
}

func TestServeAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(Config{}, Handlers{Health: handler.NewHealthHandler(nil, testLogger())}, nil, nil, testLogger())
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errc)
}
