package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradegate/internal/crypto"
	"github.com/alanyoungcy/tradegate/internal/domain"
)

type gateway struct {
	mu        sync.Mutex
	clientIDs []string
	fail      int
	verified  bool
}

func (g *gateway) handler(t *testing.T, signer crypto.RequestSigner) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ok := signer.Verify(r.Method, r.URL.Path, body,
			r.Header.Get(crypto.HeaderTimestamp), r.Header.Get(crypto.HeaderSignature), time.Now(), time.Minute)

		var req openRequest
		assert.NoError(t, json.Unmarshal(body, &req))

		g.mu.Lock()
		g.verified = ok
		g.clientIDs = append(g.clientIDs, req.ClientOrderID)
		fail := g.fail > 0
		if fail {
			g.fail--
		}
		g.mu.Unlock()

		if fail {
			http.Error(w, "upstream timeout", http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(openResponse{OrderID: "ord-1", FillPrice: 101.5, Status: "filled"})
	})
	mux.HandleFunc("POST /positions/{asset}/close", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("asset") != "BTC" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(closeResponse{FillPrice: 99.25, Status: "filled"})
	})
	return mux
}

func TestHTTPExecutorOpenAndClose(t *testing.T) {
	signer := crypto.RequestSigner{Key: "k", Secret: "s3cret"}
	g := &gateway{}
	srv := httptest.NewServer(g.handler(t, signer))
	defer srv.Close()

	e := NewHTTP(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "k", APISecret: "s3cret"}, discard())

	ack, err := e.ExecuteOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideLong, Size: 500, Leverage: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderAck{OrderID: "ord-1", FillPrice: 101.5}, ack)
	assert.True(t, g.verified, "request carries a valid signature")

	fill, err := e.CloseOrder(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, 99.25, fill)

	_, err = e.CloseOrder(context.Background(), "DOGE")
	assert.True(t, errors.Is(err, domain.ErrExecution))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestHTTPExecutorRetryReusesClientOrderID(t *testing.T) {
	g := &gateway{fail: 1}
	srv := httptest.NewServer(g.handler(t, crypto.RequestSigner{}))
	defer srv.Close()

	e := NewHTTP(HTTPConfig{BaseURL: srv.URL}, discard())
	req := domain.OrderRequest{Asset: "ETH", Side: domain.SideShort, Size: 250, Leverage: 2}

	_, err := e.ExecuteOrder(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExecution))

	_, err = e.ExecuteOrder(context.Background(), req)
	require.NoError(t, err)

	_, err = e.ExecuteOrder(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, g.clientIDs, 3)
	assert.Equal(t, g.clientIDs[0], g.clientIDs[1], "retry of an unacknowledged open")
	assert.NotEqual(t, g.clientIDs[1], g.clientIDs[2], "acknowledged opens release their ID")
}

func TestHTTPExecutorRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openResponse{OrderID: "x", Status: "rejected", Message: "insufficient margin"})
	}))
	defer srv.Close()

	e := NewHTTP(HTTPConfig{BaseURL: srv.URL}, discard())
	_, err := e.ExecuteOrder(context.Background(), domain.OrderRequest{Asset: "BTC", Side: domain.SideLong, Size: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient margin")
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(204, nil))
	assert.True(t, errors.Is(checkHTTPStatus(401, []byte("no")), domain.ErrUnauthorized))
	assert.True(t, errors.Is(checkHTTPStatus(429, nil), domain.ErrRateLimited))
	assert.EqualError(t, checkHTTPStatus(500, []byte(" boom \n")), "HTTP 500: boom")
}

func TestClientIDsExpire(t *testing.T) {
	c := newClientIDs(time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	req := domain.OrderRequest{Asset: "BTC", Side: domain.SideLong, Size: 10, Leverage: 1}
	first := c.get(req)
	assert.Equal(t, first, c.get(req))

	other := req
	other.Size = 20
	second := c.get(other)
	assert.NotEqual(t, first, second, "a different request replaces the pending ID")
	assert.Equal(t, second, c.get(other))

	now = now.Add(2 * time.Minute)
	assert.NotEqual(t, second, c.get(other))
}
