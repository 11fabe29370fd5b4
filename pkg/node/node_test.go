package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/multisig/pkg/errs"
)

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(slog.Disabled, srv.URL, time.Second)
}

func TestContextFetchesLastHeaders(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/blocks/lastHeaders/10", r.URL.Path)
		w.Write([]byte(`[{"height":1100}]`))
	}))

	sc, err := c.Context(context.Background())
	require.NoError(t, err)
	require.Equal(t, `[{"height":1100}]`, string(sc))
}

func TestContextNodeDown(t *testing.T) {
	c := NewHTTPClient(slog.Disabled, "http://127.0.0.1:1", 100*time.Millisecond)

	_, err := c.Context(context.Background())
	require.True(t, errs.IsKind(err, errs.NodeUnavailable))
}

func TestBroadcastRejectionCarriesReason(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("double spend"))
	}))

	err := c.Broadcast(context.Background(), []byte(`{"inputs":[]}`))
	require.True(t, errs.IsKind(err, errs.NodeUnavailable))
	require.Contains(t, err.Error(), "double spend")
}

func TestBroadcastAccepted(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"abc"`))
	}))

	require.NoError(t, c.Broadcast(context.Background(), []byte(`{}`)))
}

func TestConfirmations(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blockchain/transaction/byId/mined":
			w.Write([]byte(`{"numConfirmations":7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	n, err := c.Confirmations(context.Background(), "mined")
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = c.Confirmations(context.Background(), "unknown")
	require.NoError(t, err)
	require.Zero(t, n)
}
