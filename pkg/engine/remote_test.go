package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/multisig/pkg/hint"
)

func sampleBag(t *testing.T) *hint.Bag {
	t.Helper()
	bag := hint.NewBag()
	bag.Add(0, hint.Hint{
		Type:         hint.TypeCommitment,
		PubKeyHash:   []byte("pk"),
		FirstMessage: []byte("fm"),
		Position:     "0-0",
	})
	return bag
}

func newRemote(t *testing.T, handler http.Handler) *Remote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemote(slog.Disabled, srv.URL, time.Second)
}

func TestRemoteParseProposal(t *testing.T) {
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/parse", req.URL.Path)
		var in struct {
			Proposal []byte `json:"proposal"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		require.Equal(t, []byte("blob"), in.Proposal)
		json.NewEncoder(w).Encode(map[string]int{"numInputs": 3})
	}))

	n, err := r.ParseProposal([]byte("blob"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestRemoteSimulateRoundTripsBags(t *testing.T) {
	want := sampleBag(t)
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/simulate", req.URL.Path)
		var in struct {
			Merged []byte `json:"merged"`
		}
		require.NoError(t, json.NewDecoder(req.Body).Decode(&in))
		got, err := hint.Decode(in.Merged)
		require.NoError(t, err)
		require.Equal(t, 1, got.Len())

		encoded, err := want.Encode()
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string][]byte{"bag": encoded})
	}))

	out, err := r.SimulateFor(context.Background(), [][]byte{[]byte("pub")}, []byte("blob"),
		sampleBag(t), nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
}

func TestRemoteErrorCarriesSidecarMessage(t *testing.T) {
	r := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "unknown proposal format", http.StatusUnprocessableEntity)
	}))

	_, err := r.ParseProposal([]byte("junk"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown proposal format")
}

func TestRemoteVerifyP2PKFailsClosed(t *testing.T) {
	r := NewRemote(slog.Disabled, "http://127.0.0.1:1", 100*time.Millisecond)
	require.False(t, r.VerifyP2PK("addr", []byte("m"), []byte("sig")))
}
