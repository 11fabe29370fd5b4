package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/luxfi/multisig/pkg/hint"
)

// Remote is an Engine backed by a prover sidecar over HTTP. The sidecar owns
// the Sigma-protocol cryptography; this client only moves opaque blobs and
// serialized hint bags across the wire.
type Remote struct {
	log  slog.Logger
	base string
	http *http.Client
}

// NewRemote returns an engine client for the sidecar at baseURL.
func NewRemote(log slog.Logger, baseURL string, timeout time.Duration) *Remote {
	return &Remote{
		log:  log,
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (r *Remote) call(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("engine %s: encode request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("engine %s: status %d: %s", path, resp.StatusCode, string(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("engine %s: decode response: %w", path, err)
	}
	return nil
}

func encodeBag(bag *hint.Bag) ([]byte, error) {
	if bag == nil {
		return nil, nil
	}
	return bag.Encode()
}

func (r *Remote) ParseProposal(proposal []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.http.Timeout)
	defer cancel()
	var out struct {
		NumInputs int `json:"numInputs"`
	}
	in := struct {
		Proposal []byte `json:"proposal"`
	}{proposal}
	if err := r.call(ctx, "/parse", in, &out); err != nil {
		return 0, err
	}
	return out.NumInputs, nil
}

func (r *Remote) GenerateCommitments(ctx context.Context, secrets [][]byte, proposal []byte) (*hint.Bag, error) {
	in := struct {
		Secrets  [][]byte `json:"secrets"`
		Proposal []byte   `json:"proposal"`
	}{secrets, proposal}
	var out struct {
		Bag []byte `json:"bag"`
	}
	if err := r.call(ctx, "/commit", in, &out); err != nil {
		return nil, err
	}
	return hint.Decode(out.Bag)
}

func (r *Remote) SimulateFor(ctx context.Context, pubKeys [][]byte, proposal []byte, merged *hint.Bag,
	sc StateContext, inputs, dataInputs [][]byte) (*hint.Bag, error) {
	mergedBytes, err := encodeBag(merged)
	if err != nil {
		return nil, err
	}
	in := struct {
		PubKeys      [][]byte `json:"pubKeys"`
		Proposal     []byte   `json:"proposal"`
		Merged       []byte   `json:"merged"`
		StateContext []byte   `json:"stateContext"`
		Inputs       [][]byte `json:"inputs"`
		DataInputs   [][]byte `json:"dataInputs,omitempty"`
	}{pubKeys, proposal, mergedBytes, sc, inputs, dataInputs}
	var out struct {
		Bag []byte `json:"bag"`
	}
	if err := r.call(ctx, "/simulate", in, &out); err != nil {
		return nil, err
	}
	return hint.Decode(out.Bag)
}

func (r *Remote) SignWithHints(ctx context.Context, secrets [][]byte, proposal []byte, merged *hint.Bag) ([]byte, error) {
	mergedBytes, err := encodeBag(merged)
	if err != nil {
		return nil, err
	}
	in := struct {
		Secrets  [][]byte `json:"secrets"`
		Proposal []byte   `json:"proposal"`
		Merged   []byte   `json:"merged"`
	}{secrets, proposal, mergedBytes}
	var out struct {
		PartialTx []byte `json:"partialTx"`
	}
	if err := r.call(ctx, "/sign", in, &out); err != nil {
		return nil, err
	}
	return out.PartialTx, nil
}

func (r *Remote) ExtractOwnHints(ctx context.Context, partialTx []byte, sc StateContext,
	inputs, dataInputs [][]byte, proven, simulated [][]byte) (*hint.Bag, error) {
	in := struct {
		PartialTx    []byte   `json:"partialTx"`
		StateContext []byte   `json:"stateContext"`
		Inputs       [][]byte `json:"inputs"`
		DataInputs   [][]byte `json:"dataInputs,omitempty"`
		Proven       [][]byte `json:"proven"`
		Simulated    [][]byte `json:"simulated"`
	}{partialTx, sc, inputs, dataInputs, proven, simulated}
	var out struct {
		Bag []byte `json:"bag"`
	}
	if err := r.call(ctx, "/extract", in, &out); err != nil {
		return nil, err
	}
	return hint.Decode(out.Bag)
}

func (r *Remote) CombineAndVerify(ctx context.Context, proposal []byte, merged *hint.Bag,
	sc StateContext, inputs [][]byte) (SignedTx, []bool, error) {
	mergedBytes, err := encodeBag(merged)
	if err != nil {
		return SignedTx{}, nil, err
	}
	in := struct {
		Proposal     []byte   `json:"proposal"`
		Merged       []byte   `json:"merged"`
		StateContext []byte   `json:"stateContext"`
		Inputs       [][]byte `json:"inputs"`
	}{proposal, mergedBytes, sc, inputs}
	var out struct {
		TxID     string `json:"txId"`
		Raw      []byte `json:"raw"`
		Verified []bool `json:"verified"`
	}
	if err := r.call(ctx, "/combine", in, &out); err != nil {
		return SignedTx{}, nil, err
	}
	return SignedTx{ID: out.TxID, Raw: out.Raw}, out.Verified, nil
}

func (r *Remote) VerifyP2PK(address string, message, signature []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.http.Timeout)
	defer cancel()
	in := struct {
		Address   string `json:"address"`
		Message   []byte `json:"message"`
		Signature []byte `json:"signature"`
	}{address, message, signature}
	var out struct {
		Valid bool `json:"valid"`
	}
	if err := r.call(ctx, "/verifyP2pk", in, &out); err != nil {
		r.log.Warnf("engine verifyP2pk: %v", err)
		return false
	}
	return out.Valid
}

var _ Engine = (*Remote)(nil)
