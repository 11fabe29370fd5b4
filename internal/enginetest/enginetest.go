// Package enginetest provides a deterministic in-process transcript engine
// for tests. Transcripts are derived from blake3 digests instead of curve
// operations, so phase logic can be exercised without the external Sigma
// capability.
package enginetest

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/multisig/pkg/engine"
	"github.com/luxfi/multisig/pkg/hint"
	"github.com/zeebo/blake3"
)

// Engine implements engine.Engine with hash-derived transcripts.
type Engine struct {
	// FailInputs marks input indices CombineAndVerify reports as failed.
	FailInputs map[int]bool
	// CombineErr, when set, makes CombineAndVerify fail outright.
	CombineErr error
	// CombineCalls counts finalization attempts.
	CombineCalls int
	// SimulateCalls counts simulation invocations.
	SimulateCalls int
}

// New returns a fake engine with no forced failures.
func New() *Engine {
	return &Engine{FailInputs: make(map[int]bool)}
}

// Proposal builds a fake reduced-transaction blob with the given input count.
func Proposal(inputs int, seed string) []byte {
	return append([]byte{byte(inputs)}, seed...)
}

func tag(parts ...[]byte) []byte {
	h := blake3.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return h.Sum(nil)[:16]
}

func keyHash(seed string) []byte   { return tag([]byte("pk"), []byte(seed)) }
func firstMsg(seed string, input int) []byte {
	return tag([]byte("fm"), []byte(seed), []byte{byte(input)})
}
func response(seed string, input int) []byte {
	return tag([]byte("z"), []byte(seed), []byte{byte(input)})
}

// CommitBag is the public commitment bag a participant identified by seed
// would submit for a proposal with n inputs.
func CommitBag(seed string, n int) *hint.Bag {
	bag := hint.NewBag()
	for i := 0; i < n; i++ {
		bag.Add(i, hint.Hint{
			Type:         hint.TypeCommitment,
			PubKeyHash:   keyHash(seed),
			FirstMessage: firstMsg(seed, i),
			Position:     "0-0",
		})
	}
	return bag
}

// ProofBag is the response bag consistent with CommitBag for the same seed.
func ProofBag(seed string, n int) *hint.Bag {
	bag := hint.NewBag()
	for i := 0; i < n; i++ {
		bag.Add(i, hint.Hint{
			Type:           hint.TypeResponse,
			PubKeyHash:     keyHash(seed),
			FirstMessage:   firstMsg(seed, i),
			SecretResponse: response(seed, i),
			Position:       "0-0",
		})
	}
	return bag
}

func (e *Engine) ParseProposal(proposal []byte) (int, error) {
	if len(proposal) < 1 || proposal[0] < 1 {
		return 0, fmt.Errorf("enginetest: malformed proposal")
	}
	return int(proposal[0]), nil
}

func (e *Engine) GenerateCommitments(_ context.Context, secrets [][]byte, proposal []byte) (*hint.Bag, error) {
	n, err := e.ParseProposal(proposal)
	if err != nil {
		return nil, err
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("enginetest: no secrets")
	}
	return CommitBag(string(secrets[0]), n), nil
}

func (e *Engine) SimulateFor(_ context.Context, pubKeys [][]byte, proposal []byte, merged *hint.Bag,
	_ engine.StateContext, _, _ [][]byte) (*hint.Bag, error) {
	e.SimulateCalls++
	n, err := e.ParseProposal(proposal)
	if err != nil {
		return nil, err
	}
	if len(pubKeys) == 0 {
		return nil, fmt.Errorf("enginetest: no keys to simulate")
	}
	if merged == nil || merged.Len() == 0 {
		return nil, fmt.Errorf("enginetest: simulation requires collected commitments")
	}
	bag := hint.NewBag()
	for i := 0; i < n; i++ {
		bag.Add(i, hint.Hint{
			Type:         hint.TypeCommitment,
			Simulated:    true,
			PubKeyHash:   tag([]byte("sim"), pubKeys[0]),
			FirstMessage: tag([]byte("simfm"), pubKeys[0], []byte{byte(i)}),
			Position:     "0-0",
		})
	}
	return bag, nil
}

type fakePartial struct {
	Proposal []byte   `cbor:"proposal"`
	Secrets  [][]byte `cbor:"secrets"`
}

func (e *Engine) SignWithHints(_ context.Context, secrets [][]byte, proposal []byte, merged *hint.Bag) ([]byte, error) {
	if _, err := e.ParseProposal(proposal); err != nil {
		return nil, err
	}
	if merged == nil {
		return nil, fmt.Errorf("enginetest: missing hints")
	}
	return cbor.Marshal(&fakePartial{Proposal: proposal, Secrets: secrets})
}

func (e *Engine) ExtractOwnHints(_ context.Context, partialTx []byte, _ engine.StateContext,
	_, _ [][]byte, _, _ [][]byte) (*hint.Bag, error) {
	var partial fakePartial
	if err := cbor.Unmarshal(partialTx, &partial); err != nil {
		return nil, fmt.Errorf("enginetest: malformed partial tx: %w", err)
	}
	n, err := e.ParseProposal(partial.Proposal)
	if err != nil {
		return nil, err
	}
	if len(partial.Secrets) == 0 {
		return nil, fmt.Errorf("enginetest: partial tx carries no signer")
	}
	return ProofBag(string(partial.Secrets[0]), n), nil
}

func (e *Engine) CombineAndVerify(_ context.Context, proposal []byte, merged *hint.Bag,
	_ engine.StateContext, _ [][]byte) (engine.SignedTx, []bool, error) {
	e.CombineCalls++
	if e.CombineErr != nil {
		return engine.SignedTx{}, nil, e.CombineErr
	}
	n, err := e.ParseProposal(proposal)
	if err != nil {
		return engine.SignedTx{}, nil, err
	}
	verified := make([]bool, n)
	for i := 0; i < n; i++ {
		hasCommit := merged != nil && merged.FirstCommitment(i) != nil
		hasResponse := merged != nil && merged.FirstResponse(i) != nil
		verified[i] = hasCommit && hasResponse && !e.FailInputs[i]
	}
	id := hex.EncodeToString(tag([]byte("tx"), proposal))
	return engine.SignedTx{ID: id, Raw: append([]byte("signed:"), proposal...)}, verified, nil
}

// P2PKProof mints the self-authentication signature VerifyP2PK accepts.
func P2PKProof(address string, message []byte) []byte {
	return tag([]byte("p2pk"), []byte(address), message)
}

func (e *Engine) VerifyP2PK(address string, message, signature []byte) bool {
	expected := P2PKProof(address, message)
	return subtle.ConstantTimeCompare(expected, signature) == 1
}

var _ engine.Engine = (*Engine)(nil)
