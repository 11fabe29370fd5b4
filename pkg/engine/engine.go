// Package engine declares the transcript-engine capability the coordinator
// sequences: generation, simulation and verification of Sigma-protocol
// transcripts for reduced transactions.
//
// The engine is an external collaborator. The coordinator never interprets
// transaction or box blobs; it only routes them, together with hint bags,
// through this interface. Implementations are expected to be stateless and
// safe for concurrent use.
package engine

import (
	"context"

	"github.com/luxfi/multisig/pkg/hint"
)

// StateContext is the opaque blockchain state (recent headers) an engine
// needs to produce and verify proofs. It is fetched from the node client and
// passed through unchanged.
type StateContext []byte

// SignedTx is a fully signed transaction produced at finalization.
type SignedTx struct {
	// ID identifies the transaction on chain, used for confirmation polling.
	ID string
	// Raw is the serialized transaction, broadcast as-is.
	Raw []byte
}

// Engine is the Sigma-protocol transcript capability.
type Engine interface {
	// ParseProposal validates a reduced-transaction blob and returns its
	// input count.
	ParseProposal(proposal []byte) (int, error)

	// GenerateCommitments produces a participant's first-message transcripts
	// for every input: per input one public ("known") and one private ("own")
	// hint. Used by participant tooling, not by the server, which never holds
	// secrets.
	GenerateCommitments(ctx context.Context, secrets [][]byte, proposal []byte) (*hint.Bag, error)

	// SimulateFor produces a valid-looking, secret-free commitment transcript
	// for each of the given public keys, seeded with the real commitments
	// collected so far. Required so the threshold proof stays sound without
	// those parties' secrets.
	SimulateFor(ctx context.Context, pubKeys [][]byte, proposal []byte, merged *hint.Bag,
		sc StateContext, inputs, dataInputs [][]byte) (*hint.Bag, error)

	// SignWithHints signs the proposal with the given secrets on top of the
	// merged hints, returning a partially signed transaction.
	SignWithHints(ctx context.Context, secrets [][]byte, proposal []byte, merged *hint.Bag) ([]byte, error)

	// ExtractOwnHints extracts a signer's shareable response transcript from
	// a partially signed transaction.
	ExtractOwnHints(ctx context.Context, partialTx []byte, sc StateContext,
		inputs, dataInputs [][]byte, proven, simulated [][]byte) (*hint.Bag, error)

	// CombineAndVerify assembles the final transaction from the merged hints
	// using an empty-secret signer and verifies each input's proof. The
	// returned slice has one entry per input; false marks a failed input.
	// The transaction is returned even when some inputs fail verification.
	CombineAndVerify(ctx context.Context, proposal []byte, merged *hint.Bag,
		sc StateContext, inputs [][]byte) (SignedTx, []bool, error)

	// VerifyP2PK checks a self-authentication signature over message made by
	// the holder of the key behind the given P2PK address.
	VerifyP2PK(address string, message, signature []byte) bool
}
