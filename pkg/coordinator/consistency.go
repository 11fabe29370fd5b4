package coordinator

import (
	"bytes"

	"github.com/luxfi/multisig/pkg/hint"
)

// isConsistent is the cheap fraud filter run before a partial proof is
// accepted: per input, the proof's first message and public-key hash must
// match the submitter's own recorded commitment. It checks agreement with
// the commitment phase only; the Sigma challenge/response relation itself is
// verified at finalization.
func isConsistent(proof, commitment *hint.Bag, numInputs int) bool {
	for i := 0; i < numInputs; i++ {
		response := proof.FirstResponse(i)
		recorded := commitment.FirstCommitment(i)
		if response == nil || recorded == nil {
			return false
		}
		if !bytes.Equal(response.FirstMessage, recorded.FirstMessage) {
			return false
		}
		if !bytes.Equal(response.PubKeyHash, recorded.PubKeyHash) {
			return false
		}
	}
	return true
}
