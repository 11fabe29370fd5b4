package httpd

import (
	"github.com/luxfi/multisig/pkg/auth"
	"github.com/luxfi/multisig/pkg/party"
)

// envelope carries the authentication fields every mutating request signs.
// SigningBytes is the canonical CBOR of the full request with the signature
// cleared, so the JSON field order on the wire never matters.
type envelope struct {
	XPub      party.ID `json:"xpub" cbor:"xpub"`
	Pub       []byte   `json:"pub" cbor:"pub"`
	Signature []byte   `json:"signature,omitempty" cbor:"signature,omitempty"`
}

func (e *envelope) AuthXPub() party.ID    { return e.XPub }
func (e *envelope) AuthPub() []byte       { return e.Pub }
func (e *envelope) AuthSignature() []byte { return e.Signature }

type registerRequest struct {
	XPub  party.ID `json:"xpub"`
	Pub   []byte   `json:"pub"`
	Proof []byte   `json:"proof"`
}

type revokeRequest struct {
	envelope
}

func (r *revokeRequest) SigningBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return auth.CanonicalBytes(&unsigned)
}

type createTeamRequest struct {
	envelope
	Name  string   `json:"name" cbor:"name"`
	XPubs []string `json:"xpubs" cbor:"xpubs"`
	M     int      `json:"m" cbor:"m"`
}

func (r *createTeamRequest) SigningBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return auth.CanonicalBytes(&unsigned)
}

type proposeRequest struct {
	envelope
	TeamID     string   `json:"teamId" cbor:"teamId"`
	Blob       []byte   `json:"reducedTx" cbor:"reducedTx"`
	Inputs     [][]byte `json:"inputs" cbor:"inputs"`
	DataInputs [][]byte `json:"dataInputs,omitempty" cbor:"dataInputs,omitempty"`
	MaxDerived int      `json:"maxDerived" cbor:"maxDerived"`
}

func (r *proposeRequest) SigningBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return auth.CanonicalBytes(&unsigned)
}

// bagRequest is shared by commitment and partial-proof submissions. The
// proposal ID is part of the signed payload so a captured submission cannot
// be replayed against a different proposal.
type bagRequest struct {
	envelope
	ProposalID string `json:"proposalId" cbor:"proposalId"`
	Bag        []byte `json:"bag" cbor:"bag"`
}

func (r *bagRequest) SigningBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = nil
	return auth.CanonicalBytes(&unsigned)
}

type teamResponse struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	XPubs   []string `json:"xpubs"`
	M       int      `json:"m"`
	Address string   `json:"address"`
}

type proposalResponse struct {
	ID             string   `json:"id"`
	TeamID         string   `json:"teamId"`
	Proposer       party.ID `json:"proposer"`
	Blob           []byte   `json:"reducedTx"`
	Inputs         [][]byte `json:"inputs"`
	DataInputs     [][]byte `json:"dataInputs,omitempty"`
	MaxDerived     int      `json:"maxDerived"`
	CommittedCount int      `json:"committedCount"`
}

type commitmentsResponse struct {
	MergedBag     []byte     `json:"mergedBag"`
	Collected     int        `json:"collected"`
	ThresholdMet  bool       `json:"thresholdMet"`
	Committers    []party.ID `json:"committers"`
	UserCommitted bool       `json:"userCommitted"`
}

type statusResponse struct {
	CommittedXPubs []party.ID     `json:"committedXpubs"`
	ProverXPubs    []party.ID     `json:"proverXpubs"`
	FinalTx        *finalTxStatus `json:"finalTx,omitempty"`
}

type finalTxStatus struct {
	TxID  string `json:"txId"`
	Raw   []byte `json:"raw,omitempty"`
	Mined bool   `json:"mined"`
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
