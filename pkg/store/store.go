// Package store defines the persisted entities of the coordination server
// and the repository interfaces over them.
//
// The store is the single synchronization point between participants acting
// from independent processes. Implementations must provide atomic
// create/upsert/delete-by-filter operations and preserve insertion order on
// listing, since hint bags are merged oldest first.
package store

import (
	"context"
	"time"

	"github.com/luxfi/multisig/pkg/party"
)

// Team is an immutable m-of-n group definition.
type Team struct {
	ID        string
	Name      string
	Address   string
	XPubs     party.IDSlice
	M         int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Auth binds a short-term request-signing key to an xpub. An xpub may carry
// many bindings; each is revocable.
type Auth struct {
	XPub      party.ID
	Pub       []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Proposal is an immutable reduced transaction awaiting signatures.
type Proposal struct {
	ID           string
	TeamID       string
	ProposerXPub party.ID
	ProposerPub  []byte
	Blob         []byte
	Inputs       [][]byte
	DataInputs   [][]byte
	MaxDerived   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HydratedProposal is a proposal joined with its team and proposer binding.
type HydratedProposal struct {
	Proposal
	Team     *Team
	Proposer *Auth
}

// Commitment is a participant's first-message hint bag for a proposal. At
// most one row exists per (proposal, xpub); simulated rows are synthesized
// by the coordinator for absent participants.
type Commitment struct {
	ProposalID string
	XPub       party.ID
	Bag        []byte
	Simulated  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PartialProof is a participant's response hint bag for a proposal. At most
// one row exists per (proposal, xpub).
type PartialProof struct {
	ProposalID string
	XPub       party.ID
	Bag        []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// FinalTx is the assembled signed transaction for a proposal, at most one
// row per proposal. Error holds the last verification or broadcast failure.
type FinalTx struct {
	ProposalID string
	TxID       string
	Raw        []byte
	Mined      bool
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TeamStore persists team definitions.
type TeamStore interface {
	// Create fails with a Conflict when a team with the same (xpub-set, m)
	// already exists.
	Create(ctx context.Context, team *Team) error
	Get(ctx context.Context, id string) (*Team, error)
	List(ctx context.Context) ([]*Team, error)
	ListByMember(ctx context.Context, xpub party.ID) ([]*Team, error)
}

// AuthStore persists key bindings.
type AuthStore interface {
	// Put is idempotent: it returns the existing binding when present.
	Put(ctx context.Context, auth *Auth) (*Auth, error)
	Get(ctx context.Context, xpub party.ID, pub []byte) (*Auth, error)
	Delete(ctx context.Context, xpub party.ID, pub []byte) error
}

// ProposalStore persists reduced transactions.
type ProposalStore interface {
	// Create fails with a Conflict when the same blob was already proposed
	// within the same team.
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	// GetHydrated joins the proposal with its team and proposer.
	GetHydrated(ctx context.Context, id string) (*HydratedProposal, error)
	ListByTeam(ctx context.Context, teamID string) ([]*Proposal, error)
}

// CommitmentStore persists commitment rows, listed in insertion order.
type CommitmentStore interface {
	Upsert(ctx context.Context, c *Commitment) error
	Get(ctx context.Context, proposalID string, xpub party.ID) (*Commitment, error)
	List(ctx context.Context, proposalID string) ([]*Commitment, error)
	CountReal(ctx context.Context, proposalID string) (int, error)
	DeleteSimulated(ctx context.Context, proposalID string) error
}

// ProofStore persists partial-proof rows, listed in insertion order.
type ProofStore interface {
	Upsert(ctx context.Context, p *PartialProof) error
	Get(ctx context.Context, proposalID string, xpub party.ID) (*PartialProof, error)
	List(ctx context.Context, proposalID string) ([]*PartialProof, error)
}

// FinalTxStore persists finalized transactions.
type FinalTxStore interface {
	Upsert(ctx context.Context, tx *FinalTx) error
	Get(ctx context.Context, proposalID string) (*FinalTx, error)
	ListUnmined(ctx context.Context) ([]*FinalTx, error)
}

// Store bundles the six repositories.
type Store interface {
	Teams() TeamStore
	Auths() AuthStore
	Proposals() ProposalStore
	Commitments() CommitmentStore
	Proofs() ProofStore
	FinalTxs() FinalTxStore
}
