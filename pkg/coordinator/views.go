package coordinator

import (
	"context"

	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/hint"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
)

// ProposalSummary is the per-proposal listing entry.
type ProposalSummary struct {
	ID             string
	Blob           []byte
	Inputs         [][]byte
	DataInputs     [][]byte
	MaxDerived     int
	Proposer       party.ID
	CommittedCount int
}

// ListProposals returns the proposals of a team, oldest first, with the
// number of collected commitment rows.
func (c *Coordinator) ListProposals(ctx context.Context, teamID string) ([]ProposalSummary, error) {
	if _, err := c.store.Teams().Get(ctx, teamID); err != nil {
		return nil, err
	}
	proposals, err := c.store.Proposals().ListByTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	out := make([]ProposalSummary, 0, len(proposals))
	for _, p := range proposals {
		rows, err := c.store.Commitments().List(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ProposalSummary{
			ID:             p.ID,
			Blob:           p.Blob,
			Inputs:         p.Inputs,
			DataInputs:     p.DataInputs,
			MaxDerived:     p.MaxDerived,
			Proposer:       p.ProposerXPub,
			CommittedCount: len(rows),
		})
	}
	return out, nil
}

// GetProposal returns the proposal joined with its team and proposer.
func (c *Coordinator) GetProposal(ctx context.Context, id string) (*store.HydratedProposal, error) {
	return c.store.Proposals().GetHydrated(ctx, id)
}

// CommitmentsView is what a participant polls while deciding whether to
// produce a partial proof.
type CommitmentsView struct {
	// MergedBag is the serialized merge of every collected bag.
	MergedBag []byte
	// Collected counts all commitment rows, simulated included.
	Collected int
	// ThresholdMet reports whether enough real commitments arrived.
	ThresholdMet bool
	// Committers lists the xpubs with a real commitment, oldest first.
	Committers []party.ID
	// UserCommitted reports whether the viewer has a real commitment.
	UserCommitted bool
}

// Commitments builds the commitment-phase view for a proposal.
func (c *Coordinator) Commitments(ctx context.Context, proposalID string, viewer party.ID) (*CommitmentsView, error) {
	hydrated, err := c.store.Proposals().GetHydrated(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	numInputs, err := c.engine.ParseProposal(hydrated.Blob)
	if err != nil {
		return nil, errs.Wrap(errs.EngineFailure, err, "malformed proposal")
	}
	rows, err := c.store.Commitments().List(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	view := &CommitmentsView{Collected: len(rows)}
	real := 0
	bags := make([]*hint.Bag, 0, len(rows))
	for _, row := range rows {
		bag, err := hint.Decode(row.Bag)
		if err != nil {
			return nil, errs.Wrap(errs.EngineFailure, err, "stored commitment bag for %s", row.XPub)
		}
		bags = append(bags, bag)
		if row.Simulated {
			continue
		}
		real++
		view.Committers = append(view.Committers, row.XPub)
		if row.XPub == viewer {
			view.UserCommitted = true
		}
	}
	view.ThresholdMet = real >= hydrated.Team.M

	merged, err := hint.Merge(numInputs, bags...).Encode()
	if err != nil {
		return nil, errs.Wrap(errs.EngineFailure, err, "merge commitment bags")
	}
	view.MergedBag = merged
	return view, nil
}

// Status is the full progress view of a proposal.
type Status struct {
	CommittedXPubs []party.ID
	ProverXPubs    []party.ID
	FinalTx        *store.FinalTx
}

// Status reports which members committed, which proved, and the finalized
// transaction when one exists.
func (c *Coordinator) Status(ctx context.Context, proposalID string) (*Status, error) {
	if _, err := c.store.Proposals().Get(ctx, proposalID); err != nil {
		return nil, err
	}
	rows, err := c.store.Commitments().List(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	proofs, err := c.store.Proofs().List(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	status := &Status{}
	for _, row := range rows {
		if !row.Simulated {
			status.CommittedXPubs = append(status.CommittedXPubs, row.XPub)
		}
	}
	for _, row := range proofs {
		status.ProverXPubs = append(status.ProverXPubs, row.XPub)
	}
	if final, err := c.store.FinalTxs().Get(ctx, proposalID); err == nil {
		status.FinalTx = final
	}
	return status, nil
}
