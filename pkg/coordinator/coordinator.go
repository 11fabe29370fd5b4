// Package coordinator implements the threshold signing state machine.
//
// A proposal moves through commitment collection, simulation of absent
// signers, partial-proof collection and finalization. The store is the only
// shared state; the coordinator serializes the check-then-act phase
// transitions of each proposal behind a per-proposal lock so concurrent
// submissions cannot double-trigger simulation or finalization.
package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/luxfi/multisig/pkg/engine"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/hdkey"
	"github.com/luxfi/multisig/pkg/hint"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
	"github.com/zeebo/blake3"
)

// StateSource provides the chain state context the engine needs for
// simulation and final verification.
type StateSource interface {
	Context(ctx context.Context) (engine.StateContext, error)
}

// Coordinator sequences the m-of-n signing protocol for every proposal.
type Coordinator struct {
	log    slog.Logger
	store  store.Store
	engine engine.Engine
	chain  StateSource

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a coordinator over the given store and engine.
func New(log slog.Logger, st store.Store, eng engine.Engine, chain StateSource) *Coordinator {
	return &Coordinator{
		log:    log,
		store:  st,
		engine: eng,
		chain:  chain,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock serializes phase transitions for one proposal. Locks are small and
// kept for the server's lifetime.
func (c *Coordinator) lock(proposalID string) func() {
	c.mu.Lock()
	l, ok := c.locks[proposalID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[proposalID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// DeriveProposalID computes the content-addressed proposal identifier.
func DeriveProposalID(teamID string, blob []byte) string {
	h := blake3.New()
	h.Write([]byte(teamID))
	h.Write([]byte{0})
	h.Write(blob)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Propose registers a reduced transaction for a team. The same blob within
// the same team is rejected with Conflict.
func (c *Coordinator) Propose(ctx context.Context, xpub party.ID, pub []byte, teamID string,
	blob []byte, inputs, dataInputs [][]byte, maxDerived int) (*store.Proposal, error) {
	team, err := c.store.Teams().Get(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if !team.XPubs.Contains(xpub) {
		return nil, errs.E(errs.Unauthorized, "unauthorized")
	}
	if _, err := c.engine.ParseProposal(blob); err != nil {
		return nil, errs.Wrap(errs.EngineFailure, err, "malformed proposal")
	}

	proposal := &store.Proposal{
		ID:           DeriveProposalID(teamID, blob),
		TeamID:       teamID,
		ProposerXPub: xpub,
		ProposerPub:  pub,
		Blob:         blob,
		Inputs:       inputs,
		DataInputs:   dataInputs,
		MaxDerived:   maxDerived,
	}
	if err := c.store.Proposals().Create(ctx, proposal); err != nil {
		return nil, err
	}
	c.log.Infof("proposal %s registered for team %s by %s", proposal.ID, teamID, xpub)
	return proposal, nil
}

// AddCommitment records xpub's first-message bag for the proposal.
//
// Commitments are closed once the first partial proof arrives. A repeated
// submission replaces the previous row. After every accepted real
// commitment, if the real count has reached the threshold but not yet the
// full team, the entire simulated set is rebuilt from scratch, seeded with
// the merged real commitments collected so far.
func (c *Coordinator) AddCommitment(ctx context.Context, proposalID string, xpub party.ID, bagBytes []byte) error {
	hydrated, err := c.store.Proposals().GetHydrated(ctx, proposalID)
	if err != nil {
		return err
	}
	if !hydrated.Team.XPubs.Contains(xpub) {
		return errs.E(errs.Unauthorized, "unauthorized")
	}
	bag, err := hint.Decode(bagBytes)
	if err != nil {
		return errs.Wrap(errs.EngineFailure, err, "malformed commitment bag")
	}
	if bag.Len() == 0 {
		return errs.E(errs.EngineFailure, "empty commitment bag")
	}

	unlock := c.lock(proposalID)
	defer unlock()

	proofs, err := c.store.Proofs().List(ctx, proposalID)
	if err != nil {
		return err
	}
	if len(proofs) > 0 {
		return errs.E(errs.PreconditionFailed, "proving already started for proposal %s", proposalID)
	}

	err = c.store.Commitments().Upsert(ctx, &store.Commitment{
		ProposalID: proposalID,
		XPub:       xpub,
		Bag:        bagBytes,
	})
	if err != nil {
		return err
	}
	c.log.Debugf("commitment from %s for proposal %s", xpub, proposalID)

	real, err := c.store.Commitments().CountReal(ctx, proposalID)
	if err != nil {
		return err
	}
	if real >= hydrated.Team.M && real < len(hydrated.Team.XPubs) {
		if err := c.resimulate(ctx, hydrated); err != nil {
			return err
		}
	}
	return nil
}

// resimulate rebuilds the simulated commitment set for every team member
// without a real commitment. Caller holds the proposal lock.
func (c *Coordinator) resimulate(ctx context.Context, hydrated *store.HydratedProposal) error {
	numInputs, err := c.engine.ParseProposal(hydrated.Blob)
	if err != nil {
		return errs.Wrap(errs.EngineFailure, err, "malformed proposal")
	}

	if err := c.store.Commitments().DeleteSimulated(ctx, hydrated.ID); err != nil {
		return err
	}
	rows, err := c.store.Commitments().List(ctx, hydrated.ID)
	if err != nil {
		return err
	}

	committed := make(map[party.ID]bool, len(rows))
	bags := make([]*hint.Bag, 0, len(rows))
	for _, row := range rows {
		committed[row.XPub] = true
		bag, err := hint.Decode(row.Bag)
		if err != nil {
			return errs.Wrap(errs.EngineFailure, err, "stored commitment bag for %s", row.XPub)
		}
		bags = append(bags, bag)
	}
	merged := hint.Merge(numInputs, bags...)

	sc, err := c.chain.Context(ctx)
	if err != nil {
		return errs.Wrap(errs.NodeUnavailable, err, "state context for simulation")
	}

	for _, member := range hydrated.Team.XPubs {
		if committed[member] {
			continue
		}
		pubs, err := hdkey.DerivedPubKeys(string(member), hydrated.MaxDerived)
		if err != nil {
			return errs.Wrap(errs.EngineFailure, err, "derive keys for %s", member)
		}
		simBag, err := c.engine.SimulateFor(ctx, pubs, hydrated.Blob, merged, sc, hydrated.Inputs, hydrated.DataInputs)
		if err != nil {
			return errs.Wrap(errs.EngineFailure, err, "simulate for %s", member)
		}
		encoded, err := simBag.Encode()
		if err != nil {
			return errs.Wrap(errs.EngineFailure, err, "encode simulated bag for %s", member)
		}
		err = c.store.Commitments().Upsert(ctx, &store.Commitment{
			ProposalID: hydrated.ID,
			XPub:       member,
			Bag:        encoded,
			Simulated:  true,
		})
		if err != nil {
			return err
		}
		c.log.Debugf("simulated commitment for %s on proposal %s", member, hydrated.ID)
	}
	return nil
}

// AddPartialProof records xpub's response bag for the proposal. The proof is
// accepted only when every team member has a commitment (real or simulated)
// and the proof agrees with the submitter's own commitment. Crossing the
// threshold triggers finalization.
func (c *Coordinator) AddPartialProof(ctx context.Context, proposalID string, xpub party.ID, bagBytes []byte) error {
	hydrated, err := c.store.Proposals().GetHydrated(ctx, proposalID)
	if err != nil {
		return err
	}
	if !hydrated.Team.XPubs.Contains(xpub) {
		return errs.E(errs.Unauthorized, "unauthorized")
	}
	proofBag, err := hint.Decode(bagBytes)
	if err != nil {
		return errs.Wrap(errs.EngineFailure, err, "malformed proof bag")
	}
	numInputs, err := c.engine.ParseProposal(hydrated.Blob)
	if err != nil {
		return errs.Wrap(errs.EngineFailure, err, "malformed proposal")
	}

	unlock := c.lock(proposalID)
	defer unlock()

	rows, err := c.store.Commitments().List(ctx, proposalID)
	if err != nil {
		return err
	}
	if len(rows) < len(hydrated.Team.XPubs) {
		return errs.E(errs.PreconditionFailed,
			"commitment quorum not reached: %d of %d", len(rows), len(hydrated.Team.XPubs))
	}

	if final, err := c.store.FinalTxs().Get(ctx, proposalID); err == nil && final.Error == "" {
		return errs.E(errs.PreconditionFailed, "proposal %s already finalized", proposalID)
	}

	own, err := c.store.Commitments().Get(ctx, proposalID, xpub)
	if err != nil || own.Simulated {
		return errs.E(errs.InvalidProof, "no commitment on record for %s", xpub)
	}
	ownBag, err := hint.Decode(own.Bag)
	if err != nil {
		return errs.Wrap(errs.EngineFailure, err, "stored commitment bag for %s", xpub)
	}
	if !isConsistent(proofBag, ownBag, numInputs) {
		return errs.E(errs.InvalidProof, "proof disagrees with recorded commitment")
	}

	err = c.store.Proofs().Upsert(ctx, &store.PartialProof{
		ProposalID: proposalID,
		XPub:       xpub,
		Bag:        bagBytes,
	})
	if err != nil {
		return err
	}
	c.log.Debugf("partial proof from %s for proposal %s", xpub, proposalID)

	proofs, err := c.store.Proofs().List(ctx, proposalID)
	if err != nil {
		return err
	}
	if len(proofs) >= hydrated.Team.M {
		// Finalization failures are recorded on the FinalTx row, not
		// returned: the proof submission itself succeeded.
		c.finalize(ctx, hydrated, numInputs)
	}
	return nil
}

// finalize merges every collected bag and assembles the signed transaction.
// The FinalTx row is persisted even when verification fails so operators can
// inspect it; a later proof submission overwrites it. Caller holds the
// proposal lock.
func (c *Coordinator) finalize(ctx context.Context, hydrated *store.HydratedProposal, numInputs int) {
	persistFailure := func(msg string) {
		err := c.store.FinalTxs().Upsert(ctx, &store.FinalTx{ProposalID: hydrated.ID, Error: msg})
		if err != nil {
			c.log.Errorf("finalize %s: persist failure record: %v", hydrated.ID, err)
		}
	}

	commitments, err := c.store.Commitments().List(ctx, hydrated.ID)
	if err != nil {
		c.log.Errorf("finalize %s: %v", hydrated.ID, err)
		return
	}
	proofs, err := c.store.Proofs().List(ctx, hydrated.ID)
	if err != nil {
		c.log.Errorf("finalize %s: %v", hydrated.ID, err)
		return
	}

	// Commitment bags first, then proof bags, each oldest to newest.
	bags := make([]*hint.Bag, 0, len(commitments)+len(proofs))
	for _, row := range commitments {
		bag, err := hint.Decode(row.Bag)
		if err != nil {
			persistFailure(fmt.Sprintf("stored commitment bag for %s: %v", row.XPub, err))
			return
		}
		bags = append(bags, bag)
	}
	for _, row := range proofs {
		bag, err := hint.Decode(row.Bag)
		if err != nil {
			persistFailure(fmt.Sprintf("stored proof bag for %s: %v", row.XPub, err))
			return
		}
		bags = append(bags, bag)
	}
	merged := hint.Merge(numInputs, bags...)

	sc, err := c.chain.Context(ctx)
	if err != nil {
		c.log.Warnf("finalize %s: state context: %v", hydrated.ID, err)
		persistFailure(fmt.Sprintf("state context: %v", err))
		return
	}

	tx, verified, err := c.engine.CombineAndVerify(ctx, hydrated.Blob, merged, sc, hydrated.Inputs)
	if err != nil {
		c.log.Warnf("finalize %s: combine: %v", hydrated.ID, err)
		persistFailure(fmt.Sprintf("combine and verify: %v", err))
		return
	}

	var failures []string
	for i, ok := range verified {
		if !ok {
			failures = append(failures, fmt.Sprintf("proof verification failed for input %d", i))
		}
	}
	errMsg := strings.Join(failures, "; ")

	err = c.store.FinalTxs().Upsert(ctx, &store.FinalTx{
		ProposalID: hydrated.ID,
		TxID:       tx.ID,
		Raw:        tx.Raw,
		Error:      errMsg,
	})
	if err != nil {
		c.log.Errorf("finalize %s: persist: %v", hydrated.ID, err)
		return
	}
	if errMsg != "" {
		c.log.Warnf("proposal %s finalized with failures: %s", hydrated.ID, errMsg)
	} else {
		c.log.Infof("proposal %s finalized as tx %s", hydrated.ID, tx.ID)
	}
}
