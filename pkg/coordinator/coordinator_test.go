package coordinator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/decred/slog"
	"github.com/luxfi/multisig/internal/enginetest"
	"github.com/luxfi/multisig/internal/keytest"
	"github.com/luxfi/multisig/pkg/coordinator"
	"github.com/luxfi/multisig/pkg/engine"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/hdkey"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store/memstore"
	"github.com/luxfi/multisig/pkg/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	err error
}

func (f *fakeChain) Context(context.Context) (engine.StateContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return engine.StateContext("headers"), nil
}

type fixture struct {
	ctx      context.Context
	store    *memstore.Store
	engine   *enginetest.Engine
	chain    *fakeChain
	coord    *coordinator.Coordinator
	teamID   string
	a, b, cc party.ID
}

// newFixture builds a 2-of-3 team (members a, b, cc) over a fresh store.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memstore.New(),
		engine: enginetest.New(),
		chain:  &fakeChain{},
		a:      party.ID(keytest.XPub(1)),
		b:      party.ID(keytest.XPub(2)),
		cc:     party.ID(keytest.XPub(3)),
	}
	f.coord = coordinator.New(slog.Disabled, f.store, f.engine, f.chain)

	teams := team.NewRegistry(slog.Disabled, f.store.Teams(), hdkey.Mainnet)
	created, err := teams.Create(f.ctx, "signers", []party.ID{f.a, f.b, f.cc}, 2)
	require.NoError(t, err)
	f.teamID = created.ID
	return f
}

func (f *fixture) propose(t *testing.T, inputs int, seed string) string {
	t.Helper()
	blob := enginetest.Proposal(inputs, seed)
	p, err := f.coord.Propose(f.ctx, f.a, []byte{1}, f.teamID, blob, [][]byte{{0xb0}}, nil, 2)
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) commit(t *testing.T, id string, xpub party.ID) {
	t.Helper()
	bag, err := enginetest.CommitBag(string(xpub), 1).Encode()
	require.NoError(t, err)
	require.NoError(t, f.coord.AddCommitment(f.ctx, id, xpub, bag))
}

func (f *fixture) prove(t *testing.T, id string, xpub party.ID) error {
	t.Helper()
	bag, err := enginetest.ProofBag(string(xpub), 1).Encode()
	require.NoError(t, err)
	return f.coord.AddPartialProof(f.ctx, id, xpub, bag)
}

func TestProposeDuplicate(t *testing.T) {
	f := newFixture(t)
	blob := enginetest.Proposal(1, "p")

	_, err := f.coord.Propose(f.ctx, f.a, []byte{1}, f.teamID, blob, nil, nil, 1)
	require.NoError(t, err)

	_, err = f.coord.Propose(f.ctx, f.b, []byte{2}, f.teamID, blob, nil, nil, 1)
	assert.True(t, errs.IsKind(err, errs.Conflict))
}

func TestProposeRejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Propose(f.ctx, f.a, []byte{1}, "missing-team", enginetest.Proposal(1, "p"), nil, nil, 1)
	assert.True(t, errs.IsKind(err, errs.NotFound))

	outsider := party.ID(keytest.XPub(9))
	_, err = f.coord.Propose(f.ctx, outsider, []byte{1}, f.teamID, enginetest.Proposal(1, "p"), nil, nil, 1)
	assert.True(t, errs.IsKind(err, errs.Unauthorized))

	_, err = f.coord.Propose(f.ctx, f.a, []byte{1}, f.teamID, []byte{}, nil, nil, 1)
	assert.True(t, errs.IsKind(err, errs.EngineFailure))
}

func TestCommitmentFlow(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "flow")

	// First commitment: below threshold, no simulation.
	f.commit(t, id, f.a)
	rows, err := f.store.Commitments().List(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 0, f.engine.SimulateCalls)

	// Second commitment crosses m=2: the absent member is simulated.
	f.commit(t, id, f.b)
	rows, err = f.store.Commitments().List(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	simulated := 0
	for _, row := range rows {
		if row.Simulated {
			simulated++
			assert.Equal(t, f.cc, row.XPub)
		}
	}
	assert.Equal(t, 1, simulated)
	assert.Equal(t, 1, f.engine.SimulateCalls)
}

func TestCommitmentResubmissionReplacesAndResimulates(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "resubmit")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	require.Equal(t, 1, f.engine.SimulateCalls)

	// Resubmitting replaces the row in place and rebuilds the simulated set.
	f.commit(t, id, f.b)
	rows, err := f.store.Commitments().List(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 2, f.engine.SimulateCalls)
}

func TestAllMembersCommitReal(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "allreal")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	f.commit(t, id, f.cc) // replaces cc's simulated row

	rows, err := f.store.Commitments().List(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.False(t, row.Simulated)
	}
}

func TestCommitmentClosedOnceProvingStarts(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "closed")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	require.NoError(t, f.prove(t, id, f.a))

	bag, err := enginetest.CommitBag(string(f.cc), 1).Encode()
	require.NoError(t, err)
	err = f.coord.AddCommitment(f.ctx, id, f.cc, bag)
	assert.True(t, errs.IsKind(err, errs.PreconditionFailed))
}

func TestProofBeforeQuorum(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "early")

	f.commit(t, id, f.a)
	err := f.prove(t, id, f.a)
	assert.True(t, errs.IsKind(err, errs.PreconditionFailed))
}

func TestInconsistentProofRejected(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "fraud")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)

	// Responses derived from a different seed disagree with a's commitment.
	bag, err := enginetest.ProofBag("someone-else", 1).Encode()
	require.NoError(t, err)
	err = f.coord.AddPartialProof(f.ctx, id, f.a, bag)
	assert.True(t, errs.IsKind(err, errs.InvalidProof))

	status, err := f.coord.Status(f.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, status.ProverXPubs, "rejected proof must not be persisted")
}

func TestProofWithoutOwnCommitment(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "simulated-prover")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)

	// cc only has a simulated commitment and cannot prove.
	err := f.prove(t, id, f.cc)
	assert.True(t, errs.IsKind(err, errs.InvalidProof))
}

func TestFinalizeHappyPath(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "finalize")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	require.NoError(t, f.prove(t, id, f.a))

	_, err := f.store.FinalTxs().Get(f.ctx, id)
	assert.True(t, errs.IsKind(err, errs.NotFound), "one proof is below threshold")

	require.NoError(t, f.prove(t, id, f.b))

	final, err := f.store.FinalTxs().Get(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, final.Mined)
	assert.Empty(t, final.Error)
	assert.NotEmpty(t, final.TxID)
	assert.NotEmpty(t, final.Raw)
	assert.Equal(t, 1, f.engine.CombineCalls)

	// Further proofs are rejected once cleanly finalized.
	err = f.prove(t, id, f.a)
	assert.True(t, errs.IsKind(err, errs.PreconditionFailed))
}

func TestFinalizeRecordsVerificationFailure(t *testing.T) {
	f := newFixture(t)
	f.engine.FailInputs[0] = true
	id := f.propose(t, 1, "badinput")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	require.NoError(t, f.prove(t, id, f.a))
	require.NoError(t, f.prove(t, id, f.b))

	final, err := f.store.FinalTxs().Get(f.ctx, id)
	require.NoError(t, err)
	assert.False(t, final.Mined)
	assert.Contains(t, final.Error, "input 0")
	assert.NotEmpty(t, final.Raw, "transaction is persisted even when verification fails")
}

func TestFinalizeEngineFailureNotSurfaced(t *testing.T) {
	f := newFixture(t)
	f.engine.CombineErr = errors.New("engine exploded")
	id := f.propose(t, 1, "enginefail")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	require.NoError(t, f.prove(t, id, f.a))

	// The submission that crosses the threshold still succeeds.
	require.NoError(t, f.prove(t, id, f.b))

	final, err := f.store.FinalTxs().Get(f.ctx, id)
	require.NoError(t, err)
	assert.Contains(t, final.Error, "engine exploded")

	// A corrected engine re-finalizes on the next proof submission.
	f.engine.CombineErr = nil
	require.NoError(t, f.prove(t, id, f.b))
	final, err = f.store.FinalTxs().Get(f.ctx, id)
	require.NoError(t, err)
	assert.Empty(t, final.Error)
}

func TestSimulationNodeOutage(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "outage")

	f.commit(t, id, f.a)
	f.chain.err = errors.New("connection refused")

	bag, err := enginetest.CommitBag(string(f.b), 1).Encode()
	require.NoError(t, err)
	err = f.coord.AddCommitment(f.ctx, id, f.b, bag)
	assert.True(t, errs.IsKind(err, errs.NodeUnavailable))

	// The commitment itself was accepted; retrying once the node is back
	// rebuilds the simulated set.
	rows, err := f.store.Commitments().List(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	f.chain.err = nil
	f.commit(t, id, f.b)
	rows, err = f.store.Commitments().List(f.ctx, id)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCommitmentsView(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "view")

	view, err := f.coord.Commitments(f.ctx, id, f.a)
	require.NoError(t, err)
	assert.Equal(t, 0, view.Collected)
	assert.False(t, view.ThresholdMet)
	assert.False(t, view.UserCommitted)

	f.commit(t, id, f.a)
	view, err = f.coord.Commitments(f.ctx, id, f.a)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Collected)
	assert.False(t, view.ThresholdMet)
	assert.True(t, view.UserCommitted)

	f.commit(t, id, f.b)
	view, err = f.coord.Commitments(f.ctx, id, f.cc)
	require.NoError(t, err)
	assert.Equal(t, 3, view.Collected)
	assert.True(t, view.ThresholdMet)
	assert.False(t, view.UserCommitted, "a simulated row is not a user commitment")
	assert.Equal(t, []party.ID{f.a, f.b}, view.Committers)
	assert.NotEmpty(t, view.MergedBag)
}

func TestStatusAndListing(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "status")

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	require.NoError(t, f.prove(t, id, f.a))

	status, err := f.coord.Status(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []party.ID{f.a, f.b}, status.CommittedXPubs)
	assert.Equal(t, []party.ID{f.a}, status.ProverXPubs)
	assert.Nil(t, status.FinalTx)

	summaries, err := f.coord.ListProposals(f.ctx, f.teamID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].ID)
	assert.Equal(t, f.a, summaries[0].Proposer)
	assert.Equal(t, 3, summaries[0].CommittedCount)

	_, err = f.coord.ListProposals(f.ctx, "missing")
	assert.True(t, errs.IsKind(err, errs.NotFound))

	hydrated, err := f.coord.GetProposal(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.teamID, hydrated.Team.ID)
}

func TestMalformedBags(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, 1, "malformed")

	err := f.coord.AddCommitment(f.ctx, id, f.a, []byte("junk"))
	assert.True(t, errs.IsKind(err, errs.EngineFailure))

	f.commit(t, id, f.a)
	f.commit(t, id, f.b)
	err = f.coord.AddPartialProof(f.ctx, id, f.a, []byte("junk"))
	assert.True(t, errs.IsKind(err, errs.EngineFailure))
}
