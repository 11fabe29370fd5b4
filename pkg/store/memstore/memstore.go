// Package memstore is the in-memory Store implementation.
//
// All repositories share one lock, which makes every operation atomic with
// respect to the others. Insertion order is kept explicitly so merged hint
// bags are assembled oldest first. State can be snapshotted to a CBOR file
// and restored on boot.
package memstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
)

// Store implements store.Store in memory.
type Store struct {
	mu sync.RWMutex

	teams       map[string]*store.Team
	teamOrder   []string
	auths       map[string]*store.Auth
	proposals   map[string]*store.Proposal
	propOrder   []string
	commitments map[string][]*store.Commitment // proposalID -> rows, insertion order
	proofs      map[string][]*store.PartialProof
	finalTxs    map[string]*store.FinalTx
	finalOrder  []string

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		teams:       make(map[string]*store.Team),
		auths:       make(map[string]*store.Auth),
		proposals:   make(map[string]*store.Proposal),
		commitments: make(map[string][]*store.Commitment),
		proofs:      make(map[string][]*store.PartialProof),
		finalTxs:    make(map[string]*store.FinalTx),
		now:         time.Now,
	}
}

func authKey(xpub party.ID, pub []byte) string {
	return string(xpub) + "/" + hex.EncodeToString(pub)
}

func (s *Store) Teams() store.TeamStore            { return (*teamStore)(s) }
func (s *Store) Auths() store.AuthStore            { return (*authStore)(s) }
func (s *Store) Proposals() store.ProposalStore    { return (*proposalStore)(s) }
func (s *Store) Commitments() store.CommitmentStore { return (*commitmentStore)(s) }
func (s *Store) Proofs() store.ProofStore          { return (*proofStore)(s) }
func (s *Store) FinalTxs() store.FinalTxStore      { return (*finalTxStore)(s) }

type teamStore Store

func (s *teamStore) Create(_ context.Context, team *store.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[team.ID]; ok {
		return errs.E(errs.Conflict, "team already exists")
	}
	for _, existing := range s.teams {
		if existing.M == team.M && existing.XPubs.Equal(team.XPubs) {
			return errs.E(errs.Conflict, "team already exists")
		}
	}
	cp := *team
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.teams[team.ID] = &cp
	s.teamOrder = append(s.teamOrder, team.ID)
	*team = cp
	return nil
}

func (s *teamStore) Get(_ context.Context, id string) (*store.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	team, ok := s.teams[id]
	if !ok {
		return nil, errs.E(errs.NotFound, "team %s", id)
	}
	cp := *team
	return &cp, nil
}

func (s *teamStore) List(_ context.Context) ([]*store.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Team, 0, len(s.teamOrder))
	for _, id := range s.teamOrder {
		cp := *s.teams[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *teamStore) ListByMember(_ context.Context, xpub party.ID) ([]*store.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Team
	for _, id := range s.teamOrder {
		if s.teams[id].XPubs.Contains(xpub) {
			cp := *s.teams[id]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type authStore Store

func (s *authStore) Put(_ context.Context, auth *store.Auth) (*store.Auth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := authKey(auth.XPub, auth.Pub)
	if existing, ok := s.auths[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *auth
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.auths[key] = &cp
	out := cp
	return &out, nil
}

func (s *authStore) Get(_ context.Context, xpub party.ID, pub []byte) (*store.Auth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	auth, ok := s.auths[authKey(xpub, pub)]
	if !ok {
		return nil, errs.E(errs.NotFound, "auth binding")
	}
	cp := *auth
	return &cp, nil
}

func (s *authStore) Delete(_ context.Context, xpub party.ID, pub []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := authKey(xpub, pub)
	if _, ok := s.auths[key]; !ok {
		return errs.E(errs.NotFound, "auth binding")
	}
	delete(s.auths, key)
	return nil
}

type proposalStore Store

func (s *proposalStore) Create(_ context.Context, p *store.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return errs.E(errs.Conflict, "proposal already exists")
	}
	for _, existing := range s.proposals {
		if existing.TeamID == p.TeamID && bytes.Equal(existing.Blob, p.Blob) {
			return errs.E(errs.Conflict, "proposal already exists")
		}
	}
	cp := *p
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.proposals[p.ID] = &cp
	s.propOrder = append(s.propOrder, p.ID)
	*p = cp
	return nil
}

func (s *proposalStore) Get(_ context.Context, id string) (*store.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, errs.E(errs.NotFound, "proposal %s", id)
	}
	cp := *p
	return &cp, nil
}

func (s *proposalStore) GetHydrated(_ context.Context, id string) (*store.HydratedProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proposals[id]
	if !ok {
		return nil, errs.E(errs.NotFound, "proposal %s", id)
	}
	out := &store.HydratedProposal{Proposal: *p}
	if team, ok := s.teams[p.TeamID]; ok {
		cp := *team
		out.Team = &cp
	} else {
		return nil, errs.E(errs.NotFound, "team %s for proposal %s", p.TeamID, id)
	}
	if auth, ok := s.auths[authKey(p.ProposerXPub, p.ProposerPub)]; ok {
		cp := *auth
		out.Proposer = &cp
	}
	return out, nil
}

func (s *proposalStore) ListByTeam(_ context.Context, teamID string) ([]*store.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Proposal
	for _, id := range s.propOrder {
		if s.proposals[id].TeamID == teamID {
			cp := *s.proposals[id]
			out = append(out, &cp)
		}
	}
	return out, nil
}

type commitmentStore Store

func (s *commitmentStore) Upsert(_ context.Context, c *store.Commitment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.commitments[c.ProposalID]
	for i, row := range rows {
		if row.XPub == c.XPub {
			cp := *c
			cp.CreatedAt = row.CreatedAt
			cp.UpdatedAt = s.now()
			rows[i] = &cp
			return nil
		}
	}
	cp := *c
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.commitments[c.ProposalID] = append(rows, &cp)
	return nil
}

func (s *commitmentStore) Get(_ context.Context, proposalID string, xpub party.ID) (*store.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.commitments[proposalID] {
		if row.XPub == xpub {
			cp := *row
			return &cp, nil
		}
	}
	return nil, errs.E(errs.NotFound, "commitment for %s", xpub)
}

func (s *commitmentStore) List(_ context.Context, proposalID string) ([]*store.Commitment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.commitments[proposalID]
	out := make([]*store.Commitment, 0, len(rows))
	for _, row := range rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (s *commitmentStore) CountReal(_ context.Context, proposalID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.commitments[proposalID] {
		if !row.Simulated {
			n++
		}
	}
	return n, nil
}

func (s *commitmentStore) DeleteSimulated(_ context.Context, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.commitments[proposalID]
	kept := rows[:0]
	for _, row := range rows {
		if !row.Simulated {
			kept = append(kept, row)
		}
	}
	s.commitments[proposalID] = kept
	return nil
}

type proofStore Store

func (s *proofStore) Upsert(_ context.Context, p *store.PartialProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.proofs[p.ProposalID]
	for i, row := range rows {
		if row.XPub == p.XPub {
			cp := *p
			cp.CreatedAt = row.CreatedAt
			cp.UpdatedAt = s.now()
			rows[i] = &cp
			return nil
		}
	}
	cp := *p
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.proofs[p.ProposalID] = append(rows, &cp)
	return nil
}

func (s *proofStore) Get(_ context.Context, proposalID string, xpub party.ID) (*store.PartialProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.proofs[proposalID] {
		if row.XPub == xpub {
			cp := *row
			return &cp, nil
		}
	}
	return nil, errs.E(errs.NotFound, "partial proof for %s", xpub)
}

func (s *proofStore) List(_ context.Context, proposalID string) ([]*store.PartialProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.proofs[proposalID]
	out := make([]*store.PartialProof, 0, len(rows))
	for _, row := range rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

type finalTxStore Store

func (s *finalTxStore) Upsert(_ context.Context, tx *store.FinalTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.finalTxs[tx.ProposalID]; ok {
		cp := *tx
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = s.now()
		s.finalTxs[tx.ProposalID] = &cp
		return nil
	}
	cp := *tx
	cp.CreatedAt = s.now()
	cp.UpdatedAt = cp.CreatedAt
	s.finalTxs[tx.ProposalID] = &cp
	s.finalOrder = append(s.finalOrder, tx.ProposalID)
	return nil
}

func (s *finalTxStore) Get(_ context.Context, proposalID string) (*store.FinalTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.finalTxs[proposalID]
	if !ok {
		return nil, errs.E(errs.NotFound, "final tx for proposal %s", proposalID)
	}
	cp := *tx
	return &cp, nil
}

func (s *finalTxStore) ListUnmined(_ context.Context) ([]*store.FinalTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.FinalTx
	for _, id := range s.finalOrder {
		if tx := s.finalTxs[id]; !tx.Mined {
			cp := *tx
			out = append(out, &cp)
		}
	}
	return out, nil
}

// snapshot is the serialized form of the whole store.
type snapshot struct {
	Teams       []*store.Team         `cbor:"teams"`
	Auths       []*store.Auth         `cbor:"auths"`
	Proposals   []*store.Proposal     `cbor:"proposals"`
	Commitments []*store.Commitment   `cbor:"commitments"`
	Proofs      []*store.PartialProof `cbor:"proofs"`
	FinalTxs    []*store.FinalTx      `cbor:"finalTxs"`
}

// Save writes the current state to path.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	snap := snapshot{}
	for _, id := range s.teamOrder {
		snap.Teams = append(snap.Teams, s.teams[id])
	}
	for _, auth := range s.auths {
		snap.Auths = append(snap.Auths, auth)
	}
	for _, id := range s.propOrder {
		snap.Proposals = append(snap.Proposals, s.proposals[id])
		snap.Commitments = append(snap.Commitments, s.commitments[id]...)
		snap.Proofs = append(snap.Proofs, s.proofs[id]...)
	}
	for _, id := range s.finalOrder {
		snap.FinalTxs = append(snap.FinalTxs, s.finalTxs[id])
	}
	s.mu.RUnlock()

	data, err := cbor.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("memstore: encode snapshot: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Load restores state from path, replacing the current content.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("memstore: read snapshot: %w", err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("memstore: decode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams = make(map[string]*store.Team, len(snap.Teams))
	s.teamOrder = s.teamOrder[:0]
	for _, team := range snap.Teams {
		s.teams[team.ID] = team
		s.teamOrder = append(s.teamOrder, team.ID)
	}
	s.auths = make(map[string]*store.Auth, len(snap.Auths))
	for _, auth := range snap.Auths {
		s.auths[authKey(auth.XPub, auth.Pub)] = auth
	}
	s.proposals = make(map[string]*store.Proposal, len(snap.Proposals))
	s.propOrder = s.propOrder[:0]
	for _, p := range snap.Proposals {
		s.proposals[p.ID] = p
		s.propOrder = append(s.propOrder, p.ID)
	}
	s.commitments = make(map[string][]*store.Commitment)
	for _, c := range snap.Commitments {
		s.commitments[c.ProposalID] = append(s.commitments[c.ProposalID], c)
	}
	s.proofs = make(map[string][]*store.PartialProof)
	for _, p := range snap.Proofs {
		s.proofs[p.ProposalID] = append(s.proofs[p.ProposalID], p)
	}
	s.finalTxs = make(map[string]*store.FinalTx, len(snap.FinalTxs))
	s.finalOrder = s.finalOrder[:0]
	for _, tx := range snap.FinalTxs {
		s.finalTxs[tx.ProposalID] = tx
		s.finalOrder = append(s.finalOrder, tx.ProposalID)
	}
	return nil
}
