// Package team manages the fixed m-of-n group definitions.
//
// A team is immutable after creation. Its identifier and group address are
// both derived from the sorted xpub set and the threshold, so an identical
// definition always collides regardless of input order.
package team

import (
	"context"
	"encoding/hex"

	"github.com/decred/slog"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/hdkey"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
	"github.com/zeebo/blake3"
)

// Registry creates and resolves teams.
type Registry struct {
	log     slog.Logger
	teams   store.TeamStore
	network hdkey.Network
}

// NewRegistry returns a registry backed by the given team store.
func NewRegistry(log slog.Logger, teams store.TeamStore, network hdkey.Network) *Registry {
	return &Registry{log: log, teams: teams, network: network}
}

// DeriveID computes the content-addressed team identifier from the sorted
// xpub set and threshold.
func DeriveID(xpubs party.IDSlice, m int) string {
	h := blake3.New()
	for _, xpub := range xpubs {
		h.Write([]byte(xpub))
		h.Write([]byte{0})
	}
	h.Write([]byte{byte(m >> 8), byte(m)})
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Create registers a new team. The xpub set is deduplicated and sorted; the
// group address is the threshold spending tree over each member's index-0
// key. An identical (xpub-set, m) definition fails with Conflict.
func (r *Registry) Create(ctx context.Context, name string, xpubs []party.ID, m int) (*store.Team, error) {
	members := party.NewIDSlice(xpubs)
	if len(members) == 0 {
		return nil, errs.E(errs.PreconditionFailed, "team needs at least one member")
	}
	if m < 1 || m > len(members) {
		return nil, errs.E(errs.PreconditionFailed, "threshold %d out of range for %d members", m, len(members))
	}

	address, err := hdkey.ThresholdAddress(members.Strings(), m, r.network)
	if err != nil {
		return nil, errs.Wrap(errs.PreconditionFailed, err, "cannot derive group address")
	}

	team := &store.Team{
		ID:      DeriveID(members, m),
		Name:    name,
		Address: address,
		XPubs:   members,
		M:       m,
	}
	if err := r.teams.Create(ctx, team); err != nil {
		return nil, err
	}
	r.log.Infof("team %s created: %d-of-%d at %s", team.ID, m, len(members), address)
	return team, nil
}

// Get resolves a team by ID.
func (r *Registry) Get(ctx context.Context, id string) (*store.Team, error) {
	return r.teams.Get(ctx, id)
}

// List returns every team, or only the teams xpub belongs to when non-empty.
func (r *Registry) List(ctx context.Context, xpub party.ID) ([]*store.Team, error) {
	if xpub == "" {
		return r.teams.List(ctx)
	}
	return r.teams.ListByMember(ctx, xpub)
}
