// Package httpd exposes the coordination services over a JSON REST API.
//
// Responses carry a single-field {"error": ...} envelope on failure; error
// kinds map onto HTTP status codes in kindStatus.
package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/decred/slog"

	"github.com/luxfi/multisig/pkg/auth"
	"github.com/luxfi/multisig/pkg/coordinator"
	"github.com/luxfi/multisig/pkg/errs"
	"github.com/luxfi/multisig/pkg/party"
	"github.com/luxfi/multisig/pkg/store"
	"github.com/luxfi/multisig/pkg/team"
)

// maxBodyBytes caps request bodies; reduced transactions are a few KB.
const maxBodyBytes = 4 << 20

// Server wires the registries and the coordinator behind HTTP handlers.
type Server struct {
	log   slog.Logger
	auth  *auth.Registry
	teams *team.Registry
	coord *coordinator.Coordinator
	mux   *http.ServeMux
}

func NewServer(log slog.Logger, a *auth.Registry, t *team.Registry, c *coordinator.Coordinator) *Server {
	s := &Server{log: log, auth: a, teams: t, coord: c, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /auth/revoke", s.handleRevoke)
	s.mux.HandleFunc("POST /teams", s.handleCreateTeam)
	s.mux.HandleFunc("GET /teams", s.handleListTeams)
	s.mux.HandleFunc("GET /teams/{id}/proposals", s.handleListProposals)
	s.mux.HandleFunc("POST /proposals", s.handlePropose)
	s.mux.HandleFunc("GET /proposals/{id}", s.handleGetProposal)
	s.mux.HandleFunc("POST /proposals/{id}/commitments", s.handleAddCommitment)
	s.mux.HandleFunc("GET /proposals/{id}/commitments", s.handleGetCommitments)
	s.mux.HandleFunc("POST /proposals/{id}/proofs", s.handleAddProof)
	s.mux.HandleFunc("GET /proposals/{id}/status", s.handleStatus)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	s.mux.ServeHTTP(w, r)
}

// kindStatus maps domain error kinds to HTTP statuses.
func kindStatus(err error) int {
	switch errs.KindOf(err) {
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.PreconditionFailed:
		return http.StatusPreconditionFailed
	case errs.InvalidProof, errs.EngineFailure:
		return http.StatusBadRequest
	case errs.NodeUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, kindStatus(err), errorResponse{Error: err.Error()})
}

func decode[T any](r *http.Request) (*T, error) {
	var req T
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errs.Wrap(errs.EngineFailure, err, "malformed request body")
	}
	return &req, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := decode[registerRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	binding, err := s.auth.Register(r.Context(), req.XPub, req.Pub, req.Proof)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"xpub": binding.XPub, "pub": binding.Pub})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	req, err := decode[revokeRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.auth.Verify(r.Context(), req, nil); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.auth.Revoke(r.Context(), req.XPub, req.Pub); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	req, err := decode[createTeamRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.auth.Verify(r.Context(), req, nil); err != nil {
		s.writeError(w, err)
		return
	}
	xpubs := make([]party.ID, len(req.XPubs))
	for i, x := range req.XPubs {
		xpubs[i] = party.ID(x)
	}
	created, err := s.teams.Create(r.Context(), req.Name, xpubs, req.M)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, teamView(created))
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.teams.List(r.Context(), party.ID(r.URL.Query().Get("xpub")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]teamResponse, len(teams))
	for i, tm := range teams {
		out[i] = teamView(tm)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	req, err := decode[proposeRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.auth.Verify(r.Context(), req, nil); err != nil {
		s.writeError(w, err)
		return
	}
	proposal, err := s.coord.Propose(r.Context(), req.XPub, req.Pub, req.TeamID,
		req.Blob, req.Inputs, req.DataInputs, req.MaxDerived)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, proposalResponse{
		ID:         proposal.ID,
		TeamID:     proposal.TeamID,
		Proposer:   proposal.ProposerXPub,
		Blob:       proposal.Blob,
		Inputs:     proposal.Inputs,
		DataInputs: proposal.DataInputs,
		MaxDerived: proposal.MaxDerived,
	})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.coord.ListProposals(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]proposalResponse, len(summaries))
	for i, p := range summaries {
		out[i] = proposalResponse{
			ID:             p.ID,
			TeamID:         r.PathValue("id"),
			Proposer:       p.Proposer,
			Blob:           p.Blob,
			Inputs:         p.Inputs,
			DataInputs:     p.DataInputs,
			MaxDerived:     p.MaxDerived,
			CommittedCount: p.CommittedCount,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	hydrated, err := s.coord.GetProposal(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proposalResponse{
		ID:         hydrated.ID,
		TeamID:     hydrated.TeamID,
		Proposer:   hydrated.ProposerXPub,
		Blob:       hydrated.Blob,
		Inputs:     hydrated.Inputs,
		DataInputs: hydrated.DataInputs,
		MaxDerived: hydrated.MaxDerived,
	})
}

func (s *Server) handleAddCommitment(w http.ResponseWriter, r *http.Request) {
	req, err := decode[bagRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.auth.Verify(r.Context(), req, nil); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ProposalID != r.PathValue("id") {
		// Signature covers a different proposal.
		s.writeError(w, errs.E(errs.Unauthorized, "unauthorized"))
		return
	}
	if err := s.coord.AddCommitment(r.Context(), r.PathValue("id"), req.XPub, req.Bag); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) handleGetCommitments(w http.ResponseWriter, r *http.Request) {
	view, err := s.coord.Commitments(r.Context(), r.PathValue("id"), party.ID(r.URL.Query().Get("xpub")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, commitmentsResponse{
		MergedBag:     view.MergedBag,
		Collected:     view.Collected,
		ThresholdMet:  view.ThresholdMet,
		Committers:    view.Committers,
		UserCommitted: view.UserCommitted,
	})
}

func (s *Server) handleAddProof(w http.ResponseWriter, r *http.Request) {
	req, err := decode[bagRequest](r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.auth.Verify(r.Context(), req, nil); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ProposalID != r.PathValue("id") {
		s.writeError(w, errs.E(errs.Unauthorized, "unauthorized"))
		return
	}
	if err := s.coord.AddPartialProof(r.Context(), r.PathValue("id"), req.XPub, req.Bag); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.coord.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := statusResponse{
		CommittedXPubs: status.CommittedXPubs,
		ProverXPubs:    status.ProverXPubs,
	}
	if status.FinalTx != nil {
		resp.FinalTx = &finalTxStatus{
			TxID:  status.FinalTx.TxID,
			Raw:   status.FinalTx.Raw,
			Mined: status.FinalTx.Mined,
			Error: status.FinalTx.Error,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func teamView(t *store.Team) teamResponse {
	return teamResponse{
		ID:      t.ID,
		Name:    t.Name,
		XPubs:   t.XPubs.Strings(),
		M:       t.M,
		Address: t.Address,
	}
}
