package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tunnelnet/controlplane/internal/domain"
)

type validateKeyRequest struct {
	Token string `json:"token"`
}

// handleValidateKey is the relay-facing token validation endpoint
// (§6 /internal/validate-key). Relays call this before admitting a
// client connection over a minted tunnel token.
func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req validateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	verdict, err := s.tokens.Validate(r.Context(), req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

type tunnelConnectedRequest struct {
	RemotePort int    `json:"remotePort"`
	PublicURL  string `json:"publicUrl"`
}

// handleTunnelConnected is called by a relay once it has bound the
// client side of a tunnel for an instance already in "starting".
func (s *Server) handleTunnelConnected(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req tunnelConnectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	inst, err := s.fsm.TunnelConnected(r.Context(), id, req.RemotePort, req.PublicURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

type tunnelDisconnectedRequest struct {
	Reason string `json:"reason"`
}

// handleTunnelDisconnected is called by a relay when its side of the
// tunnel tears down, independent of any client-initiated disconnect.
func (s *Server) handleTunnelDisconnected(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req tunnelDisconnectedRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Reason == "" {
		req.Reason = "relay reported disconnect"
	}

	inst, err := s.fsm.TunnelDisconnected(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleListRelays returns the in-process relay fleet snapshot (§4.6,
// "used by admission and ops dashboards").
func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relays.List())
}

// handleRegisterRelay is the relay fleet's join path (§4.6 says relays
// are "Registered externally" but never names the endpoint).
func (s *Server) handleRegisterRelay(w http.ResponseWriter, r *http.Request) {
	var rl domain.Relay
	if err := json.NewDecoder(r.Body).Decode(&rl); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := s.relays.Register(r.Context(), rl); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rl)
}

// handleFleetStats exposes aggregate fleet utilization for ops
// dashboards and the admission gate's own system check.
func (s *Server) handleFleetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.relays.FleetStats())
}

type relayLoadRequest struct {
	CurrentLoad   int     `json:"currentLoad"`
	CurrentBWMbps float64 `json:"currentBwMbps"`
}

// handleReportRelayLoad is a relay's periodic self-report of its own
// load and bandwidth (§9's EMA bandwidth-smoothing resolution), so the
// fleet snapshot used by Select and FleetStats stays current between
// the coarser health probes the sweeper runs.
func (s *Server) handleReportRelayLoad(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req relayLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	if err := s.relays.ReportLoad(r.Context(), id, req.CurrentLoad, req.CurrentBWMbps); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
