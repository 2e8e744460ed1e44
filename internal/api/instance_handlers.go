package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tunnelnet/controlplane/internal/domain"
)

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if inst.Owner != userIDFrom(r) {
		writeError(w, r, domain.ErrInstanceNotFound)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.store.ListInstancesByUser(r.Context(), userIDFrom(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, instances)
}

type createInstanceRequest struct {
	Name          string        `json:"name"`
	LocalPort     int           `json:"localPort"`
	Region        domain.Region `json:"region"`
	PreferredHost string        `json:"preferredHost"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	userID := userIDFrom(r)
	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.admission.Check(r.Context(), userID, user.Plan); err != nil {
		writeError(w, r, err)
		return
	}

	inst, err := s.fsm.CreateInstance(r.Context(), userID, req.Name, req.LocalPort, req.Region, req.PreferredHost)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

type renameInstanceRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if inst.Owner != userIDFrom(r) {
		writeError(w, r, domain.ErrInstanceNotFound)
		return
	}

	var req renameInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	updated, err := s.store.UpdateInstance(r.Context(), id, domain.InstancePatch{Name: &req.Name})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.fsm.DeleteInstance(r.Context(), id, userIDFrom(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var sample *domain.HealthSample
	if r.ContentLength != 0 {
		sample = &domain.HealthSample{}
		if err := json.NewDecoder(r.Body).Decode(sample); err != nil {
			writeErrorKind(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}
	}

	classification, err := s.heartbeats.Handle(r.Context(), id, userIDFrom(r), sample)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, classification)
}

type connectResponse struct {
	TunnelToken    string     `json:"tunnelToken"`
	BoreServerHost string     `json:"boreServerHost"`
	BoreServerPort int        `json:"boreServerPort"`
	LocalPort      int        `json:"localPort"`
	ExpiresAt      string     `json:"expiresAt"`
	ServerInfo     serverInfo `json:"serverInfo"`
}

type serverInfo struct {
	ServerID    string  `json:"serverId"`
	Utilization float64 `json:"utilization"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := userIDFrom(r)

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.admission.Check(r.Context(), userID, user.Plan); err != nil {
		writeError(w, r, err)
		return
	}

	inst, token, relay, err := s.fsm.Connect(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connectResponse{
		TunnelToken:    token.Token,
		BoreServerHost: relay.Host,
		BoreServerPort: relay.Port,
		LocalPort:      inst.LocalPort,
		ExpiresAt:      token.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		ServerInfo:     serverInfo{ServerID: relay.ID, Utilization: relay.Utilization()},
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if inst.Owner != userIDFrom(r) {
		writeError(w, r, domain.ErrInstanceNotFound)
		return
	}

	updated, err := s.fsm.TunnelDisconnected(r.Context(), id, "client disconnected")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStatusHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if inst.Owner != userIDFrom(r) {
		writeError(w, r, domain.ErrInstanceNotFound)
		return
	}

	history, err := s.store.ListStatusHistory(r.Context(), id, 100)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleInstanceHealth(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.store.GetInstance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if inst.Owner != userIDFrom(r) {
		writeError(w, r, domain.ErrInstanceNotFound)
		return
	}

	sample, err := s.store.GetLatestHealthSampleByInstance(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}
