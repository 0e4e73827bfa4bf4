package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avierra/avatarbridge/internal/config"
	"github.com/avierra/avatarbridge/internal/coordinator"
	"github.com/avierra/avatarbridge/internal/observability"
)

// Coordinator is the session-lifecycle surface the HTTP layer delegates to.
type Coordinator interface {
	Start(req coordinator.StartRequest) (coordinator.StartResult, error)
	Stop(roomName string) coordinator.StopResult
	Health() coordinator.HealthInfo
}

// Server is the thin control surface consumed by the external orchestrator.
// When the bridge is not configured (missing vendor credentials) coord is
// nil and only health and metrics stay usable.
type Server struct {
	cfg     config.Config
	coord   Coordinator
	started time.Time
}

func New(cfg config.Config, coord Coordinator) *Server {
	return &Server{
		cfg:     cfg,
		coord:   coord,
		started: time.Now().UTC(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/start-avatar", s.handleStartAvatar)
	r.Post("/stop-avatar", s.handleStopAvatar)

	return r
}

type startAvatarRequest struct {
	RoomName              string `json:"roomName"`
	AvatarID              string `json:"avatarId"`
	SessionID             string `json:"sessionId"`
	CoachAudioParticipant string `json:"coachAudioParticipant"`
}

type startAvatarResponse struct {
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	RoomName  string `json:"roomName"`
	SessionID string `json:"sessionId,omitempty"`
}

type stopAvatarRequest struct {
	RoomName string `json:"roomName"`
}

type stopAvatarResponse struct {
	Status   string `json:"status"`
	RoomName string `json:"roomName"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Seconds(),
	}
	if s.coord != nil {
		info := s.coord.Health()
		body["activeSessions"] = info.ActiveSessions
		body["uptime"] = info.Uptime.Seconds()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleStartAvatar(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		respondError(w, http.StatusServiceUnavailable, "bridge not configured", s.cfg.BridgeReady().Error())
		return
	}

	var req startAvatarRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.RoomName) == "" {
		respondError(w, http.StatusBadRequest, "roomName is required", "")
		return
	}
	if strings.TrimSpace(req.AvatarID) == "" {
		req.AvatarID = s.cfg.DefaultAvatarID
	}
	if req.AvatarID == "" {
		respondError(w, http.StatusBadRequest, "avatarId is required", "no default avatar configured")
		return
	}

	res, err := s.coord.Start(coordinator.StartRequest{
		RoomName:          req.RoomName,
		AvatarID:          req.AvatarID,
		ExternalSessionID: strings.TrimSpace(req.SessionID),
		CoachIdentity:     strings.TrimSpace(req.CoachAudioParticipant),
	})
	if err != nil {
		if errors.Is(err, coordinator.ErrInvalidRequest) {
			respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to start avatar session", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, startAvatarResponse{
		Success:   true,
		Status:    res.Status,
		RoomName:  res.RoomName,
		SessionID: res.ExternalSessionID,
	})
}

func (s *Server) handleStopAvatar(w http.ResponseWriter, r *http.Request) {
	if s.coord == nil {
		respondError(w, http.StatusServiceUnavailable, "bridge not configured", s.cfg.BridgeReady().Error())
		return
	}

	var req stopAvatarRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.RoomName) == "" {
		respondError(w, http.StatusBadRequest, "roomName is required", "")
		return
	}

	res := s.coord.Stop(req.RoomName)
	respondJSON(w, http.StatusOK, stopAvatarResponse{
		Status:   res.Status,
		RoomName: res.RoomName,
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message, details string) {
	respondJSON(w, status, errorResponse{Error: message, Details: details})
}
