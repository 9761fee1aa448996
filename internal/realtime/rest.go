package realtime

import (
	"encoding/json"
	"errors"
	"net/http"

	"brake-to-pause/internal/control"
	"brake-to-pause/internal/motion"
	"brake-to-pause/internal/protocol"
	"brake-to-pause/internal/session"
)

type startSessionRequest struct {
	Label  string                  `json:"label"`
	Config *protocol.ConfigPayload `json:"config"`
}

type sessionResponse struct {
	Session protocol.SessionUpdatePayload `json:"session"`
	State   control.SessionState          `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps manager and controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, control.ErrAlreadyEnabled), errors.Is(err, control.ErrNotEnabled):
		return http.StatusConflict
	case errors.Is(err, control.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	cfg, err := protocol.ApplyConfig(s.prefs(), req.Config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := s.sessionMgr.Start(cfg, req.Label)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		Session: sessionPayload(sess),
		State:   s.sessionMgr.State(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessionMgr.Get()
	if err != nil {
		writeError(w, http.StatusNotFound, "no session")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Session: sessionPayload(sess),
		State:   s.sessionMgr.State(),
	})
}

// handleStopSession is the notification's stop action.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionMgr.Stop(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	events := s.sessionMgr.History()
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req protocol.TransitionPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	activity, err := motion.ParseActivity(req.Activity)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sessionMgr.Transition(activity, req.Entering); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req protocol.LocationPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HasSpeed {
		if err := motion.ValidateSpeed(req.SpeedMps); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := s.sessionMgr.Location(motion.Location{SpeedMps: req.SpeedMps, HasSpeed: req.HasSpeed}); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req protocol.SpeedPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.sessionMgr.SpeedSample(req.Kph); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) handleFocusLost(w http.ResponseWriter, r *http.Request) {
	if err := s.sessionMgr.AudioFocusLost(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeState(w)
}

func (s *Server) writeState(w http.ResponseWriter) {
	writeJSON(w, http.StatusAccepted, s.sessionMgr.State())
}
