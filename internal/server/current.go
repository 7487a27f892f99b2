package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"clockd/internal/scheduler"
	"clockd/internal/storage"
)

// Handlers for the clock's live motion: fire a stored movement right now, and
// read/update the persisted "current movement" snapshot the mobile app shows.

type directExecuteRequest struct {
	Speed int `json:"speed,omitempty"`
}

func (s *Server) handleExecuteMovement(w http.ResponseWriter, r *http.Request) {
	var req directExecuteRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Speed < 0 {
		writeError(w, http.StatusBadRequest, "speed must be positive")
		return
	}

	res, err := s.sched.ExecuteMovement(r.Context(), chi.URLParam(r, "id"), req.Speed)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "movement not found")
		case errors.Is(err, scheduler.ErrNoDevice):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, envelope{Success: false, Error: res.Message})
		return
	}
	writeData(w, http.StatusOK, res)
}

type currentSpeedRequest struct {
	Speed int `json:"speed"`
}

func (s *Server) handleGetCurrentMovement(w http.ResponseWriter, r *http.Request) {
	def, err := s.store.CurrentMovement(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no current movement set")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, def)
}

// handleSetCurrentMovement replaces the current movement with a stored one,
// looked up by name, optionally pinning both axes to the given speed.
func (s *Server) handleSetCurrentMovement(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "name")))

	var req currentSpeedRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Speed < 0 {
		writeError(w, http.StatusBadRequest, "speed must be positive")
		return
	}

	def, err := s.store.MovementByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movement "+name+" not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Speed > 0 {
		def.Hours.Speed = req.Speed
		def.Minutes.Speed = req.Speed
	}
	def.UpdatedAt = time.Now()
	if p, ok := principalFromContext(r.Context()); ok {
		def.CreatedBy = p.UserID
	}

	if err := s.store.SetCurrentMovement(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, def)
}

func (s *Server) handleCurrentMovementSpeed(w http.ResponseWriter, r *http.Request) {
	var req currentSpeedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Speed <= 0 {
		writeError(w, http.StatusBadRequest, "speed is required and must be positive")
		return
	}

	def, err := s.store.CurrentMovement(r.Context())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no current movement set")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	def.Hours.Speed = req.Speed
	def.Minutes.Speed = req.Speed
	def.UpdatedAt = time.Now()
	if err := s.store.SetCurrentMovement(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, def)
}
