package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clockd/internal/movement"
	"clockd/internal/storage"
)

type movementRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Duration    int                 `json:"duration,omitempty"`
	General     string              `json:"directionGeneral,omitempty"`
	Hours       storage.AxisProfile `json:"hours,omitempty"`
	Minutes     storage.AxisProfile `json:"minutes,omitempty"`
}

func validateMovement(req movementRequest) (string, bool) {
	if req.Name == "" {
		return "name is required", false
	}
	if req.Duration < 0 {
		return "duration must not be negative", false
	}
	for _, dir := range []string{req.General, req.Hours.Direction, req.Minutes.Direction} {
		if dir != "" && dir != movement.DirectionCW && dir != movement.DirectionCCW {
			return fmt.Sprintf("direction %q must be %q or %q", dir, movement.DirectionCW, movement.DirectionCCW), false
		}
	}
	// Speeds are stored as-given and clamped at dispatch time; only outright
	// nonsense is rejected here.
	if req.Hours.Speed < 0 || req.Minutes.Speed < 0 {
		return "speed must not be negative", false
	}
	return "", true
}

func (s *Server) handleListMovements(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.Movements(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if defs == nil {
		defs = []storage.MovementDefinition{}
	}
	writeData(w, http.StatusOK, defs)
}

func (s *Server) handleGetMovement(w http.ResponseWriter, r *http.Request) {
	def, err := s.store.MovementByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, def)
}

func (s *Server) handleCreateMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg, ok := validateMovement(req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now()
	def := storage.MovementDefinition{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Duration:    req.Duration,
		General:     req.General,
		Hours:       req.Hours,
		Minutes:     req.Minutes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p, ok := principalFromContext(r.Context()); ok {
		def.CreatedBy = p.UserID
	}
	if err := s.store.PutMovement(r.Context(), def); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusCreated, def)
}

func (s *Server) handleUpdateMovement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.store.MovementByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req movementRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg, ok := validateMovement(req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing.Name = req.Name
	existing.Description = req.Description
	existing.Duration = req.Duration
	existing.General = req.General
	existing.Hours = req.Hours
	existing.Minutes = req.Minutes
	existing.UpdatedAt = time.Now()

	if err := s.store.UpdateMovement(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteMovement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.MovementByID(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "movement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Refuse deleting a movement a schedule still points at; a dangling
	// reference would turn every firing of that schedule into a failure.
	recs, err := s.store.Schedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rec := range recs {
		if rec.MovementID == id {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("movement is referenced by schedule %q", rec.Name))
			return
		}
	}

	if err := s.store.DeleteMovement(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]string{"deleted": id})
}
