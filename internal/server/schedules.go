package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"clockd/internal/scheduler"
	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

type scheduleRequest struct {
	Name       string   `json:"name"`
	StartTime  string   `json:"startTime"`
	EndTime    string   `json:"endTime,omitempty"`
	Weekdays   []string `json:"weekdays"`
	MovementID string   `json:"movementId"`
	Active     *bool    `json:"active,omitempty"`
}

func (s *Server) validateSchedule(r *http.Request, req scheduleRequest) (string, bool) {
	if req.Name == "" {
		return "name is required", false
	}
	if _, _, err := scheduler.ParseClock(req.StartTime); err != nil {
		return err.Error(), false
	}
	if req.EndTime != "" {
		if _, _, err := scheduler.ParseClock(req.EndTime); err != nil {
			return err.Error(), false
		}
	}
	if _, err := scheduler.WeekdayNumbers(req.Weekdays, s.log); err != nil {
		return "weekdays must contain at least one of Su M T W Th F Sa", false
	}
	if req.MovementID == "" {
		return "movementId is required", false
	}
	if _, err := s.store.MovementByID(r.Context(), req.MovementID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "movementId does not reference a known movement", false
		}
		return err.Error(), false
	}
	return "", true
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.Schedules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []storage.ScheduleRecord{}
	}
	writeData(w, http.StatusOK, recs)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.ScheduleByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, rec)
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg, ok := s.validateSchedule(r, req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now()
	rec := storage.ScheduleRecord{
		ID:         uuid.NewString(),
		Name:       req.Name,
		StartTime:  req.StartTime,
		EndTime:    req.EndTime,
		Weekdays:   req.Weekdays,
		MovementID: req.MovementID,
		Active:     req.Active == nil || *req.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p, ok := principalFromContext(r.Context()); ok {
		rec.CreatedBy = p.UserID
	}
	if err := s.store.PutSchedule(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reloadSchedules(r)
	writeData(w, http.StatusCreated, rec)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.store.ScheduleByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req scheduleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg, ok := s.validateSchedule(r, req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	existing.Name = req.Name
	existing.StartTime = req.StartTime
	existing.EndTime = req.EndTime
	existing.Weekdays = req.Weekdays
	existing.MovementID = req.MovementID
	if req.Active != nil {
		existing.Active = *req.Active
	}
	existing.UpdatedAt = time.Now()

	if err := s.store.UpdateSchedule(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reloadSchedules(r)
	writeData(w, http.StatusOK, existing)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.ScheduleByID(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.reloadSchedules(r)
	writeData(w, http.StatusOK, map[string]string{"deleted": id})
}

// reloadSchedules propagates a schedule mutation into the live trigger set.
// Best-effort: a stopped scheduler simply picks the change up on next start.
func (s *Server) reloadSchedules(r *http.Request) {
	if _, _, err := s.sched.Reload(r.Context()); err != nil {
		s.log.Warn("schedule reload after mutation failed", logx.Err(err))
	}
}
