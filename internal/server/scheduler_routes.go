package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"clockd/internal/scheduler"
	"clockd/internal/storage"
)

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.sched.Status())
}

func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	n, err := s.sched.Start(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"running":   true,
		"schedules": n,
		"device":    s.sched.Device(),
	})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if !s.sched.Stop(r.Context()) {
		writeError(w, http.StatusConflict, "scheduler is not running")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"running": false})
}

func (s *Server) handleSchedulerReload(w http.ResponseWriter, r *http.Request) {
	stopped, active, err := s.sched.Reload(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"stopped": stopped, "schedules": active})
}

func (s *Server) handleSchedulerToggle(w http.ResponseWriter, r *http.Request) {
	running, err := s.sched.Toggle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, http.StatusOK, map[string]any{"running": running})
}

func (s *Server) handleExecuteNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scheduleID")
	res, err := s.sched.ExecuteNow(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !res.Success {
		// The firing happened and is logged; the device just didn't take it.
		writeJSON(w, http.StatusBadGateway, envelope{Success: false, Error: res.Message})
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleExecutionLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	logs, err := s.sched.ExecutionLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []storage.ExecutionLogEntry{}
	}
	writeData(w, http.StatusOK, logs)
}

type configureDeviceRequest struct {
	IP   string `json:"ip"`
	Type string `json:"type,omitempty"`
}

func (s *Server) handleConfigureDevice(w http.ResponseWriter, r *http.Request) {
	var req configureDeviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg, err := s.sched.ConfigureDevice(req.IP, req.Type)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, http.StatusOK, cfg)
}

func (s *Server) handleDevicePing(w http.ResponseWriter, r *http.Request) {
	res, err := s.sched.PingDevice(r.Context(), r.URL.Query().Get("ip"))
	if err != nil {
		writeError(w, probeErrStatus(err), err.Error())
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, envelope{Success: false, Error: res.Message})
		return
	}
	writeData(w, http.StatusOK, res)
}

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	res, err := s.sched.DeviceInfo(r.Context(), r.URL.Query().Get("ip"))
	if err != nil {
		writeError(w, probeErrStatus(err), err.Error())
		return
	}
	if !res.Success {
		writeJSON(w, http.StatusBadGateway, envelope{Success: false, Error: res.Message})
		return
	}
	writeData(w, http.StatusOK, res)
}

// probeErrStatus: a missing device is a state conflict, a bad ip parameter is
// the caller's fault.
func probeErrStatus(err error) int {
	if errors.Is(err, scheduler.ErrNoDevice) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}
