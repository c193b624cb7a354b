package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"qms/patient-queue/internal/feed"
	"qms/patient-queue/internal/logging"
	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/store"

	"go.uber.org/zap"
)

// Snapshots is the change feed as seen by the pull endpoint.
type Snapshots interface {
	Current() (feed.Event, bool)
	Notify()
}

type Handler struct {
	store     store.QueueStore
	snapshots Snapshots
	logger    *zap.Logger
}

type Options struct {
	Snapshots Snapshots
	Logger    *zap.Logger
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type patientResponse struct {
	OK      bool           `json:"ok"`
	Patient models.Patient `json:"patient"`
}

type clearResponse struct {
	OK      bool `json:"ok"`
	Removed int  `json:"removed"`
}

type historyResponse struct {
	OK    bool                      `json:"ok"`
	Calls []models.CallNotification `json:"calls"`
}

type hideResponse struct {
	OK     bool `json:"ok"`
	Hidden int  `json:"hidden"`
}

type doctorsResponse struct {
	OK      bool            `json:"ok"`
	Doctors []models.Doctor `json:"doctors"`
}

type doctorResponse struct {
	OK     bool          `json:"ok"`
	Doctor models.Doctor `json:"doctor"`
}

func NewHandler(queue store.QueueStore, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: queue, snapshots: options.Snapshots, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/queue", h.handleQueue)
	mux.HandleFunc("/queue/clear", h.handleClear)
	mux.HandleFunc("/patients", h.handleCreatePatient)
	mux.HandleFunc("/patients/", h.handlePatientActions)
	mux.HandleFunc("/history", h.handleHistory)
	mux.HandleFunc("/history/reset", h.handleResetHistory)
	mux.HandleFunc("/history/hide", h.handleHideHistory)
	mux.HandleFunc("/doctors", h.handleDoctors)
	mux.HandleFunc("/doctors/", h.handleDoctorActions)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleQueue is the pull fallback. It serves the feed's last snapshot so
// polling viewers see the same seq as pushed ones.
func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.snapshots != nil {
		if current, ok := h.snapshots.Current(); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(current.Payload)
			return
		}
	}

	patients, err := h.store.ReadQueue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	calls, err := h.store.History(r.Context(), store.HistoryFilter{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Snapshot{OK: true, Patients: patients, Calls: calls})
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req createPatientRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	patient, err := h.store.CreatePatient(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, patientResponse{OK: true, Patient: patient})
}

func (h *Handler) handlePatientActions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/patients/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	id, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(id) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient id is required")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleRemovePatient(w, r, id)
	case len(parts) == 2 && r.Method == http.MethodPost:
		switch parts[1] {
		case "call":
			h.handleCall(w, r, id, h.store.CallPatient)
		case "recall":
			h.handleCall(w, r, id, h.store.RecallPatient)
		case "finish":
			h.handleFinish(w, r, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) <= 2:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type callFunc func(ctx context.Context, input store.CallInput) (models.Patient, error)

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request, id string, call callFunc) {
	var req callRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	patient, err := call(r.Context(), store.CallInput{PatientID: id, By: req.By, Room: req.room()})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, patientResponse{OK: true, Patient: patient})
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request, id string) {
	patient, err := h.store.FinishPatient(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, patientResponse{OK: true, Patient: patient})
}

func (h *Handler) handleRemovePatient(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.RemovePatient(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	removed, err := h.store.ClearQueue(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, clearResponse{OK: true, Removed: removed})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	calls, err := h.store.History(r.Context(), store.HistoryFilter{
		Viewer: query.Get("viewer"),
		Doctor: query.Get("doctor"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{OK: true, Calls: calls})
}

func (h *Handler) handleResetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.store.ResetHistory(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.changed()
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleHideHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req hideHistoryRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	hidden, err := h.store.HideHistory(r.Context(), req.Viewer, req.Doctor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hideResponse{OK: true, Hidden: hidden})
}

func (h *Handler) handleDoctors(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doctors, err := h.store.Doctors(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doctorsResponse{OK: true, Doctors: doctors})
	case http.MethodPost:
		var req doctorRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		doctor, err := h.store.AddDoctor(r.Context(), req.Name, req.room())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, doctorResponse{OK: true, Doctor: doctor})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDoctorActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name, err := url.PathUnescape(strings.Trim(strings.TrimPrefix(r.URL.Path, "/doctors/"), "/"))
	if err != nil || strings.TrimSpace(name) == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor name is required")
		return
	}
	if err := h.store.RemoveDoctor(r.Context(), name); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// changed wakes the feed so viewers see a mutation without waiting a tick.
func (h *Handler) changed() {
	if h.snapshots != nil {
		h.snapshots.Notify()
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), h.logger).Error("request failed", zap.String("code", code), zap.Error(err))
	}
	writeError(w, status, code, message)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), store.ErrValidation.Error()+": ")
	case errors.Is(err, store.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", "patient not found"
	case errors.Is(err, store.ErrDoctorNotFound):
		return http.StatusNotFound, "doctor_not_found", "doctor not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "patient status does not allow this action"
	case errors.Is(err, store.ErrFixedDoctor):
		return http.StatusConflict, "fixed_doctor", "fixed doctors cannot be removed"
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable", "queue storage unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
