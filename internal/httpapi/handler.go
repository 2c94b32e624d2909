package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/doctor-queue/internal/models"
	"qms/doctor-queue/internal/queue"
	"qms/doctor-queue/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QueueService is the engine surface the transport drives.
type QueueService interface {
	Snapshot(ctx context.Context, key models.QueueKey) (models.QueueSnapshot, error)
	Enqueue(ctx context.Context, appt models.Appointment) (models.QueueEntry, error)
	Move(ctx context.Context, key models.QueueKey, appointmentID string, newPosition int, expectedVersion *uint64) (models.QueueSnapshot, error)
	MarkTerminal(ctx context.Context, key models.QueueKey, appointmentID, outcome string) (models.QueueEntry, error)
	UpdateDoctorStatus(ctx context.Context, key models.QueueKey, state string, breakMinutes int) (models.DoctorStatus, error)
	Start(ctx context.Context, key models.QueueKey, appointmentID string) (models.QueueEntry, error)
	Complete(ctx context.Context, key models.QueueKey, appointmentID string, noShow bool) (models.QueueEntry, error)
}

// EventLister reads the journal for audit.
type EventLister interface {
	ListEvents(ctx context.Context, key models.QueueKey, afterVersion uint64, limit int) ([]store.QueueEventRecord, error)
}

type Handler struct {
	queue        QueueService
	appointments store.AppointmentSource
	events       EventLister
	log          *zap.Logger
}

type Options struct {
	Appointments store.AppointmentSource
	Events       EventLister
	Logger       *zap.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(queue QueueService, options Options) *Handler {
	log := options.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		queue:        queue,
		appointments: options.Appointments,
		events:       options.Events,
		log:          log,
	}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/queues/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/queues/events", h.handleEvents)
	mux.HandleFunc("/api/queues/actions/start", h.handleStart)
	mux.HandleFunc("/api/queues/actions/complete", h.handleComplete)
	mux.HandleFunc("/api/queues/actions/move", h.handleMove)
	mux.HandleFunc("/api/queues/actions/cancel", h.handleTerminal(models.EntryCancelled))
	mux.HandleFunc("/api/queues/actions/no-show", h.handleTerminal(models.EntryNoShow))
	mux.HandleFunc("/api/doctors/status", h.handleDoctorStatus)
	mux.HandleFunc("/api/appointments/checkin", h.handleCheckin)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	key, ok := queryKey(w, r)
	if !ok {
		return
	}

	snap, err := h.queue.Snapshot(r.Context(), key)
	if err != nil {
		h.fail(w, "", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	key, ok := queryKey(w, r)
	if !ok {
		return
	}

	var after uint64
	if afterRaw := strings.TrimSpace(r.URL.Query().Get("after")); afterRaw != "" {
		parsed, err := strconv.ParseUint(afterRaw, 10, 64)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be a queue version")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	if h.events == nil {
		h.fail(w, "", store.ErrJournalDisabled)
		return
	}
	records, err := h.events.ListEvents(r.Context(), key, after, limit)
	if err != nil {
		h.fail(w, "", err)
		return
	}
	if records == nil {
		records = []store.QueueEventRecord{}
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req entryActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry, err := h.queue.Start(r.Context(), req.key(), req.AppointmentID)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req completeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	entry, err := h.queue.Complete(r.Context(), req.key(), req.AppointmentID, req.NoShow)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req moveRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	snap, err := h.queue.Move(r.Context(), req.key(), req.AppointmentID, req.NewPosition, req.ExpectedVersion)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleTerminal(outcome string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req entryActionRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		entry, err := h.queue.MarkTerminal(r.Context(), req.key(), req.AppointmentID, outcome)
		if err != nil {
			h.fail(w, req.RequestID, err)
			return
		}

		writeJSON(w, http.StatusOK, entry)
	}
}

func (h *Handler) handleDoctorStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req doctorStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	status, err := h.queue.UpdateDoctorStatus(r.Context(), req.key(), req.Status, req.BreakMinutes)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleCheckin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkinRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	appt, err := h.resolveAppointment(r.Context(), req)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}
	if appt.PatientName == "" || appt.SlotTime.IsZero() {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "patient_name and slot_time are required when no appointment store is configured")
		return
	}

	entry, err := h.queue.Enqueue(r.Context(), appt)
	if err != nil {
		h.fail(w, req.RequestID, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// resolveAppointment prefers the booking record; the inline fields are only
// used when no appointment store is configured.
func (h *Handler) resolveAppointment(ctx context.Context, req checkinRequest) (models.Appointment, error) {
	if h.appointments == nil {
		appt := models.Appointment{
			AppointmentID: req.AppointmentID,
			DoctorID:      req.DoctorID,
			SlotDate:      req.Date,
			PatientName:   req.PatientName,
			PatientTag:    req.PatientTag,
		}
		if req.SlotTime != nil {
			appt.SlotTime = req.SlotTime.UTC()
		}
		return appt, nil
	}

	appt, err := h.appointments.GetAppointment(ctx, req.AppointmentID)
	if err != nil {
		return models.Appointment{}, err
	}
	if appt.DoctorID != req.DoctorID || appt.SlotDate != req.Date {
		return models.Appointment{}, store.ErrAppointmentMismatch
	}
	return appt, nil
}

func (h *Handler) fail(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("request_id", requestID), zap.Error(err))
	}
	writeError(w, requestID, status, code, msg)
}

func queryKey(w http.ResponseWriter, r *http.Request) (models.QueueKey, bool) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" || date == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "doctor_id and date are required")
		return models.QueueKey{}, false
	}
	if !isValidUUID(doctorID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
		return models.QueueKey{}, false
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return models.QueueKey{}, false
	}
	return models.QueueKey{DoctorID: doctorID, Date: date}, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrDoctorUnavailable):
		return http.StatusLocked, "doctor_unavailable", "doctor is on break or unavailable; resume the doctor before starting a consultation"
	case errors.Is(err, queue.ErrQueueConflict):
		return http.StatusConflict, "queue_conflict", "another patient is already in consultation"
	case errors.Is(err, queue.ErrNotActiveConsultation):
		return http.StatusConflict, "not_active_consultation", "this patient is not the one currently in consultation"
	case errors.Is(err, queue.ErrInvalidPosition):
		return http.StatusUnprocessableEntity, "invalid_position", "position is outside the active queue"
	case errors.Is(err, queue.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "patient is not in this queue"
	case errors.Is(err, queue.ErrEntryTerminal):
		return http.StatusConflict, "entry_terminal", "patient has already left the queue"
	case errors.Is(err, queue.ErrDuplicateAppointment):
		return http.StatusConflict, "duplicate_appointment", "appointment is already checked in"
	case errors.Is(err, queue.ErrInvalidStatusTransition):
		return http.StatusUnprocessableEntity, "invalid_status_transition", "doctor status cannot change that way"
	case errors.Is(err, queue.ErrStaleQueueVersion):
		return http.StatusConflict, "stale_queue_version", "queue changed since it was loaded; refresh and retry"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrAppointmentMismatch):
		return http.StatusConflict, "appointment_mismatch", "appointment belongs to a different doctor or day"
	case errors.Is(err, store.ErrJournalDisabled):
		return http.StatusNotImplemented, "journal_disabled", "queue journal is not configured"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "unavailable", "request timed out"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
