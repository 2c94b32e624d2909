package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"qms/doctor-queue/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type request interface {
	normalize()
	requestID() string
}

type queueRequest struct {
	RequestID string `json:"request_id" validate:"omitempty,uuid"`
	DoctorID  string `json:"doctor_id" validate:"required,uuid"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
}

func (r *queueRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.DoctorID = strings.TrimSpace(r.DoctorID)
	r.Date = strings.TrimSpace(r.Date)
}

func (r *queueRequest) requestID() string { return r.RequestID }

func (r *queueRequest) key() models.QueueKey {
	return models.QueueKey{DoctorID: r.DoctorID, Date: r.Date}
}

type entryActionRequest struct {
	queueRequest
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
}

func (r *entryActionRequest) normalize() {
	r.queueRequest.normalize()
	r.AppointmentID = strings.TrimSpace(r.AppointmentID)
}

type completeRequest struct {
	entryActionRequest
	NoShow bool `json:"no_show"`
}

type moveRequest struct {
	entryActionRequest
	NewPosition     int     `json:"new_position"`
	ExpectedVersion *uint64 `json:"expected_version"`
}

type doctorStatusRequest struct {
	queueRequest
	Status       string `json:"status" validate:"required"`
	BreakMinutes int    `json:"break_minutes" validate:"min=0,max=480"`
}

func (r *doctorStatusRequest) normalize() {
	r.queueRequest.normalize()
	r.Status = strings.TrimSpace(r.Status)
}

type checkinRequest struct {
	entryActionRequest
	PatientName string     `json:"patient_name" validate:"max=120"`
	PatientTag  string     `json:"patient_tag" validate:"max=32"`
	SlotTime    *time.Time `json:"slot_time"`
}

func (r *checkinRequest) normalize() {
	r.entryActionRequest.normalize()
	r.PatientName = strings.TrimSpace(r.PatientName)
	r.PatientTag = strings.TrimSpace(r.PatientTag)
}

// decodeRequest decodes a JSON body strictly and validates it, writing the
// 400 response itself when either fails.
func decodeRequest(w http.ResponseWriter, r *http.Request, target request) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	target.normalize()
	if err := validate.Struct(target); err != nil {
		writeError(w, target.requestID(), http.StatusBadRequest, "invalid_request", formatValidationError(err))
		return false
	}
	return true
}

func formatValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return "invalid request payload"
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", e.Field()))
		case "uuid":
			messages = append(messages, fmt.Sprintf("%s must be a UUID", e.Field()))
		case "datetime":
			messages = append(messages, fmt.Sprintf("%s must be YYYY-MM-DD", e.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s must satisfy %s=%s", e.Field(), e.Tag(), e.Param()))
		}
	}
	return strings.Join(messages, ", ")
}
