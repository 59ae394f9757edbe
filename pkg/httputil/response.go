package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/taskboard/pkg/apperrors"
	"github.com/platinummonkey/taskboard/pkg/observability"
)

// Response is the envelope shared by every API response
type Response struct {
	Status  int                    `json:"status"`
	Message string                 `json:"message"`
	Data    interface{}            `json:"data,omitempty"`
	Errors  []apperrors.FieldError `json:"errors"`
	Success bool                   `json:"success"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a success envelope with the given status
func WriteSuccess(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, Response{
		Status:  status,
		Message: message,
		Data:    data,
		Errors:  []apperrors.FieldError{},
		Success: true,
	})
}

// WriteOK writes a 200 success envelope
func WriteOK(w http.ResponseWriter, message string, data interface{}) {
	WriteSuccess(w, http.StatusOK, message, data)
}

// WriteCreated writes a 201 success envelope
func WriteCreated(w http.ResponseWriter, message string, data interface{}) {
	WriteSuccess(w, http.StatusCreated, message, data)
}

// WriteErrorMessage writes a failure envelope with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	writeFailure(w, status, message, nil)
}

// WriteBadRequest writes a 400 failure envelope
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes a 401 failure envelope
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteNotFoundError writes a 404 failure envelope
func WriteNotFoundError(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusNotFound, message)
}

// WriteError is the error boundary for handlers. Typed errors keep their status,
// message and field detail. Anything else is logged and reported as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind == apperrors.KindInternal {
		observability.FromContext(r.Context()).WithError(err).Error("Unhandled error")
		WriteErrorMessage(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := appErr.HTTPStatus()
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("kind", appErr.Kind.String()).
			Error("Request failed")
	}

	writeFailure(w, status, appErr.Message, appErr.Fields)
}

// WriteFailure writes a failure envelope that still carries a data payload,
// such as a degraded health report
func WriteFailure(w http.ResponseWriter, status int, message string, data interface{}) {
	WriteJSON(w, status, Response{
		Status:  status,
		Message: message,
		Data:    data,
		Errors:  []apperrors.FieldError{},
		Success: false,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string, fields []apperrors.FieldError) {
	if fields == nil {
		fields = []apperrors.FieldError{}
	}
	WriteJSON(w, status, Response{
		Status:  status,
		Message: message,
		Errors:  fields,
		Success: false,
	})
}
