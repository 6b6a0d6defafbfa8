package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wardenhq/warden/pkg/scope"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response with the given status code
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteDomainError maps the domain error taxonomy to HTTP status codes.
// Unknown errors become 500s with a generic message so storage details
// never reach the client.
func WriteDomainError(w http.ResponseWriter, err error) {
	var ve *scope.ValidationError
	switch {
	case errors.Is(err, scope.ErrNotFound):
		WriteErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, scope.ErrPermissionDenied):
		WriteErrorMessage(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, scope.ErrInvalidOperation):
		WriteError(w, http.StatusBadRequest, err)
	case errors.As(err, &ve):
		WriteError(w, http.StatusUnprocessableEntity, ve)
	default:
		WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

// WriteCreated writes a successful creation response (201 Created) with JSON data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteInternalError writes a generic 500. The error argument is for
// call-site symmetry only and is never echoed to the client.
func WriteInternalError(w http.ResponseWriter, _ error) {
	WriteErrorMessage(w, http.StatusInternalServerError, "internal error")
}

// ListResponse is the envelope for paginated list endpoints.
type ListResponse struct {
	Data  interface{} `json:"data"`
	Count int64       `json:"count"`
}

// WriteList writes a paginated list envelope with a total row count.
func WriteList(w http.ResponseWriter, data interface{}, count int64) error {
	return WriteJSON(w, http.StatusOK, ListResponse{Data: data, Count: count})
}

// Message is a generic message response body.
type Message struct {
	Message string `json:"message"`
}

// WriteMessage writes a 200 with a message body.
func WriteMessage(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, Message{Message: message})
}
