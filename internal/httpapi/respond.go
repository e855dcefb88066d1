// ============================================================================
// internal/httpapi/respond.go
// JSON response envelope and error mapping
// ============================================================================

package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"crms/internal/shared"
)

// JSONResponse structure for successful responses
type JSONResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// JSONError structure for error responses
type JSONError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON is a helper to write success JSON responses
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(JSONResponse{Success: true, Data: payload}); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

// WriteJSONError is a helper to write standardized error JSON responses
func WriteJSONError(w http.ResponseWriter, status int, kind shared.ErrorKind, message string) {
	log.Printf("HTTP Error %d (%s): %s", status, kind, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(JSONError{Success: false, Error: string(kind), Message: message}); err != nil {
		log.Printf("Error writing JSON error response: %v", err)
	}
}

// HandleError translates the service error taxonomy to HTTP responses. This
// is the single place failure kinds become status codes.
func HandleError(w http.ResponseWriter, err error) {
	kind := shared.KindOf(err)
	msg := err.Error()

	switch kind {
	case shared.KindValidationFailed:
		WriteJSONError(w, http.StatusBadRequest, kind, msg)
	case shared.KindAuthentication:
		WriteJSONError(w, http.StatusUnauthorized, kind, msg)
	case shared.KindReAuthRequired, shared.KindReAuthFailed:
		// 401 with a distinct kind so clients know to prompt for a fresh
		// password rather than a full login
		WriteJSONError(w, http.StatusUnauthorized, kind, msg)
	case shared.KindAuthorization:
		WriteJSONError(w, http.StatusForbidden, kind, msg)
	case shared.KindNotFound:
		WriteJSONError(w, http.StatusNotFound, kind, msg)
	case shared.KindConflict:
		WriteJSONError(w, http.StatusConflict, kind, msg)
	case shared.KindLockedRecord:
		WriteJSONError(w, http.StatusLocked, kind, msg)
	case shared.KindRateLimited:
		WriteJSONError(w, http.StatusTooManyRequests, kind, msg)
	default:
		// Never leak internals to the client
		WriteJSONError(w, http.StatusInternalServerError, shared.KindInternal, "internal server error")
	}
}

// ExtractToken extracts the token from the Authorization header (Bearer <token>)
func ExtractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization header format")
	}

	return parts[1], nil
}

// decodeJSON decodes a request body into dst with unknown fields rejected.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return shared.E(shared.KindValidationFailed, "invalid request body: %v", err)
	}
	return nil
}
