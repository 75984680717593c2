package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
)

// maxBodyBytes caps request bodies; policy documents and events are small
const maxBodyBytes = 1 << 20

// JSONResponse sends a JSON response with the given status code
func JSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Warn("Failed to encode response", "error", err)
		}
	}
}

// ErrorResponse sends a JSON error response
func ErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":   message,
		"success": false,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	JSONResponse(w, statusCode, response)
}

// SuccessResponse sends a JSON success response
func SuccessResponse(w http.ResponseWriter, message string, data interface{}) {
	response := map[string]interface{}{
		"message": message,
		"success": true,
	}
	if data != nil {
		response["data"] = data
	}
	JSONResponse(w, http.StatusOK, response)
}

// ValidationErrorResponse reports a rejected policy document field by field.
// Other errors fall back to a plain 500.
func ValidationErrorResponse(w http.ResponseWriter, err error) {
	var verrs policyconfig.ValidationErrors
	if !errors.As(err, &verrs) {
		ErrorResponse(w, http.StatusInternalServerError, "Failed to apply policy config", err)
		return
	}
	JSONResponse(w, http.StatusUnprocessableEntity, map[string]interface{}{
		"error":   "Invalid policy config",
		"success": false,
		"fields":  []policyconfig.FieldError(verrs),
	})
}

// DecodeJSON decodes JSON from request body
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// QueryInt reads a positive integer query parameter, returning def when it
// is absent or unparsable
func QueryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
