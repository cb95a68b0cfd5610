package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"

	apperrors "github.com/mediaforge/transcoder/internal/errors"
)

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// WriteServiceError maps a service-layer error onto an HTTP status by its
// error code and writes the JSON error response.
func WriteServiceError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	errCode := "internal"

	switch {
	case apperrors.IsNotFound(err):
		code = http.StatusNotFound
		errCode = "not_found"
	case apperrors.IsValidation(err):
		code = http.StatusBadRequest
		errCode = "validation"
	case apperrors.IsConflict(err):
		code = http.StatusConflict
		errCode = "conflict"
	case apperrors.IsTransient(err):
		code = http.StatusServiceUnavailable
		errCode = "transient"
	}

	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err})
}
