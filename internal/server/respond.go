package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"roomhub/pkg/apperror"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Error  string              `json:"error"`
	Kind   string              `json:"kind,omitempty"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// writeAppError maps service error kinds onto HTTP status codes.
// Validation failures carry their field map; internal details never
// leak past the kind boundary.
func writeAppError(w http.ResponseWriter, err error) {
	kind := apperror.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperror.KindValidation:
		status = http.StatusBadRequest
	case apperror.KindPermissionDenied:
		status = http.StatusForbidden
	case apperror.KindNotFound:
		status = http.StatusNotFound
	case apperror.KindConflict, apperror.KindInvalidState:
		status = http.StatusConflict
	}
	body := errorBody{Error: errorMessage(err), Kind: string(kind), Fields: apperror.FieldsOf(err)}
	writeJSON(w, status, body)
}

func errorMessage(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindInternal {
		return appErr.Message
	}
	return "internal error"
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
