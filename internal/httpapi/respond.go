package httpapi

import (
	"encoding/json"
	"net/http"

	apperr "github.com/swissgrant/platform/internal/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the error taxonomy onto HTTP statuses and hides internal
// detail behind the user-facing message.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		h.log.Err(err, "request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": apperr.UserMessage(err),
		"kind":  string(apperr.KindOf(err)),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}
