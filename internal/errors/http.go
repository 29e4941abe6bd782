package errors

import (
	"encoding/json"
	"net/http"

	"github.com/copyleftdev/smbo/internal/optimization"
)

// Response is the JSON body written for failed requests.
type Response struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// StatusCode maps err to an HTTP status. An explicit status on an *Error in
// the chain wins; otherwise the optimization error kind decides.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var e *Error
	if As(err, &e) && e.Status != 0 {
		return e.Status
	}

	switch optimization.KindOf(err) {
	case optimization.KindInvalidInput, optimization.KindTypeMismatch, optimization.KindInvalidSpace:
		return http.StatusBadRequest
	case optimization.KindModelNotTrained:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes err as a JSON error body with the mapped status.
func WriteJSON(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	body := Response{
		Error:   http.StatusText(status),
		Kind:    string(optimization.KindOf(err)),
		Message: err.Error(),
	}
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		body.Message = http.StatusText(status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
