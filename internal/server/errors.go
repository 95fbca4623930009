package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// errorBody is the wire shape for every failure.
type errorBody struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	status := statusForKind(kind)

	body := errorBody{
		ErrorKind: string(kind),
		Message:   errorText(err),
		Hint:      errors.HintOf(err),
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", slog.String("kind", string(kind)), slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}

// errorText renders the message without the [Kind] prefix err.Error() adds.
func errorText(err error) string {
	var be *errors.Error
	if errors.As(err, &be) {
		msg := be.Message
		if be.Cause != nil {
			msg += ": " + be.Cause.Error()
		}
		return msg
	}
	return err.Error()
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidQuery, errors.KindInvalidConfig, errors.KindInvalidFilter,
		errors.KindGraphDisabled, errors.KindRerankDisabled:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict, errors.KindAlreadyRunning, errors.KindLockHeld:
		return http.StatusConflict
	case errors.KindStorageUnavailable, errors.KindProviderUnavailable,
		errors.KindStorageDimensionMismatch:
		return http.StatusServiceUnavailable
	case errors.KindDeadlineExceeded, errors.KindProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response_encode_failed", slog.String("error", err.Error()))
	}
}
