package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"challenge-service/internal/domain"

	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Success bool                `json:"success"`
	Error   string              `json:"error"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return domain.NewValidationError(fmt.Errorf("malformed JSON body: %w", err))
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr),
		errors.Is(err, domain.ErrSelfChallenge),
		errors.Is(err, domain.ErrInvalidScore):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrChallengeNotFound),
		errors.Is(err, domain.ErrBankNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStaleWrite),
		errors.Is(err, domain.ErrAlreadyFinished),
		errors.Is(err, domain.ErrNotExpired),
		errors.Is(err, domain.ErrNotStarted),
		errors.Is(err, domain.ErrNotFinished),
		errors.Is(err, domain.ErrChallengeClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrReadyTimeout):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("request failed")
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}
