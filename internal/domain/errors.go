package domain

import "errors"

var (
	// ErrChallengeNotFound is returned when no challenge exists for an id.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrNotParticipant is returned when a user acts on a challenge they are not part of,
	// or on a side of the record they do not own.
	ErrNotParticipant = errors.New("user is not a participant of this challenge")
	// ErrInvalidTransition indicates the requested transition is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid challenge transition")
	// ErrStaleWrite indicates a conditional write lost a race against another writer.
	ErrStaleWrite = errors.New("challenge was modified concurrently")
	// ErrAlreadyFinished is returned when a participant reports completion twice.
	ErrAlreadyFinished = errors.New("participant already finished")
	// ErrNotExpired is returned when expiring a pending challenge before its deadline.
	ErrNotExpired = errors.New("challenge has not expired yet")
	// ErrNotStarted is returned when finishing before both participants are ready.
	ErrNotStarted = errors.New("challenge has not started")
	// ErrNotFinished is returned when reconciling before both participants reported.
	ErrNotFinished = errors.New("both participants must finish before reconciliation")
	// ErrInvalidScore is returned for scores outside [0, len(questions)].
	ErrInvalidScore = errors.New("score out of range")
	// ErrSelfChallenge is returned when a host challenges themselves.
	ErrSelfChallenge = errors.New("cannot challenge yourself")
	// ErrReadyTimeout is returned when the counterpart never signalled readiness in time.
	ErrReadyTimeout = errors.New("counterpart did not join in time")
	// ErrChallengeClosed is returned to waiters when the challenge reached a terminal status
	// other than the one they wait for.
	ErrChallengeClosed = errors.New("challenge is closed")
	// ErrBankNotFound indicates no question bank exists for a subject and difficulty.
	ErrBankNotFound = errors.New("question bank not found")
	// ErrNoQuestions is returned when the generator produced no usable questions.
	ErrNoQuestions = errors.New("no questions generated")
)

// FieldError describes a problem with a single request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError groups field errors for a rejected request.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, fields ...FieldError) error {
	return &ValidationError{Err: err, Fields: fields}
}

func (e *ValidationError) Error() string {
	if e.Err == nil {
		return "validation failed"
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }
