package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is against these.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrValidation        = errors.New("validation failure")
	ErrGenerationFailure = errors.New("generation failure")
	// ErrExternalService marks evaluator/classifier/generator failures. It is
	// recovered inside the app layer and never returned to callers.
	ErrExternalService = errors.New("external service failure")
)

var (
	// ErrSessionNotFound is returned for an unknown study session id.
	ErrSessionNotFound = fmt.Errorf("study session %w", ErrNotFound)
	// ErrTestNotFound is returned for an unknown generated test id.
	ErrTestNotFound = fmt.Errorf("test %w", ErrNotFound)
	// ErrQuestionNotFound indicates a submitted question id is invalid.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	ErrContentNotFound  = fmt.Errorf("content %w", ErrNotFound)

	ErrSessionInactive      = fmt.Errorf("%w: session is not active", ErrInvalidState)
	ErrSessionCompleted     = fmt.Errorf("%w: session already completed", ErrInvalidState)
	ErrSessionNotCompleted  = fmt.Errorf("%w: session not completed", ErrInvalidState)
	ErrBreakAlreadyUsed     = fmt.Errorf("%w: break already used", ErrInvalidState)
	ErrBreakNotStarted      = fmt.Errorf("%w: break not started", ErrInvalidState)
	ErrTestCompleted        = fmt.Errorf("%w: test already completed", ErrInvalidState)
	ErrTestAlreadyStarted   = fmt.Errorf("%w: test already started", ErrInvalidState)
	ErrSessionLimitReached  = fmt.Errorf("%w: daily session limit reached", ErrInvalidState)
	ErrPendingTestsBlocking = fmt.Errorf("%w: complete pending tests first", ErrInvalidState)

	ErrInvalidSessionType  = fmt.Errorf("%w: unknown session type", ErrValidation)
	ErrInvalidOptionIndex  = fmt.Errorf("%w: option index out of range", ErrValidation)
	ErrInvalidAnswer       = fmt.Errorf("%w: malformed answer payload", ErrValidation)
	ErrInvalidEventType    = fmt.Errorf("%w: unknown proctoring event type", ErrValidation)
	ErrInvalidDifficulty   = fmt.Errorf("%w: difficulty must be 1, 2 or 3", ErrValidation)
	ErrEmptyTest           = fmt.Errorf("%w: test has no questions", ErrValidation)
	ErrTranscriptMissing   = fmt.Errorf("%w: content transcript unavailable", ErrGenerationFailure)
	ErrNoQuestionsProduced = fmt.Errorf("%w: question generation returned 0 questions", ErrGenerationFailure)
)
