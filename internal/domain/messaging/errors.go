package messaging

import "errors"

var (
	ErrValidation       = errors.New("messaging: validation failed")
	ErrNotFound         = errors.New("messaging: not found")
	ErrInvalidOperation = errors.New("messaging: invalid operation")
	ErrUnavailable      = errors.New("messaging: store unavailable")

	ErrSelfMessage = &OperationError{Reason: "cannot message self"}
	// ErrConversationMismatch is returned when a derived id resolves to a
	// conversation between other users, e.g. ids that themselves contain "_".
	ErrConversationMismatch = &OperationError{Reason: "conversation belongs to other participants"}

	ErrListingNotFound      = &NotFoundError{Resource: "listing"}
	ErrReceiverNotFound     = &NotFoundError{Resource: "receiver"}
	ErrConversationNotFound = &NotFoundError{Resource: "conversation"}
	ErrMessageNotFound      = &NotFoundError{Resource: "message"}
)

// FieldError reports a missing or malformed input field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + " " + e.Reason }
func (e *FieldError) Unwrap() error { return ErrValidation }

func Required(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

// NotFoundError names the missing resource. Non-participant access is reported
// as a missing conversation so existence is never confirmed to outsiders.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type OperationError struct {
	Reason string
}

func (e *OperationError) Error() string { return e.Reason }
func (e *OperationError) Unwrap() error { return ErrInvalidOperation }
