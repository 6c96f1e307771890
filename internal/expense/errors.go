package expense

import "errors"

var (
	// ErrValidation is returned when a create or update request is missing required fields
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when no expense matches the requested id
	ErrNotFound = errors.New("expense not found")

	// ErrInvalidUpload is returned when an uploaded receipt has a disallowed type or size
	ErrInvalidUpload = errors.New("invalid upload")

	// ErrStorage is returned when the staging area or the expense store fails
	ErrStorage = errors.New("storage error")

	// ErrRecognition is returned when the receipt recognizer fails or times out
	ErrRecognition = errors.New("recognition error")
)
