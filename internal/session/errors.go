package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrStaleSnapshot = errors.New("transcript changed since it was read")
)

// StoreError is a failed call to the session store other than not-found.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("session store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// GenerationError is a failed or timed out call to the generation service.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return &StoreError{Op: op, Err: err}
}
