package service

import (
	"errors"
	"fmt"
)

// HandlerNotFoundError means a command reached the bus with no handler
// registered for it.
type HandlerNotFoundError struct {
	Message string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("handler not found: message=%s", e.Message)
}

func (e *HandlerNotFoundError) Is(target error) bool {
	_, ok := target.(*HandlerNotFoundError)
	return ok
}

func NewHandlerNotFoundError(message string) error {
	return &HandlerNotFoundError{Message: message}
}

func IsHandlerNotFoundError(err error) bool {
	var e *HandlerNotFoundError
	return errors.As(err, &e)
}
