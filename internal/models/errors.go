package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers match with errors.Is.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInjectedFault     = errors.New("injected fault")
)

// ValidationError reports a malformed order request
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
