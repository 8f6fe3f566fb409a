package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientHistory means a lookback needed more bars than exist.
	// Confirmation fails closed on it and stop policies return it; it is
	// never returned from OnBar.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrOrderRejected covers Canceled, Margin and Rejected notifications.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInvalidSizing means the computed order size was not positive.
	ErrInvalidSizing = errors.New("invalid sizing")

	// ErrInvalidRisk means the stop level is not on the losing side of the
	// entry price, so no take-profit can be derived.
	ErrInvalidRisk = errors.New("invalid risk levels")

	// ErrOrderOutstanding is returned when a second order is started while
	// one is still pending.
	ErrOrderOutstanding = errors.New("order outstanding")

	// ErrUnknownOrder is returned for notifications about an order the
	// tracker is not following.
	ErrUnknownOrder = errors.New("unknown order")
)

// ConfigError reports a malformed engine parameter. It is the only error
// class that is fatal, and it is raised before any bar is processed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
