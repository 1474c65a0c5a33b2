// internal/fault/fault.go
package fault

import (
	"errors"
	"fmt"
)

// Error categories.
//
// Concrete errors wrap exactly one of these so callers can branch with errors.Is:
//
//	if errors.Is(err, fault.ErrBus) {
//	    // transient, caller decides to abort or continue
//	}
var (
	// ErrBus is a register link failure (NACK, timeout, short transfer).
	ErrBus = errors.New("bus error")

	// ErrConfiguration is malformed or missing per-mode data, detected before any write.
	ErrConfiguration = errors.New("configuration error")

	// ErrProgramming is a caller bug: refcount underflow, double registration, hold misuse.
	ErrProgramming = errors.New("programming error")
)

// Configuration returns a ConfigurationError with a formatted message.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Programming returns a ProgrammingError with a formatted message.
func Programming(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProgramming, fmt.Sprintf(format, args...))
}

// Status codes exported in the device status block.
const (
	CodeNone          uint16 = 0
	CodeBus           uint16 = 1
	CodeConfiguration uint16 = 2
	CodeProgramming   uint16 = 3
	CodeOther         uint16 = 255
)

// Code extracts a best-effort uint16 code from an error.
// Categories are checked in order; an error carrying none of them maps to CodeOther.
func Code(err error) uint16 {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, ErrBus):
		return CodeBus
	case errors.Is(err, ErrConfiguration):
		return CodeConfiguration
	case errors.Is(err, ErrProgramming):
		return CodeProgramming
	}

	type coder interface{ Code() uint16 }
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}

	return CodeOther
}
