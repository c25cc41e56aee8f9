package exam

import (
	"errors"
	"fmt"
)

// ErrNoMaterial is returned when a request carries no study material.
var ErrNoMaterial = errors.New("no study material provided")

// ErrInsufficientText is returned in OCR mode when the extracted text is
// too short to generate a meaningful exam from.
var ErrInsufficientText = errors.New("not enough text extracted from the material")

// ProviderError wraps a failed call to an external provider (OCR or
// generation). It is never retried here; the caller decides what to do.
type ProviderError struct {
	Op  string // "ocr" or "generate"
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider call failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// FormatError means the generation provider returned output that is not
// valid JSON or does not match the expected exam shape. Raw holds the
// provider's verbatim output for server-side diagnostics only.
type FormatError struct {
	Raw string
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("provider returned malformed exam: %v", e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
