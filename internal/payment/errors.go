package payment

import (
	"errors"
	"fmt"
)

// Failure reasons reported to clients.
const (
	ReasonAmountNotFound  = "amount not found"
	ReasonInvalidAmount   = "invalid amount"
	ReasonInvalidCurrency = "invalid currency"
	ReasonRenderFailed    = "failed to load payment page"
	ReasonInternal        = "internal error"
)

// ErrRateLimited is returned when a client exceeds its request quota.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrBrowserClosed is returned when a page is requested after shutdown.
var ErrBrowserClosed = errors.New("browser is shut down")

// ValidationError reports a URL rejected before any browser work.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid url: " + e.Reason
}

// RenderError reports a navigation, timeout, or browser failure.
type RenderError struct {
	URL   string
	Stage string
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s (%s): %v", e.URL, e.Stage, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsRender reports whether err is a RenderError.
func IsRender(err error) bool {
	var target *RenderError
	return errors.As(err, &target)
}
