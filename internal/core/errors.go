package core

import "errors"

// Error taxonomy shared across the service. Validation errors fail fast at
// submission time; adapter errors are captured into the job's error detail and
// surfaced only through status polling.
var (
	// ErrNotFound indicates an unknown or expired job or artifact id.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState indicates an operation that is not valid for the job's
	// current state, such as downloading before completion or cancelling a
	// terminal job.
	ErrInvalidState = errors.New("invalid job state")
	// ErrInvalidParameter indicates a request parameter outside its allowed bounds.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnsupportedVoice indicates a voice id that is not configured.
	ErrUnsupportedVoice = errors.New("unsupported voice")
	// ErrUnsupportedKind indicates an input kind other than url, pdf or text.
	ErrUnsupportedKind = errors.New("unsupported input kind")
	// ErrPayloadTooLarge indicates an uploaded payload above the configured maximum.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrQueueFull indicates the submission queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrExtractionFailed indicates a non-transient extraction backend failure.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrSynthesisFailed indicates a non-transient synthesis backend failure.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrAdapterTimeout indicates an adapter call that exceeded its deadline.
	ErrAdapterTimeout = errors.New("adapter call timed out")
	// ErrAdapterUnavailable indicates a transient adapter failure worth retrying.
	ErrAdapterUnavailable = errors.New("adapter temporarily unavailable")
)

// Transient reports whether an adapter error may succeed on retry. Validation
// rejections and non-transient adapter failures are never retried.
func Transient(err error) bool {
	return errors.Is(err, ErrAdapterUnavailable) || errors.Is(err, ErrAdapterTimeout)
}
