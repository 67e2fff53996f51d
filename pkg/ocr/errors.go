package ocr

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoCandidates marks a pass that produced nothing usable.
var ErrNoCandidates = errors.New("no candidates detected")

// DecodeError reports input bytes that could not be parsed as an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// InvalidRegionError reports a region with non-positive dimensions or one that
// falls entirely outside the image. It indicates a caller bug.
type InvalidRegionError struct {
	Region ROI
	Reason string
}

func (e *InvalidRegionError) Error() string {
	return fmt.Sprintf("invalid region %+v: %s", e.Region, e.Reason)
}

// RecognitionTimeout reports a single recognition call that exceeded its deadline.
type RecognitionTimeout struct {
	Label   string
	Timeout time.Duration
	Err     error
}

func (e *RecognitionTimeout) Error() string {
	return fmt.Sprintf("recognition %q timed out after %s", e.Label, e.Timeout)
}

func (e *RecognitionTimeout) Unwrap() error { return e.Err }

// EngineInitError reports that the recognition engine could not be started.
type EngineInitError struct {
	Err error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("recognition engine init: %v", e.Err)
}

func (e *EngineInitError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is (or wraps) a RecognitionTimeout.
func IsTimeout(err error) bool {
	var te *RecognitionTimeout
	return errors.As(err, &te)
}
