package snowflake

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfiguration is returned by the constructors for an out of
	// range node id, an invalid layout or a negative epoch.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrClockRegression matches every *ClockRegressionError.
	ErrClockRegression = errors.New("clock moved backwards")

	// ErrTimestampOutOfRange is returned when the time since the epoch no
	// longer fits the layout's timestamp bits (or the clock is before the epoch).
	ErrTimestampOutOfRange = errors.New("timestamp out of layout range")
)

// ClockRegressionError reports a wall clock reading earlier than the last
// timestamp an ID was minted for.
type ClockRegressionError struct {
	Last int64 // unix ms of the last minted ID
	Now  int64 // unix ms observed by the failed call
}

func (e *ClockRegressionError) Error() string {
	return fmt.Sprintf("clock moved backwards: refusing to generate id for %d ms", e.Last-e.Now)
}

func (e *ClockRegressionError) Is(target error) bool {
	return target == ErrClockRegression
}

// Backward is the magnitude of the regression.
func (e *ClockRegressionError) Backward() time.Duration {
	return time.Duration(e.Last-e.Now) * time.Millisecond
}
