package market

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable is returned when every source exhausted its retries.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrBlocked marks a source that refused the request (forbidden, geo-blocked or rate limited).
	ErrBlocked = errors.New("source blocked")
	// ErrMalformed marks a response that could not be turned into a candle series.
	ErrMalformed = errors.New("malformed response")
)

// Class groups provider failures by how the fetcher reacts to them.
type Class int

const (
	ClassTransient Class = iota
	ClassBlocked
	ClassMalformed
)

func (c Class) String() string {
	switch c {
	case ClassBlocked:
		return "blocked"
	case ClassMalformed:
		return "malformed"
	default:
		return "transient"
	}
}

// SourceError is a classified failure of a single source request.
type SourceError struct {
	Source     string
	Class      Class
	StatusCode int
	Err        error
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Source, e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Class, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is lets errors.Is match the class sentinels.
func (e *SourceError) Is(target error) bool {
	switch target {
	case ErrBlocked:
		return e.Class == ClassBlocked
	case ErrMalformed:
		return e.Class == ClassMalformed
	}
	return false
}

// DataUnavailableError reports that no source produced a series. It matches
// ErrDataUnavailable and unwraps to the last underlying failure.
type DataUnavailableError struct {
	Symbol   string
	Interval string
	Cause    error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", ErrDataUnavailable, e.Symbol, e.Interval, e.Cause)
}

func (e *DataUnavailableError) Unwrap() error { return e.Cause }

func (e *DataUnavailableError) Is(target error) bool {
	return target == ErrDataUnavailable
}

// isBlocked reports whether err should end all attempts against the current source.
func isBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}
