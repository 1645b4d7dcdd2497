package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFileTooLarge      = errors.New("file too large")
	ErrJobInProgress     = errors.New("an analysis is already running")
	ErrRegionRestricted  = errors.New("service unavailable in this region")
	ErrUploadFailed      = errors.New("upload failed")
	ErrProcessingFailed  = errors.New("video processing failed at server side")
	ErrProcessingTimeout = errors.New("video processing timed out")
	ErrEmptyAnalysis     = errors.New("empty analysis response")
)

// regionMarkers are upstream phrases meaning the caller's location is blocked.
var regionMarkers = []string{"User location is not supported", "FAILED_PRECONDITION"}

// RelayError is a non-2xx answer from the relay.
type RelayError struct {
	Action     string
	StatusCode int
	Body       string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s failed (%d): %s", e.Action, e.StatusCode, strings.TrimSpace(e.Body))
}

// regionRestricted reports whether err carries an upstream region block.
func regionRestricted(err error) bool {
	var re *RelayError
	if !errors.As(err, &re) {
		return false
	}
	for _, m := range regionMarkers {
		if strings.Contains(re.Body, m) {
			return true
		}
	}
	return false
}
