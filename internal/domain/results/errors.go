package results

import "errors"

// ErrNotFound is returned for ids that were never written or have expired.
var ErrNotFound = errors.New("result not found")
