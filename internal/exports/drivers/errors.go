package drivers

import "errors"

// ErrNotFound is returned by Get when no artifact exists under the key.
var ErrNotFound = errors.New("export not found")
