package arbiter

import "errors"

// ErrBusClosed is returned by a closed bus.
var ErrBusClosed = errors.New("arbiter: bus closed")
