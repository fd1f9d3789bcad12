package applog

import "errors"

// ErrClosed is returned by any operation attempted on a closed Log.
var ErrClosed = errors.New("applog: log is closed")

// ErrInvalidOffset is returned by ReadAt when the offset does not point at
// the start of a frame, or is beyond the current end of the log.
var ErrInvalidOffset = errors.New("applog: invalid offset")
