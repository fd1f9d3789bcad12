package kvstore

import "errors"

// ErrNotFound is returned by Get/GetVector when key has no live value.
var ErrNotFound = errors.New("kvstore: key not found")

// ErrWrongType is returned when Get is called on a vector key or GetVector
// is called on a string key.
var ErrWrongType = errors.New("kvstore: value is not of the requested type")
