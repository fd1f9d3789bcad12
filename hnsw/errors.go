package hnsw

import (
	"errors"
	"fmt"
)

// ErrKeyExists is returned by Insert when key is already present in the
// index (tombstoned entries count as present — Remove does not free the key
// for reuse).
var ErrKeyExists = errors.New("hnsw: key already exists")

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimension.
type ErrDimensionMismatch struct {
	Want, Got int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("hnsw: expected vector of dimension %d, got %d", e.Want, e.Got)
}
