package domain

import "errors"

// Item errors
var (
	ErrItemNotFound = errors.New("item not found")
	ErrItemExists   = errors.New("item already exists")
)

// Ordering errors
var (
	// ErrConflict reports a lost update: the item's revision changed between
	// read and write.
	ErrConflict = errors.New("conflict")
	// ErrRankTaken reports that another item in the collection already holds
	// the key that was about to be written.
	ErrRankTaken = errors.New("rank already taken")
)

// Input errors
var (
	ErrInvalidCollection = errors.New("invalid collection")
	ErrInvalidPosition   = errors.New("invalid position")
)

// IsRetryable reports whether a write failed because of a concurrent edit, in
// which case the whole read-compute-write cycle can be repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrRankTaken)
}
