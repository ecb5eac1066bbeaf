package store

import "errors"

var (
	// ErrConflict is returned when a reservation loses the race for a slot:
	// the overlap constraint rejected the insert.
	ErrConflict = errors.New("slot no longer available")

	ErrNotFound = errors.New("not found")

	// ErrUnknownSource is returned when a cache replace references a calendar
	// source that does not exist; the replace is rolled back whole.
	ErrUnknownSource = errors.New("unknown calendar source")
)
