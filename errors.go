package prerollvalve

import "errors"

var (
	// ErrOutOfOrder is returned by Push when a unit's timestamp is older than
	// the last buffered one. The unit is dropped and the window is unchanged.
	ErrOutOfOrder = errors.New("prerollvalve: out-of-order timestamp")

	// ErrInvalidMaxHistory is returned for a negative max-history.
	ErrInvalidMaxHistory = errors.New("prerollvalve: max-history must be >= 0")

	// ErrInvalidMaxUnits is returned for a negative max-units.
	ErrInvalidMaxUnits = errors.New("prerollvalve: max-units must be >= 0")

	// ErrInvalidFlushMode is returned for an unknown flush mode.
	ErrInvalidFlushMode = errors.New("prerollvalve: invalid flush mode")
)
