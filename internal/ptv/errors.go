package ptv

import "errors"

var (
	// ErrFileNotFound is returned when a required calibration, target or
	// frame file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrMalformedFile is returned when a file exists but does not parse:
	// bad numbers, short rows, or a declared count that does not match the
	// rows present.
	ErrMalformedFile = errors.New("malformed file")
)
