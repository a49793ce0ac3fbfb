package params

import "errors"

// Translation failures. All of them abort the operation that needed the
// parameters; nothing in this package substitutes a default for a missing
// safety-relevant value. Wrapped errors carry the section and field that
// caused the failure; match with errors.Is.
var (
	// ErrMissingField reports a required section or field absent from the
	// configuration document.
	ErrMissingField = errors.New("missing required field")

	// ErrCardinalityMismatch reports a per-camera array whose length does
	// not cover the declared camera count.
	ErrCardinalityMismatch = errors.New("per-camera field cardinality mismatch")

	// ErrSchemaNotFound reports that none of the alternative sections a
	// translator accepts is present in the document.
	ErrSchemaNotFound = errors.New("no recognized parameter schema")
)
