package calib

import "errors"

var (
	// ErrConvergenceFailure is returned when an orientation or refinement
	// run does not reach a usable solution.
	ErrConvergenceFailure = errors.New("calibration did not converge")

	// ErrInvalidCalibration is returned when a refined calibration carries
	// NaN or Inf in any field. Such a calibration is never written to disk.
	ErrInvalidCalibration = errors.New("calibration has non-finite fields")

	// ErrState is returned when a session operation is invoked from the
	// wrong state.
	ErrState = errors.New("invalid session state")
)
