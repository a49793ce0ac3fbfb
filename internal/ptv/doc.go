// Package ptv holds the domain types and file codecs shared by the
// calibration session and the frame pipeline: detected targets, camera
// calibrations, per-frame correspondence and link records, and the fixed
// text formats they persist through (.ori/.addpar pairs, _targets files,
// rt_is and ptv_is frame files).
//
// The package deliberately contains no orchestration. Sessions live in
// internal/calib, frame processing in internal/ptv/pipeline, and the
// numerical kernels in internal/ptv/engine.
package ptv
