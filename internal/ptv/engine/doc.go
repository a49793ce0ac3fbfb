// Package engine implements the numerical kernels behind calibration and
// sequence processing: the camera model, blob detection, grid matching,
// orientation and refinement, stereo correspondence, triangulation and
// frame-to-frame linking.
//
// Sessions and pipelines depend only on the operations exported here, so
// an external engine can replace any of them stage by stage.
package engine
