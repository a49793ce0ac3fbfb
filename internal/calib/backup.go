package calib

import (
	"fmt"

	"github.com/tracerlab/flowtrace/internal/ptv"
)

// Backup copies every camera's .ori/.addpar pair to its .bck sibling as
// one scoped operation: if any copy fails, the backups written so far are
// removed and no calibration file is considered backed up. A camera whose
// .ori file has never been written has nothing to protect; its pair is
// skipped so that a first orientation run can create the files.
func (s *Session) Backup() error {
	var done []string
	for cam := 0; cam < s.cp.NumCams; cam++ {
		ori := s.ws.Resolve(s.co.OriName[cam])
		if !s.fs.Exists(ori) {
			ptv.Diagf("camera %d: no calibration files yet, backup skipped", cam+1)
			continue
		}
		for _, path := range []string{ori, addParPath(ori)} {
			bck := path + BackupSuffix
			if err := s.fs.CopyFile(path, bck); err != nil {
				for _, p := range done {
					s.fs.Remove(p)
				}
				return fmt.Errorf("backup %s: %w", path, err)
			}
			done = append(done, bck)
		}
	}
	ptv.Opsf("calibration backup: %d files", len(done))
	return nil
}

// Restore copies the .bck backups back over every camera's calibration
// files, reloads the calibrations, and returns the session to the
// Initialized state. This is the session's error-recovery path for a
// failed refinement; it is operator-invoked, never automatic.
func (s *Session) Restore() error {
	for cam := 0; cam < s.cp.NumCams; cam++ {
		ori := s.ws.Resolve(s.co.OriName[cam])
		for _, path := range []string{ori, addParPath(ori)} {
			bck := path + BackupSuffix
			if !s.fs.Exists(bck) {
				return fmt.Errorf("%w: %s", ptv.ErrFileNotFound, bck)
			}
		}
	}
	for cam := 0; cam < s.cp.NumCams; cam++ {
		ori := s.ws.Resolve(s.co.OriName[cam])
		for _, path := range []string{ori, addParPath(ori)} {
			if err := s.fs.CopyFile(path+BackupSuffix, path); err != nil {
				return fmt.Errorf("restore %s: %w", path, err)
			}
		}
		cal, err := ptv.ReadCalibrationFS(s.fs, ori, addParPath(ori))
		if err != nil {
			return fmt.Errorf("camera %d: %w", cam+1, err)
		}
		s.cals[cam] = *cal
	}
	s.detected = nil
	s.sorted = nil
	s.combined = false
	s.state = Initialized
	ptv.Opsf("calibration restored from backups")
	return nil
}
