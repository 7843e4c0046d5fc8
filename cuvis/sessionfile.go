package cuvis

import (
	"errors"
)

// SessionExt is the file extension of session files
const SessionExt = ".cu3s"

// SessionFile is a recorded session holding a sequence of measurements
type SessionFile struct {
	c core
	h *handle
}

// LoadSessionFile opens the session file at path
func (l *Library) LoadSessionFile(path string) (*SessionFile, error) {
	id, st := l.SessionFileLoad(path)
	if err := l.check(st, "session_file_load"); err != nil {
		return nil, err
	}
	return &SessionFile{c: l.core, h: l.own(KindSessionFile, id)}, nil
}

// Measurement returns frame number frame.  When the session holds no frame
// at that index the result is nil with a nil error.
func (s *SessionFile) Measurement(frame int, item SessionItemType) (*Measurement, error) {
	id, err := s.h.get()
	if err != nil {
		return nil, err
	}
	mesu, st := s.c.SessionFileMeasurement(id, frame, item)
	if st == StatusNoMeasurement {
		return nil, nil
	}
	if err = s.c.check(st, "session_file_get_mesu"); err != nil {
		return nil, err
	}
	return newMeasurement(s.c, mesu), nil
}

// Reference returns a reference stored with the session, nil if absent
func (s *SessionFile) Reference(frame int, ref ReferenceType) (*Measurement, error) {
	id, err := s.h.get()
	if err != nil {
		return nil, err
	}
	mesu, st := s.c.SessionFileReference(id, frame, ref)
	if st == StatusNoMeasurement {
		return nil, nil
	}
	if err = s.c.check(st, "session_file_get_reference_mesu"); err != nil {
		return nil, err
	}
	return newMeasurement(s.c, mesu), nil
}

// Size is the number of items of the given type
func (s *SessionFile) Size(item SessionItemType) (int, error) {
	id, err := s.h.get()
	if err != nil {
		return 0, err
	}
	n, st := s.c.SessionFileSize(id, item)
	return n, s.c.check(st, "session_file_get_size")
}

// FPS is the frame rate the session was recorded at
func (s *SessionFile) FPS() (float64, error) {
	id, err := s.h.get()
	if err != nil {
		return 0, err
	}
	f, st := s.c.SessionFileFPS(id)
	return f, s.c.check(st, "session_file_get_fps")
}

// OperationMode is the trigger mode the session was recorded in
func (s *SessionFile) OperationMode() (OperationMode, error) {
	id, err := s.h.get()
	if err != nil {
		return OperationUndefined, err
	}
	m, st := s.c.SessionFileOperationMode(id)
	return m, s.c.check(st, "session_file_get_operation_mode")
}

// Hash is a content hash of the session file
func (s *SessionFile) Hash() (string, error) {
	id, err := s.h.get()
	if err != nil {
		return "", err
	}
	h, st := s.c.SessionFileHash(id)
	return h, s.c.check(st, "session_file_get_hash")
}

// Each calls fn with every recorded frame in order.  fn owns the measurement.
// Iteration stops at the first error, from the session or from fn; ErrStop
// ends it early without an error.
func (s *SessionFile) Each(fn func(frame int, m *Measurement) error) error {
	n, err := s.Size(ItemNoGaps)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		m, err := s.Measurement(i, ItemNoGaps)
		if err != nil {
			return err
		}
		if m == nil {
			continue
		}
		if err = fn(i, m); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// ErrStop may be returned from an Each callback to end iteration without error
var ErrStop = errors.New("cuvis: stop iteration")

// Close releases the session file
func (s *SessionFile) Close() error {
	return s.h.release()
}
