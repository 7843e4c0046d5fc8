package sim

import (
	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

// CalibrationLoad reads a calibration descriptor from a file or folder
func (l *Lib) CalibrationLoad(path string) (int, cuvis.Status) {
	c, err := LoadCalibrationDesc(path)
	if err != nil {
		return 0, l.fail(cuvis.StatusError, "load calibration: %v", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.calibs[id] = &c
	return id, cuvis.StatusOK
}

func (l *Lib) calibration(id int) (*CalibrationDesc, cuvis.Status) {
	l.mu.Lock()
	c, ok := l.calibs[id]
	l.mu.Unlock()
	if !ok {
		return nil, l.invalid(cuvis.KindCalibration, id)
	}
	return c, cuvis.StatusOK
}

// CalibrationInfo describes a loaded calibration
func (l *Lib) CalibrationInfo(cal int) (cuvis.CalibrationInfo, cuvis.Status) {
	c, st := l.calibration(cal)
	if st != cuvis.StatusOK {
		return cuvis.CalibrationInfo{}, st
	}
	return c.info(), cuvis.StatusOK
}

// CalibrationCapabilities lists what the camera supports in a mode
func (l *Lib) CalibrationCapabilities(cal int, mode cuvis.OperationMode) (cuvis.Capabilities, cuvis.Status) {
	c, st := l.calibration(cal)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if mode < cuvis.OperationExternal || mode > cuvis.OperationUndefined {
		return 0, l.fail(cuvis.StatusError, "invalid operation mode %d", int(mode))
	}
	return c.capabilities(mode), cuvis.StatusOK
}

// SessionFileLoad reads a session descriptor
func (l *Lib) SessionFileLoad(path string) (int, cuvis.Status) {
	s, err := loadSession(path)
	if err != nil {
		return 0, l.fail(cuvis.StatusError, "load session file: %v", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.sessions[id] = s
	return id, cuvis.StatusOK
}

func (l *Lib) sess(id int) (*session, cuvis.Status) {
	s, ok := l.session(id)
	if !ok {
		return nil, l.invalid(cuvis.KindSessionFile, id)
	}
	return s, cuvis.StatusOK
}

// SessionFileSize counts the items of a type
func (l *Lib) SessionFileSize(sess int, item cuvis.SessionItemType) (int, cuvis.Status) {
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return 0, st
	}
	n, ok := s.size(item)
	if !ok {
		return 0, l.fail(cuvis.StatusError, "invalid session item type %d", int(item))
	}
	return n, cuvis.StatusOK
}

// SessionFileMeasurement materializes one item of the recording
func (l *Lib) SessionFileMeasurement(sess, frame int, item cuvis.SessionItemType) (int, cuvis.Status) {
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return 0, st
	}
	m := s.measurement(frame, item)
	if m == nil {
		return 0, l.fail(cuvis.StatusNoMeasurement, "session %s holds no %s item %d", s.desc.Name, item, frame)
	}
	return l.putMeasurement(m), cuvis.StatusOK
}

// SessionFileReference returns a stored reference.  The simulated references
// apply to every frame.
func (l *Lib) SessionFileReference(sess, frame int, ref cuvis.ReferenceType) (int, cuvis.Status) {
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if !s.hasRef(ref) {
		return 0, l.fail(cuvis.StatusNoMeasurement, "session %s holds no %s reference", s.desc.Name, ref)
	}
	return l.putMeasurement(reference(&s.desc.Calibration, ref, s.desc.IntegrationTime)), cuvis.StatusOK
}

// SessionFileFPS is the recorded frame rate
func (l *Lib) SessionFileFPS(sess int) (float64, cuvis.Status) {
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return 0, st
	}
	return s.desc.FPS, cuvis.StatusOK
}

// SessionFileOperationMode is the recorded trigger mode
func (l *Lib) SessionFileOperationMode(sess int) (cuvis.OperationMode, cuvis.Status) {
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return cuvis.OperationUndefined, st
	}
	return s.desc.OperationMode, cuvis.StatusOK
}

// SessionFileHash is a checksum of the session file's contents
func (l *Lib) SessionFileHash(sess int) (string, cuvis.Status) {
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return "", st
	}
	return s.hash, cuvis.StatusOK
}

// MeasurementLoad reads a measurement written by MeasurementSave
func (l *Lib) MeasurementLoad(path string) (int, cuvis.Status) {
	m, err := loadFits(path)
	if err != nil {
		return 0, l.fail(cuvis.StatusError, "load measurement: %v", err)
	}
	return l.putMeasurement(m), cuvis.StatusOK
}

func (l *Lib) mesu(id int) (*measurement, cuvis.Status) {
	m, ok := l.measurement(id)
	if !ok {
		return nil, l.invalid(cuvis.KindMeasurement, id)
	}
	return m, cuvis.StatusOK
}

// MeasurementClone deep copies a measurement
func (l *Lib) MeasurementClone(mesu int) (int, cuvis.Status) {
	m, st := l.mesu(mesu)
	if st != cuvis.StatusOK {
		return 0, st
	}
	return l.putMeasurement(m.clone()), cuvis.StatusOK
}

// MeasurementMetadata returns the descriptive fields
func (l *Lib) MeasurementMetadata(mesu int) (cuvis.Metadata, cuvis.Status) {
	m, st := l.mesu(mesu)
	if st != cuvis.StatusOK {
		return cuvis.Metadata{}, st
	}
	return m.metadata(), cuvis.StatusOK
}

// MeasurementData copies every data item out
func (l *Lib) MeasurementData(mesu int) (cuvis.MeasurementData, cuvis.Status) {
	m, st := l.mesu(mesu)
	if st != cuvis.StatusOK {
		return cuvis.MeasurementData{}, st
	}
	return m.data(), cuvis.StatusOK
}

// MeasurementSetName renames a measurement
func (l *Lib) MeasurementSetName(mesu int, name string) cuvis.Status {
	m, st := l.mesu(mesu)
	if st != cuvis.StatusOK {
		return st
	}
	m.mu.Lock()
	m.meta.Name = name
	m.mu.Unlock()
	return cuvis.StatusOK
}

// MeasurementSetComment replaces a measurement's comment
func (l *Lib) MeasurementSetComment(mesu int, comment string) cuvis.Status {
	m, st := l.mesu(mesu)
	if st != cuvis.StatusOK {
		return st
	}
	m.mu.Lock()
	m.meta.Comment = comment
	m.mu.Unlock()
	return cuvis.StatusOK
}

// MeasurementSave writes a measurement to ge.ExportDir
func (l *Lib) MeasurementSave(mesu int, ge cuvis.GeneralExportSettings, args cuvis.SaveArgs) cuvis.Status {
	m, st := l.mesu(mesu)
	if st != cuvis.StatusOK {
		return st
	}
	if _, err := m.save(ge, args); err != nil {
		return l.fail(cuvis.StatusError, "save measurement: %v", err)
	}
	return cuvis.StatusOK
}
