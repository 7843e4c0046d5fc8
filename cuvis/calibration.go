package cuvis

// Calibration is a factory calibration loaded from disk
type Calibration struct {
	c core
	h *handle
}

// LoadCalibration loads the calibration stored at path
func (l *Library) LoadCalibration(path string) (*Calibration, error) {
	id, st := l.CalibrationLoad(path)
	if err := l.check(st, "calib_create_from_path"); err != nil {
		return nil, err
	}
	return &Calibration{c: l.core, h: l.own(KindCalibration, id)}, nil
}

// Info returns the descriptive fields of the calibration
func (cal *Calibration) Info() (CalibrationInfo, error) {
	id, err := cal.h.get()
	if err != nil {
		return CalibrationInfo{}, err
	}
	info, st := cal.c.CalibrationInfo(id)
	return info, cal.c.check(st, "calib_get_info")
}

// Capabilities lists what the calibration supports in a given operation mode
func (cal *Calibration) Capabilities(mode OperationMode) (Capabilities, error) {
	id, err := cal.h.get()
	if err != nil {
		return 0, err
	}
	caps, st := cal.c.CalibrationCapabilities(id, mode)
	return caps, cal.c.check(st, "calib_get_capabilities")
}

// Close releases the calibration
func (cal *Calibration) Close() error {
	return cal.h.release()
}
