package cuvis

// CubeKey is the data item holding the processed spectral cube
const CubeKey = "cube"

// Measurement is one captured frame with its metadata and data items
type Measurement struct {
	c core
	h *handle
}

func newMeasurement(c core, id int) *Measurement {
	return &Measurement{c: c, h: c.own(KindMeasurement, id)}
}

// LoadMeasurement reads a measurement saved to disk
func (l *Library) LoadMeasurement(path string) (*Measurement, error) {
	id, st := l.MeasurementLoad(path)
	if err := l.check(st, "measurement_load"); err != nil {
		return nil, err
	}
	return newMeasurement(l.core, id), nil
}

// Metadata reads the measurement's metadata from the native library
func (m *Measurement) Metadata() (Metadata, error) {
	id, err := m.h.get()
	if err != nil {
		return Metadata{}, err
	}
	md, st := m.c.MeasurementMetadata(id)
	return md, m.c.check(st, "measurement_get_metadata")
}

// Data copies every data item out of the native library
func (m *Measurement) Data() (MeasurementData, error) {
	id, err := m.h.get()
	if err != nil {
		return MeasurementData{}, err
	}
	d, st := m.c.MeasurementData(id)
	return d, m.c.check(st, "measurement_get_data")
}

// Cube returns the spectral cube, ErrNotAvailable if the measurement has
// not been processed into one
func (m *Measurement) Cube() (ImageBuffer, error) {
	d, err := m.Data()
	if err != nil {
		return ImageBuffer{}, err
	}
	cube, ok := d.Images[CubeKey]
	if !ok {
		return ImageBuffer{}, &SDKError{Op: "measurement_get_data_image", Status: StatusNotAvailable, Msg: "measurement has no cube"}
	}
	return cube, nil
}

// SetName renames the measurement
func (m *Measurement) SetName(name string) error {
	id, err := m.h.get()
	if err != nil {
		return err
	}
	return m.c.check(m.c.MeasurementSetName(id, name), "measurement_set_name")
}

// SetComment replaces the measurement's comment
func (m *Measurement) SetComment(comment string) error {
	id, err := m.h.get()
	if err != nil {
		return err
	}
	return m.c.check(m.c.MeasurementSetComment(id, comment), "measurement_set_comment")
}

// Save writes the measurement to ge.ExportDir
func (m *Measurement) Save(ge GeneralExportSettings, args SaveArgs) error {
	id, err := m.h.get()
	if err != nil {
		return err
	}
	return m.c.check(m.c.MeasurementSave(id, ge, args), "measurement_save")
}

// Clone returns an independent deep copy
func (m *Measurement) Clone() (*Measurement, error) {
	id, err := m.h.get()
	if err != nil {
		return nil, err
	}
	dup, st := m.c.MeasurementClone(id)
	if err = m.c.check(st, "measurement_deep_copy"); err != nil {
		return nil, err
	}
	return newMeasurement(m.c, dup), nil
}

// Valid reports whether the measurement still owns its native handle
func (m *Measurement) Valid() bool {
	return m.h.alive()
}

// Close releases the measurement.  It is a no-op after the measurement was
// moved into a worker.
func (m *Measurement) Close() error {
	return m.h.release()
}
