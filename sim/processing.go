package sim

import (
	"fmt"
	"sync"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

type processing struct {
	cal *CalibrationDesc

	mu       sync.Mutex
	args     cuvis.ProcessingArgs
	refs     map[cuvis.ReferenceType]*measurement
	distance float64
}

func newProcessing(cal *CalibrationDesc) *processing {
	return &processing{
		cal:  cal,
		args: cuvis.ProcessingArgs{ProcessingMode: cuvis.ModeRaw},
		refs: map[cuvis.ReferenceType]*measurement{},
	}
}

// needs lists the references a mode requires
func needs(mode cuvis.ProcessingMode) []cuvis.ReferenceType {
	switch mode {
	case cuvis.ModeDarkSubtract, cuvis.ModeSpectralRadiance:
		return []cuvis.ReferenceType{cuvis.RefDark}
	case cuvis.ModeReflectance:
		return []cuvis.ReferenceType{cuvis.RefDark, cuvis.RefWhite}
	}
	return nil
}

// missing returns the first reference mode needs that is not stored.
// p.mu must be held.
func (p *processing) missing(mode cuvis.ProcessingMode) (cuvis.ReferenceType, bool) {
	for _, r := range needs(mode) {
		if p.refs[r] == nil {
			return r, true
		}
	}
	return 0, false
}

// apply computes the cube of m from its raw frame
func (p *processing) apply(m *measurement) error {
	p.mu.Lock()
	args, distance := p.args, p.distance
	if r, ok := p.missing(args.ProcessingMode); ok {
		p.mu.Unlock()
		return fmt.Errorf("processing mode %s requires a %s reference", args.ProcessingMode, r)
	}
	var dark, white cuvis.ImageBuffer
	if d := p.refs[cuvis.RefDark]; d != nil {
		dark = d.images[RawKey]
	}
	if w := p.refs[cuvis.RefWhite]; w != nil {
		white = w.images[RawKey]
	}
	p.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.images[RawKey]
	if !ok {
		return fmt.Errorf("measurement %q holds no raw data", m.meta.Name)
	}
	if args.ProcessingMode != cuvis.ModeRaw && args.ProcessingMode != cuvis.ModePreview {
		if err := sameShape(raw, dark); err != nil {
			return err
		}
	}
	n := raw.Len()
	var cube cuvis.ImageBuffer
	switch args.ProcessingMode {
	case cuvis.ModePreview, cuvis.ModeRaw:
		cube = copyBuffer(raw)
	case cuvis.ModeDarkSubtract:
		cube = newBuffer(raw.Width, raw.Height, raw.Channels, cuvis.FormatUint16, raw.Wavelengths)
		for i := 0; i < n; i++ {
			putU16(cube, i, clip(raw.Sample(i)-dark.Sample(i)))
		}
	case cuvis.ModeReflectance:
		if err := sameShape(raw, white); err != nil {
			return err
		}
		// reflectance in hundredths of a percent
		cube = newBuffer(raw.Width, raw.Height, raw.Channels, cuvis.FormatUint16, raw.Wavelengths)
		for i := 0; i < n; i++ {
			span := white.Sample(i) - dark.Sample(i)
			v := 0.
			if span > 0 {
				v = (raw.Sample(i) - dark.Sample(i)) / span * 10000
			}
			if v < 0 {
				v = 0
			}
			if v > 65535 {
				v = 65535
			}
			putU16(cube, i, uint16(v))
		}
	case cuvis.ModeSpectralRadiance:
		ms := float64(m.meta.IntegrationTime.Milliseconds())
		if ms <= 0 {
			ms = 1
		}
		cube = newBuffer(raw.Width, raw.Height, raw.Channels, cuvis.FormatFloat32, raw.Wavelengths)
		for i := 0; i < n; i++ {
			putF32(cube, i, float32((raw.Sample(i)-dark.Sample(i))/ms))
		}
	default:
		return fmt.Errorf("unknown processing mode %d", int(args.ProcessingMode))
	}
	m.images[cuvis.CubeKey] = cube
	m.meta.ProcessingMode = args.ProcessingMode
	m.meta.Distance = distance
	return nil
}

func sameShape(a, b cuvis.ImageBuffer) error {
	if a.Width != b.Width || a.Height != b.Height || a.Channels != b.Channels {
		return fmt.Errorf("reference is %dx%dx%d, measurement is %dx%dx%d",
			b.Width, b.Height, b.Channels, a.Width, a.Height, a.Channels)
	}
	return nil
}

func (l *Lib) proc(id int) (*processing, cuvis.Status) {
	p, ok := l.processing(id)
	if !ok {
		return nil, l.invalid(cuvis.KindProcessingContext, id)
	}
	return p, cuvis.StatusOK
}

func (l *Lib) putProcessing(p *processing) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.procs[id] = p
	return id
}

// ProcCreateFromCalibration creates a processing context without references
func (l *Lib) ProcCreateFromCalibration(cal int) (int, cuvis.Status) {
	l.mu.Lock()
	c, ok := l.calibs[cal]
	l.mu.Unlock()
	if !ok {
		return 0, l.invalid(cuvis.KindCalibration, cal)
	}
	return l.putProcessing(newProcessing(c)), cuvis.StatusOK
}

// ProcCreateFromSessionFile creates a processing context holding the
// session's references
func (l *Lib) ProcCreateFromSessionFile(sess int) (int, cuvis.Status) {
	s, ok := l.session(sess)
	if !ok {
		return 0, l.invalid(cuvis.KindSessionFile, sess)
	}
	p := newProcessing(&s.desc.Calibration)
	for _, r := range s.refs {
		p.refs[r] = reference(&s.desc.Calibration, r, s.desc.IntegrationTime)
	}
	return l.putProcessing(p), cuvis.StatusOK
}

// ProcCreateFromMeasurement creates a processing context from the
// calibration a measurement was taken with
func (l *Lib) ProcCreateFromMeasurement(mesu int) (int, cuvis.Status) {
	m, ok := l.measurement(mesu)
	if !ok {
		return 0, l.invalid(cuvis.KindMeasurement, mesu)
	}
	return l.putProcessing(newProcessing(m.calib)), cuvis.StatusOK
}

// ProcApply processes a measurement in place
func (l *Lib) ProcApply(proc, mesu int) cuvis.Status {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return st
	}
	m, ok := l.measurement(mesu)
	if !ok {
		return l.invalid(cuvis.KindMeasurement, mesu)
	}
	if err := p.apply(m); err != nil {
		return l.fail(cuvis.StatusError, "%v", err)
	}
	return cuvis.StatusOK
}

// ProcSetArgs replaces the processing arguments
func (l *Lib) ProcSetArgs(proc int, args cuvis.ProcessingArgs) cuvis.Status {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return st
	}
	if args.ProcessingMode < cuvis.ModePreview || args.ProcessingMode > cuvis.ModeSpectralRadiance {
		return l.fail(cuvis.StatusError, "unknown processing mode %d", int(args.ProcessingMode))
	}
	p.mu.Lock()
	p.args = args
	p.mu.Unlock()
	return cuvis.StatusOK
}

// ProcSetReference stores a copy of a measurement as a reference
func (l *Lib) ProcSetReference(proc, mesu int, ref cuvis.ReferenceType) cuvis.Status {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return st
	}
	m, ok := l.measurement(mesu)
	if !ok {
		return l.invalid(cuvis.KindMeasurement, mesu)
	}
	if ref < cuvis.RefDark || ref > cuvis.RefDistance {
		return l.fail(cuvis.StatusError, "unknown reference type %d", int(ref))
	}
	c := m.clone()
	p.mu.Lock()
	p.refs[ref] = c
	p.mu.Unlock()
	return cuvis.StatusOK
}

// ProcClearReference removes a reference
func (l *Lib) ProcClearReference(proc int, ref cuvis.ReferenceType) cuvis.Status {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return st
	}
	p.mu.Lock()
	delete(p.refs, ref)
	p.mu.Unlock()
	return cuvis.StatusOK
}

// ProcGetReference returns a copy of a stored reference
func (l *Lib) ProcGetReference(proc int, ref cuvis.ReferenceType) (int, cuvis.Status) {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return 0, st
	}
	p.mu.Lock()
	m := p.refs[ref]
	p.mu.Unlock()
	if m == nil {
		return 0, l.fail(cuvis.StatusNoMeasurement, "no %s reference is set", ref)
	}
	return l.putMeasurement(m.clone()), cuvis.StatusOK
}

// ProcHasReference reports whether a reference is stored
func (l *Lib) ProcHasReference(proc int, ref cuvis.ReferenceType) (bool, cuvis.Status) {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return false, st
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs[ref] != nil, cuvis.StatusOK
}

// ProcIsCapable reports whether the stored references support args for a
// measurement
func (l *Lib) ProcIsCapable(proc, mesu int, args cuvis.ProcessingArgs) (bool, cuvis.Status) {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return false, st
	}
	m, ok := l.measurement(mesu)
	if !ok {
		return false, l.invalid(cuvis.KindMeasurement, mesu)
	}
	m.mu.Lock()
	_, hasRaw := m.images[RawKey]
	m.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	_, lacking := p.missing(args.ProcessingMode)
	return hasRaw && !lacking, cuvis.StatusOK
}

// ProcCalcDistance sets the object distance recorded on processed frames
func (l *Lib) ProcCalcDistance(proc int, distanceMM float64) cuvis.Status {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return st
	}
	if distanceMM <= 0 {
		return l.fail(cuvis.StatusError, "distance must be positive, got %g mm", distanceMM)
	}
	p.mu.Lock()
	p.distance = distanceMM
	p.mu.Unlock()
	return cuvis.StatusOK
}

// ProcCalibrationID is the unique id of the context's calibration
func (l *Lib) ProcCalibrationID(proc int) (string, cuvis.Status) {
	p, st := l.proc(proc)
	if st != cuvis.StatusOK {
		return "", st
	}
	return p.cal.UniqueID(), cuvis.StatusOK
}

type viewer struct {
	settings cuvis.ViewerSettings
}

// ViewKey is the item a simulated viewer renders
const ViewKey = "view"

// render averages the channels of the cube, or the raw frame, into an 8 bit
// image scaled to its maximum
func (v *viewer) render(m *measurement) (map[string]cuvis.ImageBuffer, error) {
	_, img, ok := m.primary()
	if !ok {
		return nil, fmt.Errorf("measurement %q has no image data", m.metadata().Name)
	}
	out := newBuffer(img.Width, img.Height, 1, cuvis.FormatUint8, nil)
	px := img.Width * img.Height
	means := make([]float64, px)
	max := 0.
	for i := 0; i < px; i++ {
		sum := 0.
		for c := 0; c < img.Channels; c++ {
			sum += img.Sample(i*img.Channels + c)
		}
		means[i] = sum / float64(img.Channels)
		if means[i] > max {
			max = means[i]
		}
	}
	for i, mean := range means {
		if max > 0 {
			out.Data[i] = uint8(mean / max * 255)
		}
	}
	return map[string]cuvis.ImageBuffer{ViewKey: out}, nil
}

// ViewerCreate creates a viewer
func (l *Lib) ViewerCreate(settings cuvis.ViewerSettings) (int, cuvis.Status) {
	if settings.PanScale < 0 {
		return 0, l.fail(cuvis.StatusError, "pan scale must be non-negative, got %g", settings.PanScale)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.viewers[id] = &viewer{settings: settings}
	return id, cuvis.StatusOK
}

func (l *Lib) putView(images map[string]cuvis.ImageBuffer) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.views[id] = images
	return id
}

// ViewerApply renders a measurement into a new view
func (l *Lib) ViewerApply(viewerID, mesu int) (int, cuvis.Status) {
	l.mu.Lock()
	v, ok := l.viewers[viewerID]
	l.mu.Unlock()
	if !ok {
		return 0, l.invalid(cuvis.KindViewer, viewerID)
	}
	m, ok := l.measurement(mesu)
	if !ok {
		return 0, l.invalid(cuvis.KindMeasurement, mesu)
	}
	images, err := v.render(m)
	if err != nil {
		return 0, l.fail(cuvis.StatusError, "%v", err)
	}
	return l.putView(images), cuvis.StatusOK
}

// ViewData copies the images of a view out
func (l *Lib) ViewData(view int) (map[string]cuvis.ImageBuffer, cuvis.Status) {
	l.mu.Lock()
	images, ok := l.views[view]
	l.mu.Unlock()
	if !ok {
		return nil, l.invalid(cuvis.KindView, view)
	}
	out := make(map[string]cuvis.ImageBuffer, len(images))
	for k, v := range images {
		out[k] = copyBuffer(v)
	}
	return out, cuvis.StatusOK
}
