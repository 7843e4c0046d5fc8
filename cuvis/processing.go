package cuvis

import "sync"

// ProcessingContext turns raw measurements into cubes using a calibration
// and optional references
type ProcessingContext struct {
	c core
	h *handle

	mu   sync.Mutex
	args ProcessingArgs
}

func (l *Library) newProcessingContext(id int) *ProcessingContext {
	return &ProcessingContext{
		c:    l.core,
		h:    l.own(KindProcessingContext, id),
		args: ProcessingArgs{ProcessingMode: ModeRaw},
	}
}

// NewProcessingContext creates a processing context from a calibration
func (l *Library) NewProcessingContext(cal *Calibration) (*ProcessingContext, error) {
	calID, err := cal.h.get()
	if err != nil {
		return nil, err
	}
	id, st := l.ProcCreateFromCalibration(calID)
	if err = l.check(st, "proc_cont_create_from_calib"); err != nil {
		return nil, err
	}
	return l.newProcessingContext(id), nil
}

// NewProcessingContextFromSession creates a processing context from the
// calibration and references stored in a session file
func (l *Library) NewProcessingContextFromSession(sess *SessionFile) (*ProcessingContext, error) {
	sessID, err := sess.h.get()
	if err != nil {
		return nil, err
	}
	id, st := l.ProcCreateFromSessionFile(sessID)
	if err = l.check(st, "proc_cont_create_from_session_file"); err != nil {
		return nil, err
	}
	return l.newProcessingContext(id), nil
}

// NewProcessingContextFromMeasurement creates a processing context from the
// calibration embedded in a measurement
func (l *Library) NewProcessingContextFromMeasurement(m *Measurement) (*ProcessingContext, error) {
	mesuID, err := m.h.get()
	if err != nil {
		return nil, err
	}
	id, st := l.ProcCreateFromMeasurement(mesuID)
	if err = l.check(st, "proc_cont_create_from_mesu"); err != nil {
		return nil, err
	}
	return l.newProcessingContext(id), nil
}

// Apply processes m in place with the current arguments
func (p *ProcessingContext) Apply(m *Measurement) error {
	id, err := p.h.get()
	if err != nil {
		return err
	}
	mesuID, err := m.h.get()
	if err != nil {
		return err
	}
	return p.c.check(p.c.ProcApply(id, mesuID), "proc_cont_apply")
}

// Args returns the arguments last set
func (p *ProcessingContext) Args() ProcessingArgs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.args
}

// SetArgs replaces the processing arguments
func (p *ProcessingContext) SetArgs(args ProcessingArgs) error {
	id, err := p.h.get()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err = p.c.check(p.c.ProcSetArgs(id, args), "proc_cont_set_args"); err != nil {
		return err
	}
	p.args = args
	return nil
}

// ProcessingMode is the current output mode
func (p *ProcessingContext) ProcessingMode() ProcessingMode {
	return p.Args().ProcessingMode
}

// SetProcessingMode changes the output mode, keeping the other arguments
func (p *ProcessingContext) SetProcessingMode(mode ProcessingMode) error {
	args := p.Args()
	args.ProcessingMode = mode
	return p.SetArgs(args)
}

// SetReference stores m as a reference.  The context keeps its own copy; m
// stays owned by the caller.
func (p *ProcessingContext) SetReference(m *Measurement, ref ReferenceType) error {
	id, err := p.h.get()
	if err != nil {
		return err
	}
	mesuID, err := m.h.get()
	if err != nil {
		return err
	}
	return p.c.check(p.c.ProcSetReference(id, mesuID, ref), "proc_cont_set_reference")
}

// ClearReference removes a reference
func (p *ProcessingContext) ClearReference(ref ReferenceType) error {
	id, err := p.h.get()
	if err != nil {
		return err
	}
	return p.c.check(p.c.ProcClearReference(id, ref), "proc_cont_clear_reference")
}

// Reference returns a copy of a stored reference
func (p *ProcessingContext) Reference(ref ReferenceType) (*Measurement, error) {
	id, err := p.h.get()
	if err != nil {
		return nil, err
	}
	mesu, st := p.c.ProcGetReference(id, ref)
	if err = p.c.check(st, "proc_cont_get_reference"); err != nil {
		return nil, err
	}
	return newMeasurement(p.c, mesu), nil
}

// HasReference reports whether a reference of the given type is stored
func (p *ProcessingContext) HasReference(ref ReferenceType) (bool, error) {
	id, err := p.h.get()
	if err != nil {
		return false, err
	}
	ok, st := p.c.ProcHasReference(id, ref)
	return ok, p.c.check(st, "proc_cont_has_reference")
}

// IsCapable reports whether m can be processed with args given the stored
// references
func (p *ProcessingContext) IsCapable(m *Measurement, args ProcessingArgs) (bool, error) {
	id, err := p.h.get()
	if err != nil {
		return false, err
	}
	mesuID, err := m.h.get()
	if err != nil {
		return false, err
	}
	ok, st := p.c.ProcIsCapable(id, mesuID, args)
	return ok, p.c.check(st, "proc_cont_is_capable")
}

// CalcDistance sets the object distance used for registration, in millimeters
func (p *ProcessingContext) CalcDistance(mm float64) error {
	id, err := p.h.get()
	if err != nil {
		return err
	}
	return p.c.check(p.c.ProcCalcDistance(id, mm), "proc_cont_calc_distance")
}

// CalibrationID is the unique id of the calibration in use
func (p *ProcessingContext) CalibrationID() (string, error) {
	id, err := p.h.get()
	if err != nil {
		return "", err
	}
	s, st := p.c.ProcCalibrationID(id)
	return s, p.c.check(st, "proc_cont_get_calib_id")
}

// Close releases the context
func (p *ProcessingContext) Close() error {
	return p.h.release()
}
