package sim

import (
	"fmt"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

const hardwareQueueSize = 4

type compState struct {
	desc   ComponentDesc
	online bool
	gain   float64
	itf    float64
}

type acquisition struct {
	lib      *Lib
	cal      *CalibrationDesc
	sess     *session
	simulate bool

	mu      sync.Mutex
	comps   []compState
	fault   string
	ints    map[cuvis.AcqFeature]int
	floats  map[cuvis.AcqFeature]float64
	queue   []*measurement
	frame   int
	info    cuvis.SessionInfo
	pending map[string]*asyncOp

	arrive chan struct{}
	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *Lib) newAcquisition(cal *CalibrationDesc, sess *session, simulate bool) *acquisition {
	a := &acquisition{
		lib:      l,
		cal:      cal,
		sess:     sess,
		simulate: simulate,
		ints: map[cuvis.AcqFeature]int{
			cuvis.AcqOperationMode: int(cuvis.OperationSoftware),
			cuvis.AcqAverage:       1,
			cuvis.AcqQueueSize:     10,
		},
		floats: map[cuvis.AcqFeature]float64{
			cuvis.AcqIntegrationTime: 10,
			cuvis.AcqFPS:             10,
		},
		info:    cuvis.SessionInfo{Name: "sim"},
		pending: map[string]*asyncOp{},
		arrive:  make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, c := range cal.Components {
		a.comps = append(a.comps, compState{desc: c, online: true, gain: 1, itf: 1})
	}
	if sess != nil {
		a.info.Name = sess.desc.Name
		if sess.desc.OperationMode != cuvis.OperationUndefined {
			a.ints[cuvis.AcqOperationMode] = int(sess.desc.OperationMode)
		}
		if sess.desc.FPS > 0 {
			a.floats[cuvis.AcqFPS] = sess.desc.FPS
		}
		if sess.desc.IntegrationTime > 0 {
			a.floats[cuvis.AcqIntegrationTime] = float64(sess.desc.IntegrationTime) / float64(time.Millisecond)
		}
	}
	go a.run()
	return a
}

func (a *acquisition) close() {
	a.once.Do(func() { close(a.stop) })
	<-a.done
}

func (a *acquisition) poke() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// run generates frames at the configured rate while continuous mode is on
func (a *acquisition) run() {
	defer close(a.done)
	for {
		a.mu.Lock()
		period := time.Second
		if a.streaming() {
			period = time.Duration(float64(time.Second) / a.floats[cuvis.AcqFPS])
		}
		a.mu.Unlock()
		t := time.NewTimer(period)
		select {
		case <-a.stop:
			t.Stop()
			return
		case <-a.wake:
			t.Stop()
			continue
		case <-t.C:
		}
		a.mu.Lock()
		if a.streaming() {
			m := a.nextLocked()
			a.queue = append(a.queue, m)
			if over := len(a.queue) - a.ints[cuvis.AcqQueueSize]; over > 0 {
				a.queue = a.queue[over:]
			}
			select {
			case a.arrive <- struct{}{}:
			default:
			}
		}
		a.mu.Unlock()
	}
}

// streaming reports whether frames are generated.  a.mu must be held.
func (a *acquisition) streaming() bool {
	return a.ints[cuvis.AcqContinuous] != 0 && a.floats[cuvis.AcqFPS] > 0 && a.fault == "" && a.stateLocked() != cuvis.HardwareOffline
}

func (a *acquisition) stateLocked() cuvis.HardwareState {
	n := 0
	for _, c := range a.comps {
		if c.online {
			n++
		}
	}
	switch {
	case n == len(a.comps):
		return cuvis.HardwareOnline
	case n == 0:
		return cuvis.HardwareOffline
	}
	return cuvis.HardwarePartiallyOnline
}

// nextLocked produces the next frame.  Playback contexts cycle through the
// recording; everything else is synthesized.
func (a *acquisition) nextLocked() *measurement {
	intTime := time.Duration(a.floats[cuvis.AcqIntegrationTime] * float64(time.Millisecond))
	var m *measurement
	if a.sess != nil && !a.simulate && len(a.sess.kept) > 0 {
		m = a.sess.synth(a.sess.kept[a.frame%len(a.sess.kept)])
	} else {
		m = synthesize(a.cal, a.frame, intTime, a.ints[cuvis.AcqAverage])
	}
	m.meta.Session = a.info
	m.meta.Session.SequenceNumber = a.frame
	for name, s := range m.sensors {
		for _, c := range a.comps {
			if c.desc.Name == name {
				s.Gain = c.gain
			}
		}
		m.sensors[name] = s
	}
	a.frame++
	a.info.SequenceNumber = a.frame
	return m
}

// exposure is the time one capture takes
func (a *acquisition) exposure() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	avg := a.ints[cuvis.AcqAverage]
	if avg < 1 {
		avg = 1
	}
	return time.Duration(a.floats[cuvis.AcqIntegrationTime]*float64(time.Millisecond)) * time.Duration(avg)
}

// captureCheckLocked checks that a capture can start.  a.mu must be held.
func (a *acquisition) captureCheckLocked() (cuvis.Status, string) {
	if a.fault != "" {
		return cuvis.StatusError, a.fault
	}
	if a.stateLocked() == cuvis.HardwareOffline {
		return cuvis.StatusError, "no camera component is online"
	}
	if cuvis.OperationMode(a.ints[cuvis.AcqOperationMode]) == cuvis.OperationExternal {
		return cuvis.StatusNotSupported, "capture is not available with external triggering"
	}
	return cuvis.StatusOK, ""
}

func (a *acquisition) capture() (*measurement, cuvis.Status, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, msg := a.captureCheckLocked(); st != cuvis.StatusOK {
		return nil, st, msg
	}
	return a.nextLocked(), cuvis.StatusOK, ""
}

// schedule starts an asynchronous operation on a slot, overwriting the one
// in flight there
func (a *acquisition) schedule(slot string, latency time.Duration, run func() (*measurement, cuvis.Status, string)) *asyncOp {
	op := a.lib.newAsyncOp(latency, run)
	a.mu.Lock()
	old := a.pending[slot]
	a.pending[slot] = op
	a.mu.Unlock()
	if old != nil {
		old.overwrite()
	}
	return op
}

func acqIntFeature(f cuvis.AcqFeature) bool {
	switch f {
	case cuvis.AcqOperationMode, cuvis.AcqAverage, cuvis.AcqContinuous, cuvis.AcqAutoExp,
		cuvis.AcqPreviewMode, cuvis.AcqQueueSize, cuvis.AcqQueueUsed:
		return true
	}
	return false
}

func acqFloatFeature(f cuvis.AcqFeature) bool {
	switch f {
	case cuvis.AcqIntegrationTime, cuvis.AcqFPS, cuvis.AcqBandwidth, cuvis.AcqAutoExpComp:
		return true
	}
	return false
}

// validateInt checks an integer setting.  a.mu must be held.
func (a *acquisition) validateInt(f cuvis.AcqFeature, v int) error {
	switch f {
	case cuvis.AcqQueueUsed:
		return fmt.Errorf("%s is read only", f)
	case cuvis.AcqOperationMode:
		if v < 0 || v >= int(cuvis.OperationUndefined) {
			return fmt.Errorf("invalid operation mode %d", v)
		}
	case cuvis.AcqAverage, cuvis.AcqQueueSize:
		if v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", f, v)
		}
	case cuvis.AcqContinuous, cuvis.AcqAutoExp, cuvis.AcqPreviewMode:
		if v != 0 && v != 1 {
			return fmt.Errorf("%s is boolean, got %d", f, v)
		}
	}
	return nil
}

func (a *acquisition) setIntLocked(f cuvis.AcqFeature, v int) {
	a.ints[f] = v
	if f == cuvis.AcqQueueSize && len(a.queue) > v {
		a.queue = a.queue[len(a.queue)-v:]
	}
}

func (a *acquisition) validateFloat(f cuvis.AcqFeature, v float64) error {
	switch f {
	case cuvis.AcqBandwidth:
		return fmt.Errorf("%s is read only", f)
	case cuvis.AcqIntegrationTime, cuvis.AcqFPS:
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %g", f, v)
		}
	}
	return nil
}

func (l *Lib) acq(id int) (*acquisition, cuvis.Status) {
	a, ok := l.acquisition(id)
	if !ok {
		return nil, l.invalid(cuvis.KindAcquisitionContext, id)
	}
	return a, cuvis.StatusOK
}

// AcqCreateFromCalibration opens the simulated camera described by a calibration
func (l *Lib) AcqCreateFromCalibration(cal int) (int, cuvis.Status) {
	l.mu.Lock()
	c, ok := l.calibs[cal]
	l.mu.Unlock()
	if !ok {
		return 0, l.invalid(cuvis.KindCalibration, cal)
	}
	a := l.newAcquisition(c, nil, false)
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.acqs[id] = a
	return id, cuvis.StatusOK
}

// AcqCreateFromSessionFile replays a recording.  With simulate the frames
// are synthesized from the session's calibration instead.
func (l *Lib) AcqCreateFromSessionFile(sess int, simulate bool) (int, cuvis.Status) {
	s, ok := l.session(sess)
	if !ok {
		return 0, l.invalid(cuvis.KindSessionFile, sess)
	}
	a := l.newAcquisition(&s.desc.Calibration, s, simulate)
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.acqs[id] = a
	return id, cuvis.StatusOK
}

// AcqState derives the hardware state from the components' online flags
func (l *Lib) AcqState(acq int) (cuvis.HardwareState, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return cuvis.HardwareOffline, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != "" {
		return cuvis.HardwareOffline, l.fail(cuvis.StatusError, "%s", a.fault)
	}
	return a.stateLocked(), cuvis.StatusOK
}

// AcqComponentCount is the number of components of the camera
func (l *Lib) AcqComponentCount(acq int) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	return len(a.comps), cuvis.StatusOK
}

func (a *acquisition) comp(idx int) (*compState, cuvis.Status) {
	if idx < 0 || idx >= len(a.comps) {
		return nil, a.lib.fail(cuvis.StatusError, "component index %d out of range [0,%d)", idx, len(a.comps))
	}
	return &a.comps[idx], cuvis.StatusOK
}

// AcqComponentInfo describes component idx
func (l *Lib) AcqComponentInfo(acq, idx int) (cuvis.ComponentInfo, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return cuvis.ComponentInfo{}, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	c, st := a.comp(idx)
	if st != cuvis.StatusOK {
		return cuvis.ComponentInfo{}, st
	}
	typ := cuvis.ComponentImageSensor
	if c.desc.Misc {
		typ = cuvis.ComponentMiscSensor
	}
	return cuvis.ComponentInfo{
		Type:            typ,
		DisplayName:     c.desc.Name,
		SensorInfo:      fmt.Sprintf("%dx%d", a.cal.Width, a.cal.Height),
		Pixelformat:     "Mono12",
		ProductName:     a.cal.Model,
		SerialNumber:    c.desc.Serial,
		FirmwareVersion: c.desc.Firmware,
	}, cuvis.StatusOK
}

// AcqGetInt reads an integer feature
func (l *Lib) AcqGetInt(acq int, f cuvis.AcqFeature) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if !acqIntFeature(f) {
		return 0, l.fail(cuvis.StatusNotSupported, "%s is not an integer feature", f)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f == cuvis.AcqQueueUsed {
		return len(a.queue), cuvis.StatusOK
	}
	return a.ints[f], cuvis.StatusOK
}

// AcqSetInt writes an integer feature
func (l *Lib) AcqSetInt(acq int, f cuvis.AcqFeature, v int) cuvis.Status {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return st
	}
	if !acqIntFeature(f) {
		return l.fail(cuvis.StatusNotSupported, "%s is not an integer feature", f)
	}
	a.mu.Lock()
	if err := a.validateInt(f, v); err != nil {
		a.mu.Unlock()
		return l.fail(cuvis.StatusError, "%v", err)
	}
	a.setIntLocked(f, v)
	a.mu.Unlock()
	a.poke()
	return cuvis.StatusOK
}

// AcqSetIntAsync writes an integer feature after the async latency
func (l *Lib) AcqSetIntAsync(acq int, f cuvis.AcqFeature, v int) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if !acqIntFeature(f) {
		return 0, l.fail(cuvis.StatusNotSupported, "%s is not an integer feature", f)
	}
	a.mu.Lock()
	err := a.validateInt(f, v)
	a.mu.Unlock()
	if err != nil {
		return 0, l.fail(cuvis.StatusError, "%v", err)
	}
	op := a.schedule("int/"+f.String(), l.opts.AsyncLatency, func() (*measurement, cuvis.Status, string) {
		a.mu.Lock()
		a.setIntLocked(f, v)
		a.mu.Unlock()
		a.poke()
		return nil, cuvis.StatusOK, ""
	})
	return l.putAsync(l.calls, op), cuvis.StatusOK
}

// AcqGetFloat reads a floating point feature
func (l *Lib) AcqGetFloat(acq int, f cuvis.AcqFeature) (float64, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if !acqFloatFeature(f) {
		return 0, l.fail(cuvis.StatusNotSupported, "%s is not a floating point feature", f)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if f == cuvis.AcqBandwidth {
		samples := a.cal.Width * a.cal.Height * len(a.cal.Wavelengths)
		return float64(2*samples) * a.floats[cuvis.AcqFPS] / 1e6, cuvis.StatusOK
	}
	return a.floats[f], cuvis.StatusOK
}

// AcqSetFloat writes a floating point feature
func (l *Lib) AcqSetFloat(acq int, f cuvis.AcqFeature, v float64) cuvis.Status {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return st
	}
	if !acqFloatFeature(f) {
		return l.fail(cuvis.StatusNotSupported, "%s is not a floating point feature", f)
	}
	if err := a.validateFloat(f, v); err != nil {
		return l.fail(cuvis.StatusError, "%v", err)
	}
	a.mu.Lock()
	a.floats[f] = v
	a.mu.Unlock()
	a.poke()
	return cuvis.StatusOK
}

// AcqSetFloatAsync writes a floating point feature after the async latency
func (l *Lib) AcqSetFloatAsync(acq int, f cuvis.AcqFeature, v float64) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if !acqFloatFeature(f) {
		return 0, l.fail(cuvis.StatusNotSupported, "%s is not a floating point feature", f)
	}
	if err := a.validateFloat(f, v); err != nil {
		return 0, l.fail(cuvis.StatusError, "%v", err)
	}
	op := a.schedule("float/"+f.String(), l.opts.AsyncLatency, func() (*measurement, cuvis.Status, string) {
		a.mu.Lock()
		a.floats[f] = v
		a.mu.Unlock()
		a.poke()
		return nil, cuvis.StatusOK, ""
	})
	return l.putAsync(l.calls, op), cuvis.StatusOK
}

// AcqSessionInfo is the session stamped on new frames
func (l *Lib) AcqSessionInfo(acq int) (cuvis.SessionInfo, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return cuvis.SessionInfo{}, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info, cuvis.StatusOK
}

// AcqSetSessionInfo replaces the session stamped on new frames
func (l *Lib) AcqSetSessionInfo(acq int, info cuvis.SessionInfo) cuvis.Status {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return st
	}
	a.mu.Lock()
	a.info = info
	a.frame = info.SequenceNumber
	a.mu.Unlock()
	return cuvis.StatusOK
}

// AcqCapture takes one frame, waiting up to timeoutMs for the exposure
func (l *Lib) AcqCapture(acq int, timeoutMs int) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	a.mu.Lock()
	st, msg := a.captureCheckLocked()
	a.mu.Unlock()
	if st != cuvis.StatusOK {
		return 0, l.fail(st, "%s", msg)
	}
	exp, budget := a.exposure(), cuvis.Millis(timeoutMs)
	if exp > budget {
		time.Sleep(budget)
		return 0, l.fail(cuvis.StatusTimeout, "exposure of %v exceeds the %v timeout", exp, budget)
	}
	time.Sleep(exp)
	m, st, msg := a.capture()
	if st != cuvis.StatusOK {
		return 0, l.fail(st, "%s", msg)
	}
	return l.putMeasurement(m), cuvis.StatusOK
}

// AcqCaptureAsync starts a capture.  A newer capture overwrites one still
// in flight.
func (l *Lib) AcqCaptureAsync(acq int) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	a.mu.Lock()
	st, msg := a.captureCheckLocked()
	a.mu.Unlock()
	if st != cuvis.StatusOK {
		return 0, l.fail(st, "%s", msg)
	}
	op := a.schedule("capture", l.opts.AsyncLatency+a.exposure(), a.capture)
	return l.putAsync(l.captures, op), cuvis.StatusOK
}

// AcqHasNextMeasurement reports whether a continuous frame is waiting
func (l *Lib) AcqHasNextMeasurement(acq int) (bool, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return false, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue) > 0, cuvis.StatusOK
}

func (a *acquisition) pop() *measurement {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return nil
	}
	m := a.queue[0]
	a.queue = a.queue[1:]
	return m
}

// AcqGetNextMeasurement takes the oldest continuous frame, waiting up to
// timeoutMs for one to arrive
func (l *Lib) AcqGetNextMeasurement(acq int, timeoutMs int) (int, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return 0, st
	}
	deadline := time.NewTimer(cuvis.Millis(timeoutMs))
	defer deadline.Stop()
	for {
		if m := a.pop(); m != nil {
			return l.putMeasurement(m), cuvis.StatusOK
		}
		select {
		case <-a.arrive:
		case <-deadline.C:
			if m := a.pop(); m != nil {
				return l.putMeasurement(m), cuvis.StatusOK
			}
			return 0, l.fail(cuvis.StatusTimeout, "no measurement within %d ms", timeoutMs)
		case <-a.stop:
			return 0, l.fail(cuvis.StatusError, "acquisition context closed")
		}
	}
}

func (l *Lib) compCall(acq, idx int) (*acquisition, *compState, cuvis.Status) {
	a, st := l.acq(acq)
	if st != cuvis.StatusOK {
		return nil, nil, st
	}
	a.mu.Lock()
	c, st := a.comp(idx)
	a.mu.Unlock()
	return a, c, st
}

// CompGetInt reads an integer component feature
func (l *Lib) CompGetInt(acq, idx int, f cuvis.CompFeature) (int, cuvis.Status) {
	a, c, st := l.compCall(acq, idx)
	if st != cuvis.StatusOK {
		return 0, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	switch f {
	case cuvis.CompOnline:
		if c.online {
			return 1, cuvis.StatusOK
		}
		return 0, cuvis.StatusOK
	case cuvis.CompTemperature:
		return c.desc.Temperature, cuvis.StatusOK
	case cuvis.CompDriverQueueUsed:
		return len(a.queue), cuvis.StatusOK
	case cuvis.CompDriverQueueSize:
		return a.ints[cuvis.AcqQueueSize], cuvis.StatusOK
	case cuvis.CompHardwareQueueUsed:
		return 0, cuvis.StatusOK
	case cuvis.CompHardwareQueueSize:
		return hardwareQueueSize, cuvis.StatusOK
	}
	return 0, l.fail(cuvis.StatusNotSupported, "%s is not an integer feature", f)
}

func (c *compState) float(f cuvis.CompFeature) (*float64, bool) {
	switch f {
	case cuvis.CompGain:
		return &c.gain, true
	case cuvis.CompIntegrationTimeFactor:
		return &c.itf, true
	}
	return nil, false
}

// CompGetFloat reads a floating point component feature
func (l *Lib) CompGetFloat(acq, idx int, f cuvis.CompFeature) (float64, cuvis.Status) {
	a, c, st := l.compCall(acq, idx)
	if st != cuvis.StatusOK {
		return 0, st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := c.float(f)
	if !ok {
		return 0, l.fail(cuvis.StatusNotSupported, "%s is not a floating point feature", f)
	}
	return *p, cuvis.StatusOK
}

// CompSetFloat writes a floating point component feature
func (l *Lib) CompSetFloat(acq, idx int, f cuvis.CompFeature, v float64) cuvis.Status {
	a, c, st := l.compCall(acq, idx)
	if st != cuvis.StatusOK {
		return st
	}
	if v <= 0 {
		return l.fail(cuvis.StatusError, "%s must be positive, got %g", f, v)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := c.float(f)
	if !ok {
		return l.fail(cuvis.StatusNotSupported, "%s is not a floating point feature", f)
	}
	*p = v
	return cuvis.StatusOK
}

// CompSetFloatAsync writes a component feature after the async latency
func (l *Lib) CompSetFloatAsync(acq, idx int, f cuvis.CompFeature, v float64) (int, cuvis.Status) {
	a, c, st := l.compCall(acq, idx)
	if st != cuvis.StatusOK {
		return 0, st
	}
	if _, ok := c.float(f); !ok {
		return 0, l.fail(cuvis.StatusNotSupported, "%s is not a floating point feature", f)
	}
	if v <= 0 {
		return 0, l.fail(cuvis.StatusError, "%s must be positive, got %g", f, v)
	}
	slot := fmt.Sprintf("comp/%d/%s", idx, f)
	op := a.schedule(slot, l.opts.AsyncLatency, func() (*measurement, cuvis.Status, string) {
		a.mu.Lock()
		p, _ := c.float(f)
		*p = v
		a.mu.Unlock()
		return nil, cuvis.StatusOK, ""
	})
	return l.putAsync(l.calls, op), cuvis.StatusOK
}

// SetComponentOnline scripts the online flag of a component, which drives
// the reported hardware state
func (l *Lib) SetComponentOnline(acq, idx int, online bool) error {
	a, ok := l.acquisition(acq)
	if !ok {
		return fmt.Errorf("sim: no acquisition context %d", acq)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if idx < 0 || idx >= len(a.comps) {
		return fmt.Errorf("sim: component index %d out of range [0,%d)", idx, len(a.comps))
	}
	a.comps[idx].online = online
	return nil
}

// FailState makes state queries on an acquisition context fail with msg.
// An empty msg clears the fault.
func (l *Lib) FailState(acq int, msg string) error {
	a, ok := l.acquisition(acq)
	if !ok {
		return fmt.Errorf("sim: no acquisition context %d", acq)
	}
	a.mu.Lock()
	a.fault = msg
	a.mu.Unlock()
	a.poke()
	return nil
}
