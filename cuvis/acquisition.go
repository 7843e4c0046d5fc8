package cuvis

import (
	"context"
	"math"
	"sync"
	"time"
)

// AcquisitionContext controls a camera, real or simulated from a session file
type AcquisitionContext struct {
	c core
	h *handle

	// StateInterval is the period used by RegisterStateChangeCallback;
	// zero means DefaultStateInterval
	StateInterval time.Duration

	mu     sync.Mutex
	poller *StatePoller
}

// NewAcquisitionContext opens the camera described by a calibration
func (l *Library) NewAcquisitionContext(cal *Calibration) (*AcquisitionContext, error) {
	calID, err := cal.h.get()
	if err != nil {
		return nil, err
	}
	id, st := l.AcqCreateFromCalibration(calID)
	if err = l.check(st, "acq_cont_create_from_calib"); err != nil {
		return nil, err
	}
	return &AcquisitionContext{c: l.core, h: l.own(KindAcquisitionContext, id)}, nil
}

// NewAcquisitionContextFromSession replays a session file as a camera.
// With simulate, captures are synthesized at the session's frame rate
// instead of returned from the recording.
func (l *Library) NewAcquisitionContextFromSession(sess *SessionFile, simulate bool) (*AcquisitionContext, error) {
	sessID, err := sess.h.get()
	if err != nil {
		return nil, err
	}
	id, st := l.AcqCreateFromSessionFile(sessID, simulate)
	if err = l.check(st, "acq_cont_create_from_session_file"); err != nil {
		return nil, err
	}
	return &AcquisitionContext{c: l.core, h: l.own(KindAcquisitionContext, id)}, nil
}

func acqOp(f AcqFeature, suffix string) string {
	return "acq_cont_" + f.String() + suffix
}

func (a *AcquisitionContext) getInt(f AcqFeature) (int, error) {
	id, err := a.h.get()
	if err != nil {
		return 0, err
	}
	v, st := a.c.AcqGetInt(id, f)
	return v, a.c.check(st, acqOp(f, "_get"))
}

func (a *AcquisitionContext) setInt(f AcqFeature, v int) error {
	id, err := a.h.get()
	if err != nil {
		return err
	}
	return a.c.check(a.c.AcqSetInt(id, f, v), acqOp(f, "_set"))
}

func (a *AcquisitionContext) setIntAsync(f AcqFeature, v int) (*AsyncCall, error) {
	id, err := a.h.get()
	if err != nil {
		return nil, err
	}
	call, st := a.c.AcqSetIntAsync(id, f, v)
	if err = a.c.check(st, acqOp(f, "_set_async")); err != nil {
		return nil, err
	}
	return newAsyncCall(a.c, call, acqOp(f, "_set_async")), nil
}

func (a *AcquisitionContext) getFloat(f AcqFeature) (float64, error) {
	id, err := a.h.get()
	if err != nil {
		return 0, err
	}
	v, st := a.c.AcqGetFloat(id, f)
	return v, a.c.check(st, acqOp(f, "_get"))
}

func (a *AcquisitionContext) setFloat(f AcqFeature, v float64) error {
	id, err := a.h.get()
	if err != nil {
		return err
	}
	return a.c.check(a.c.AcqSetFloat(id, f, v), acqOp(f, "_set"))
}

func (a *AcquisitionContext) setFloatAsync(f AcqFeature, v float64) (*AsyncCall, error) {
	id, err := a.h.get()
	if err != nil {
		return nil, err
	}
	call, st := a.c.AcqSetFloatAsync(id, f, v)
	if err = a.c.check(st, acqOp(f, "_set_async")); err != nil {
		return nil, err
	}
	return newAsyncCall(a.c, call, acqOp(f, "_set_async")), nil
}

// State is the aggregate hardware state
func (a *AcquisitionContext) State() (HardwareState, error) {
	id, err := a.h.get()
	if err != nil {
		return HardwareOffline, err
	}
	s, st := a.c.AcqState(id)
	return s, a.c.check(st, "acq_cont_get_state")
}

// ComponentCount is the number of hardware components
func (a *AcquisitionContext) ComponentCount() (int, error) {
	id, err := a.h.get()
	if err != nil {
		return 0, err
	}
	n, st := a.c.AcqComponentCount(id)
	return n, a.c.check(st, "acq_cont_get_component_count")
}

// Component addresses one component by index.  The index is not validated
// until the component is queried.
func (a *AcquisitionContext) Component(idx int) *Component {
	return &Component{acq: a, idx: idx}
}

// Components returns every component
func (a *AcquisitionContext) Components() ([]*Component, error) {
	n, err := a.ComponentCount()
	if err != nil {
		return nil, err
	}
	out := make([]*Component, n)
	for i := range out {
		out[i] = a.Component(i)
	}
	return out, nil
}

// QueueSize is the capacity of the measurement queue
func (a *AcquisitionContext) QueueSize() (int, error) { return a.getInt(AcqQueueSize) }

// SetQueueSize sets the capacity of the measurement queue
func (a *AcquisitionContext) SetQueueSize(n int) error { return a.setInt(AcqQueueSize, n) }

// QueueUsed is the number of measurements waiting in the queue
func (a *AcquisitionContext) QueueUsed() (int, error) { return a.getInt(AcqQueueUsed) }

// OperationMode gets the trigger mode
func (a *AcquisitionContext) OperationMode() (OperationMode, error) {
	m, err := a.getInt(AcqOperationMode)
	return OperationMode(m), err
}

// SetOperationMode sets the trigger mode
func (a *AcquisitionContext) SetOperationMode(m OperationMode) error {
	return a.setInt(AcqOperationMode, int(m))
}

// SetOperationModeAsync sets the trigger mode without waiting
func (a *AcquisitionContext) SetOperationModeAsync(m OperationMode) (*AsyncCall, error) {
	return a.setIntAsync(AcqOperationMode, int(m))
}

func durationToMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// IntegrationTime gets the integration (exposure) time
func (a *AcquisitionContext) IntegrationTime() (time.Duration, error) {
	ms, err := a.getFloat(AcqIntegrationTime)
	return msToDuration(ms), err
}

// SetIntegrationTime sets the integration time.  The native resolution is
// one microsecond.
func (a *AcquisitionContext) SetIntegrationTime(d time.Duration) error {
	return a.setFloat(AcqIntegrationTime, durationToMS(d))
}

// SetIntegrationTimeAsync sets the integration time without waiting
func (a *AcquisitionContext) SetIntegrationTimeAsync(d time.Duration) (*AsyncCall, error) {
	return a.setFloatAsync(AcqIntegrationTime, durationToMS(d))
}

// FPS gets the frame rate used in internal trigger mode
func (a *AcquisitionContext) FPS() (float64, error) { return a.getFloat(AcqFPS) }

// SetFPS sets the frame rate
func (a *AcquisitionContext) SetFPS(fps float64) error { return a.setFloat(AcqFPS, fps) }

// SetFPSAsync sets the frame rate without waiting
func (a *AcquisitionContext) SetFPSAsync(fps float64) (*AsyncCall, error) {
	return a.setFloatAsync(AcqFPS, fps)
}

// Average gets the number of frames averaged per measurement
func (a *AcquisitionContext) Average() (int, error) { return a.getInt(AcqAverage) }

// SetAverage sets the number of frames averaged per measurement
func (a *AcquisitionContext) SetAverage(n int) error { return a.setInt(AcqAverage, n) }

// SetAverageAsync sets the averaging without waiting
func (a *AcquisitionContext) SetAverageAsync(n int) (*AsyncCall, error) {
	return a.setIntAsync(AcqAverage, n)
}

// Continuous reports whether the camera records into the queue continuously
func (a *AcquisitionContext) Continuous() (bool, error) {
	v, err := a.getInt(AcqContinuous)
	return v != 0, err
}

// SetContinuous turns continuous recording on or off
func (a *AcquisitionContext) SetContinuous(on bool) error {
	return a.setInt(AcqContinuous, boolToInt(on))
}

// SetContinuousAsync turns continuous recording on or off without waiting
func (a *AcquisitionContext) SetContinuousAsync(on bool) (*AsyncCall, error) {
	return a.setIntAsync(AcqContinuous, boolToInt(on))
}

// Bandwidth is the data rate of the camera link in MB/s
func (a *AcquisitionContext) Bandwidth() (float64, error) { return a.getFloat(AcqBandwidth) }

// AutoExp reports whether auto exposure is active
func (a *AcquisitionContext) AutoExp() (bool, error) {
	v, err := a.getInt(AcqAutoExp)
	return v != 0, err
}

// SetAutoExp turns auto exposure on or off
func (a *AcquisitionContext) SetAutoExp(on bool) error {
	return a.setInt(AcqAutoExp, boolToInt(on))
}

// SetAutoExpAsync turns auto exposure on or off without waiting
func (a *AcquisitionContext) SetAutoExpAsync(on bool) (*AsyncCall, error) {
	return a.setIntAsync(AcqAutoExp, boolToInt(on))
}

// AutoExpComp gets the auto exposure compensation in stops
func (a *AcquisitionContext) AutoExpComp() (float64, error) { return a.getFloat(AcqAutoExpComp) }

// SetAutoExpComp sets the auto exposure compensation
func (a *AcquisitionContext) SetAutoExpComp(v float64) error { return a.setFloat(AcqAutoExpComp, v) }

// SetAutoExpCompAsync sets the auto exposure compensation without waiting
func (a *AcquisitionContext) SetAutoExpCompAsync(v float64) (*AsyncCall, error) {
	return a.setFloatAsync(AcqAutoExpComp, v)
}

// PreviewMode reports whether captures skip full resolution readout
func (a *AcquisitionContext) PreviewMode() (bool, error) {
	v, err := a.getInt(AcqPreviewMode)
	return v != 0, err
}

// SetPreviewMode turns preview mode on or off
func (a *AcquisitionContext) SetPreviewMode(on bool) error {
	return a.setInt(AcqPreviewMode, boolToInt(on))
}

// SetPreviewModeAsync turns preview mode on or off without waiting
func (a *AcquisitionContext) SetPreviewModeAsync(on bool) (*AsyncCall, error) {
	return a.setIntAsync(AcqPreviewMode, boolToInt(on))
}

// SessionInfo gets the session new measurements are tagged with
func (a *AcquisitionContext) SessionInfo() (SessionInfo, error) {
	id, err := a.h.get()
	if err != nil {
		return SessionInfo{}, err
	}
	s, st := a.c.AcqSessionInfo(id)
	return s, a.c.check(st, "acq_cont_get_session_info")
}

// SetSessionInfo sets the session new measurements are tagged with
func (a *AcquisitionContext) SetSessionInfo(s SessionInfo) error {
	id, err := a.h.get()
	if err != nil {
		return err
	}
	return a.c.check(a.c.AcqSetSessionInfo(id, s), "acq_cont_set_session_info")
}

// Capture triggers a capture and returns without waiting for it
func (a *AcquisitionContext) Capture() (*AsyncMeasurement, error) {
	id, err := a.h.get()
	if err != nil {
		return nil, err
	}
	call, st := a.c.AcqCaptureAsync(id)
	if err = a.c.check(st, "acq_cont_capture_async"); err != nil {
		return nil, err
	}
	return newAsyncMeasurement(a.c, call, "async_capture_get"), nil
}

// CaptureAt triggers a capture and blocks up to timeout for the measurement
func (a *AcquisitionContext) CaptureAt(timeout time.Duration) (*Measurement, error) {
	id, err := a.h.get()
	if err != nil {
		return nil, err
	}
	mesu, st := a.c.AcqCapture(id, millis(timeout))
	if err = a.c.check(st, "acq_cont_capture"); err != nil {
		return nil, err
	}
	return newMeasurement(a.c, mesu), nil
}

// HasNextMeasurement reports whether a measurement is waiting in the queue
func (a *AcquisitionContext) HasNextMeasurement() (bool, error) {
	id, err := a.h.get()
	if err != nil {
		return false, err
	}
	ok, st := a.c.AcqHasNextMeasurement(id)
	return ok, a.c.check(st, "acq_cont_has_next_measurement")
}

// GetNextMeasurement pops the queue, blocking up to timeout
func (a *AcquisitionContext) GetNextMeasurement(timeout time.Duration) (*Measurement, error) {
	id, err := a.h.get()
	if err != nil {
		return nil, err
	}
	mesu, st := a.c.AcqGetNextMeasurement(id, millis(timeout))
	if err = a.c.check(st, "acq_cont_get_next_measurement"); err != nil {
		return nil, err
	}
	return newMeasurement(a.c, mesu), nil
}

// Snapshot samples the hardware state and the online flag of every
// component, named by display name
func (a *AcquisitionContext) Snapshot(ctx context.Context) (Snapshot, error) {
	state, err := a.State()
	if err != nil {
		return Snapshot{}, err
	}
	comps, err := a.Components()
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{State: state, Components: make([]ComponentState, len(comps))}
	for i, comp := range comps {
		if err = ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		info, err := comp.Info()
		if err != nil {
			return Snapshot{}, err
		}
		online, err := comp.Online()
		if err != nil {
			return Snapshot{}, err
		}
		snap.Components[i] = ComponentState{Name: info.DisplayName, Online: online}
	}
	return snap, nil
}

// RegisterStateChangeCallback starts polling the hardware state and calls cb
// on every change, once immediately with the initial state.  A previous
// registration is stopped first.
func (a *AcquisitionContext) RegisterStateChangeCallback(cb StateCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poller == nil {
		a.poller = NewStatePoller(a.Snapshot, a.StateInterval)
	}
	a.poller.Start(cb)
}

// ResetStateChangeCallback stops state polling.  No callback runs after it
// returns.
func (a *AcquisitionContext) ResetStateChangeCallback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poller != nil {
		a.poller.Stop()
	}
}

// StateErr is the error that stopped state polling, if any
func (a *AcquisitionContext) StateErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.poller == nil {
		return nil
	}
	return a.poller.Err()
}

// Close stops state polling and releases the context
func (a *AcquisitionContext) Close() error {
	a.ResetStateChangeCallback()
	return a.h.release()
}
