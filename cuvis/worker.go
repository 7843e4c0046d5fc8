package cuvis

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// CallbackInterval is the default poll period of a worker's result callback
// loop and of GetNextResultContext
const CallbackInterval = time.Millisecond

// WorkerResult is one processed measurement with its rendered view, if the
// worker has a viewer.  The receiver owns the measurement and must close it.
type WorkerResult struct {
	Measurement *Measurement
	View        *View
}

// Close releases the result's measurement
func (r WorkerResult) Close() error {
	if r.Measurement == nil {
		return nil
	}
	return r.Measurement.Close()
}

// ResultHandler receives results from a worker's callback loop.  ctx is
// cancelled when the callback is reset.  The handler owns res.
type ResultHandler func(ctx context.Context, res WorkerResult)

// CallbackOptions tune a worker's callback loop
type CallbackOptions struct {
	// MaxInFlight bounds concurrent handler invocations.  The loop stops
	// fetching results while the bound is reached, so results stay in the
	// worker's output queue and its drop policy applies.  Values below 1
	// mean 1: results are handled one at a time, in output order.
	MaxInFlight int

	// Interval is the poll period, CallbackInterval when zero
	Interval time.Duration
}

// Worker is a native processing pipeline.  Measurements enter an input
// queue, pass a mandatory stage (the processing context) and a supplementary
// stage (exporter and viewer), and leave through an output queue.  Queue
// capacities and the drop policy come from WorkerSettings.
type Worker struct {
	c        core
	h        *handle
	settings WorkerSettings

	stageMu sync.Mutex
	acq     *AcquisitionContext
	proc    *ProcessingContext
	exp     *Exporter
	viewer  *Viewer
	sess    *SessionFile

	cbMu sync.Mutex
	cb   *callbackLoop
}

// NewWorker creates an idle worker
func (l *Library) NewWorker(settings WorkerSettings) (*Worker, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	id, st := l.WorkerCreate(settings)
	if err := l.check(st, "worker_create"); err != nil {
		return nil, err
	}
	return &Worker{c: l.core, h: l.own(KindWorker, id), settings: settings}, nil
}

// Settings returns the settings the worker was created with
func (w *Worker) Settings() WorkerSettings { return w.settings }

// SetAcquisitionContext makes the worker pull measurements from acq while
// processing.  nil detaches.
func (w *Worker) SetAcquisitionContext(acq *AcquisitionContext) error {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.attach(acq.handleOrNil(), "worker_set_acq_cont", func() { w.acq = acq },
		w.c.WorkerSetAcquisitionContext)
}

// SetProcessingContext attaches the mandatory stage.  nil detaches it, and
// measurements pass through unprocessed.
func (w *Worker) SetProcessingContext(proc *ProcessingContext) error {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.attach(proc.handleOrNil(), "worker_set_proc_cont", func() { w.proc = proc },
		w.c.WorkerSetProcessingContext)
}

// SetExporter attaches an exporter to the supplementary stage.  nil detaches.
func (w *Worker) SetExporter(exp *Exporter) error {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.attach(exp.handleOrNil(), "worker_set_exporter", func() { w.exp = exp },
		w.c.WorkerSetExporter)
}

// SetViewer attaches a viewer to the supplementary stage.  Results then
// carry a View.  nil detaches.
func (w *Worker) SetViewer(v *Viewer) error {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.attach(v.handleOrNil(), "worker_set_viewer", func() { w.viewer = v },
		w.c.WorkerSetViewer)
}

// SetSessionFile makes the worker replay the recorded frames of sess while
// processing, the way it pulls from an acquisition context.  With
// skipDroppedFrames the gaps of the recording are left out, otherwise each
// gap repeats the frame before it.  nil detaches.
func (w *Worker) SetSessionFile(sess *SessionFile, skipDroppedFrames bool) error {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.attach(sess.handleOrNil(), "worker_set_session_file", func() { w.sess = sess },
		func(id, stage int) Status { return w.c.WorkerSetSessionFile(id, stage, skipDroppedFrames) })
}

// HasSessionFile reports whether a session file is attached for replay
func (w *Worker) HasSessionFile() bool {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.sess != nil
}

// Stages reports which optional stages are attached
func (w *Worker) Stages() (acq, proc, exp, viewer bool) {
	w.stageMu.Lock()
	defer w.stageMu.Unlock()
	return w.acq != nil, w.proc != nil, w.exp != nil, w.viewer != nil
}

func (w *Worker) attach(stage *handle, op string, keep func(), set func(w, stage int) Status) error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	stageID := 0
	if stage != nil {
		if stageID, err = stage.get(); err != nil {
			return err
		}
	}
	if err = w.c.check(set(id, stageID), op); err != nil {
		return err
	}
	keep()
	return nil
}

func (a *AcquisitionContext) handleOrNil() *handle {
	if a == nil {
		return nil
	}
	return a.h
}

func (p *ProcessingContext) handleOrNil() *handle {
	if p == nil {
		return nil
	}
	return p.h
}

func (e *Exporter) handleOrNil() *handle {
	if e == nil {
		return nil
	}
	return e.h
}

func (v *Viewer) handleOrNil() *handle {
	if v == nil {
		return nil
	}
	return v.h
}

func (s *SessionFile) handleOrNil() *handle {
	if s == nil {
		return nil
	}
	return s.h
}

// IngestMeasurement moves m into the worker.  On success m is no longer
// usable and closing it is a no-op; on failure the caller keeps it.
// A full input queue without CanSkipMeasurements is reported as an error;
// fullness further down the pipeline is handled by the drop policy.
func (w *Worker) IngestMeasurement(m *Measurement) error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	mesu, err := m.h.take()
	if err != nil {
		return err
	}
	if err = w.c.check(w.c.WorkerIngestMeasurement(id, mesu), "worker_ingest_mesu"); err != nil {
		m.h.give(mesu)
		return err
	}
	return nil
}

// IngestSessionFile queues frames of sess.  selection is a comma separated
// list of frame numbers and inclusive ranges with an optional step, for
// example "0-9,20,30-90:10"; "" or "*" selects every frame.  The session must
// stay open until its frames have been read, see QuerySessionProgress.
func (w *Worker) IngestSessionFile(sess *SessionFile, selection string) error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	sessID, err := sess.h.get()
	if err != nil {
		return err
	}
	return w.c.check(w.c.WorkerIngestSessionFile(id, sessID, selection), "worker_ingest_session_file")
}

// QuerySessionProgress reports how many frames of the ingested session files
// have been read into the pipeline, and how many were selected in total
func (w *Worker) QuerySessionProgress() (read, total int, err error) {
	id, err := w.h.get()
	if err != nil {
		return 0, 0, err
	}
	read, total, st := w.c.WorkerQuerySessionProgress(id)
	return read, total, w.c.check(st, "worker_query_session_progress")
}

// HasNextResult reports whether the output queue holds a result
func (w *Worker) HasNextResult() (bool, error) {
	id, err := w.h.get()
	if err != nil {
		return false, err
	}
	ok, st := w.c.WorkerHasNextResult(id)
	return ok, w.c.check(st, "worker_has_next_result")
}

// GetNextResult pops the output queue, blocking up to timeout.  When no
// result arrives in time the error matches ErrTimeout.
func (w *Worker) GetNextResult(timeout time.Duration) (WorkerResult, error) {
	id, err := w.h.get()
	if err != nil {
		return WorkerResult{}, err
	}
	mesu, view, st := w.c.WorkerGetNextResult(id, millis(timeout))
	if err = w.c.check(st, "worker_get_next_result"); err != nil {
		return WorkerResult{}, err
	}
	res := WorkerResult{Measurement: newMeasurement(w.c, mesu)}
	if view != 0 {
		v, err := w.c.viewFromHandle(view)
		if err != nil {
			res.Measurement.Close()
			return WorkerResult{}, err
		}
		res.View = v
	}
	return res, nil
}

// GetNextResultContext waits for a result by polling HasNextResult every
// CallbackInterval, without a blocking native wait.  Running out of timeout
// returns an error matching ErrTimeout; ctx ending returns ctx.Err().
func (w *Worker) GetNextResultContext(ctx context.Context, timeout time.Duration) (WorkerResult, error) {
	budget, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	lim := rate.NewLimiter(rate.Every(CallbackInterval), 1)
	for {
		ok, err := w.HasNextResult()
		if err != nil {
			return WorkerResult{}, err
		}
		if ok {
			res, err := w.GetNextResult(0)
			if err == nil {
				return res, nil
			}
			// the result can be dropped between the check and the pop
			if !IsTimeout(err) {
				return WorkerResult{}, err
			}
		}
		if err = lim.Wait(budget); err != nil {
			if ctx.Err() != nil {
				return WorkerResult{}, ctx.Err()
			}
			return WorkerResult{}, &SDKError{Op: "worker_get_next_result", Status: StatusTimeout,
				Msg: "no result within " + timeout.String()}
		}
	}
}

type callbackLoop struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (l *callbackLoop) fail(err error) {
	Logger().Error("worker callback loop stopped", "err", err)
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// RegisterCallback starts a loop delivering every result to h.  Results are
// fetched only while fewer than opts.MaxInFlight handlers are running.  A
// previous callback is reset first.  A native failure while fetching stops
// the loop and is reported by CallbackErr.
func (w *Worker) RegisterCallback(h ResultHandler, opts CallbackOptions) error {
	if h == nil {
		return errors.New("cuvis: nil result handler")
	}
	if _, err := w.h.get(); err != nil {
		return err
	}
	n := opts.MaxInFlight
	if n < 1 {
		n = 1
	}
	iv := opts.Interval
	if iv <= 0 {
		iv = CallbackInterval
	}

	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.resetCallback()
	ctx, cancel := context.WithCancel(context.Background())
	loop := &callbackLoop{cancel: cancel, done: make(chan struct{})}
	w.cb = loop
	go w.runCallback(ctx, loop, h, n, iv)
	return nil
}

func (w *Worker) runCallback(ctx context.Context, loop *callbackLoop, h ResultHandler, n int, iv time.Duration) {
	defer close(loop.done)
	defer loop.inflight.Wait()
	slots := make(chan struct{}, n)
	lim := rate.NewLimiter(rate.Every(iv), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		ok, err := w.HasNextResult()
		if err != nil {
			loop.fail(err)
			return
		}
		if !ok {
			continue
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		res, err := w.GetNextResult(0)
		if err != nil {
			<-slots
			if IsTimeout(err) {
				continue
			}
			loop.fail(err)
			return
		}
		loop.inflight.Add(1)
		go func() {
			defer func() {
				<-slots
				loop.inflight.Done()
			}()
			h(ctx, res)
		}()
	}
}

// ResetCallback stops the callback loop and waits for running handlers to
// return.  It must not be called from a handler.
func (w *Worker) ResetCallback() {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	w.resetCallback()
}

func (w *Worker) resetCallback() {
	if w.cb == nil {
		return
	}
	w.cb.cancel()
	<-w.cb.done
}

// CallbackRunning reports whether a callback loop is active
func (w *Worker) CallbackRunning() bool {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	if w.cb == nil {
		return false
	}
	select {
	case <-w.cb.done:
		return false
	default:
		return true
	}
}

// CallbackErr is the fault that stopped the most recent callback loop
func (w *Worker) CallbackErr() error {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()
	if w.cb == nil {
		return nil
	}
	w.cb.mu.Lock()
	defer w.cb.mu.Unlock()
	return w.cb.err
}

// StartProcessing moves the worker to the running state
func (w *Worker) StartProcessing() error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	return w.c.check(w.c.WorkerStartProcessing(id), "worker_start")
}

// StopProcessing moves the worker to the idle state.  Queued items stay
// queued.  Stopping an idle worker does nothing.
func (w *Worker) StopProcessing() error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	return w.c.check(w.c.WorkerStopProcessing(id), "worker_stop")
}

// DropAllQueued empties every queue without producing results
func (w *Worker) DropAllQueued() error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	return w.c.check(w.c.WorkerDropAllQueued(id), "worker_drop_all_queued")
}

// State returns the queue depths and flags in one native call
func (w *Worker) State() (WorkerState, error) {
	id, err := w.h.get()
	if err != nil {
		return WorkerState{}, err
	}
	s, st := w.c.WorkerState(id)
	return s, w.c.check(st, "worker_get_state")
}

func (w *Worker) getInt(f WorkerFeature) (int, error) {
	id, err := w.h.get()
	if err != nil {
		return 0, err
	}
	v, st := w.c.WorkerGetInt(id, f)
	return v, w.c.check(st, "worker_get_"+f.String())
}

func (w *Worker) setInt(f WorkerFeature, v int) error {
	id, err := w.h.get()
	if err != nil {
		return err
	}
	return w.c.check(w.c.WorkerSetInt(id, f, v), "worker_set_"+f.String())
}

// QueueUsed is the number of results in the output queue
func (w *Worker) QueueUsed() (int, error) { return w.getInt(WorkerQueueUsed) }

// InputQueueLimit is the capacity of the input queue
func (w *Worker) InputQueueLimit() (int, error) { return w.getInt(WorkerInputQueueLimit) }

// MandatoryQueueLimit is the capacity of the mandatory queue
func (w *Worker) MandatoryQueueLimit() (int, error) { return w.getInt(WorkerMandatoryQueueLimit) }

// SupplementaryQueueLimit is the capacity of the supplementary queue
func (w *Worker) SupplementaryQueueLimit() (int, error) {
	return w.getInt(WorkerSupplementaryQueueLimit)
}

// OutputQueueLimit is the capacity of the output queue
func (w *Worker) OutputQueueLimit() (int, error) { return w.getInt(WorkerOutputQueueLimit) }

// ThreadsBusy is the number of processing threads holding an item
func (w *Worker) ThreadsBusy() (int, error) { return w.getInt(WorkerThreadsBusy) }

// IsProcessing reports whether the worker is running
func (w *Worker) IsProcessing() (bool, error) {
	v, err := w.getInt(WorkerIsProcessing)
	return v != 0, err
}

// CanDropResults reports the output queue policy
func (w *Worker) CanDropResults() (bool, error) {
	v, err := w.getInt(WorkerCanDropResults)
	return v != 0, err
}

// SetCanDropResults changes the output queue policy
func (w *Worker) SetCanDropResults(b bool) error {
	return w.setInt(WorkerCanDropResults, boolToInt(b))
}

// CanSkipMeasurements reports the input policy
func (w *Worker) CanSkipMeasurements() (bool, error) {
	v, err := w.getInt(WorkerCanSkipMeasurements)
	return v != 0, err
}

// SetCanSkipMeasurements changes the input policy
func (w *Worker) SetCanSkipMeasurements(b bool) error {
	return w.setInt(WorkerCanSkipMeasurements, boolToInt(b))
}

// CanSkipSupplementarySteps reports the supplementary stage policy
func (w *Worker) CanSkipSupplementarySteps() (bool, error) {
	v, err := w.getInt(WorkerCanSkipSupplementarySteps)
	return v != 0, err
}

// SetCanSkipSupplementarySteps changes the supplementary stage policy
func (w *Worker) SetCanSkipSupplementarySteps(b bool) error {
	return w.setInt(WorkerCanSkipSupplementarySteps, boolToInt(b))
}

// Close resets the callback and releases the worker.  Results still queued
// are dropped by the native library.
func (w *Worker) Close() error {
	w.ResetCallback()
	return w.h.release()
}
