package sim

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

// item is a measurement moving through a worker, tagged with its ingestion
// sequence number
type item struct {
	m    *measurement
	seq  uint64
	view map[string]cuvis.ImageBuffer
}

type frameRef struct {
	s     *session
	frame int
}

// replay walks the frames of an attached session file once
type replay struct {
	s     *session
	order []int
	next  int
}

func newReplay(s *session, skipDropped bool) *replay {
	r := &replay{s: s}
	if skipDropped {
		r.order = append(r.order, s.kept...)
		return r
	}
	last := -1
	for i := 0; i < s.desc.Frames; i++ {
		if s.frame[i] {
			last = i
		}
		if last >= 0 {
			r.order = append(r.order, last)
		}
	}
	return r
}

func (r *replay) pop() *measurement {
	if r.next >= len(r.order) {
		return nil
	}
	m := r.s.synth(r.order[r.next])
	r.next++
	return m
}

// worker is the simulated pipeline.  Measurements wait in input until the
// mandatory queue has room; processors take the lowest sequence number
// available from the mandatory and supplementary queues, so a processor
// blocked on ordering never waits on an item sitting in a queue.  A processor
// finding the supplementary queue full runs the step itself.
//
// Lock order: w.mu before l.mu.
type worker struct {
	lib      *Lib
	settings cuvis.WorkerSettings
	limits   [4]int // input, mandatory, supplementary, output

	mu            sync.Mutex
	cond          *sync.Cond
	input         []item
	mandatory     []item
	supplementary []item
	output        []item
	frames        []frameRef
	read, total   int
	busy          int
	seq, nextOut  uint64
	retired       map[uint64]bool
	skipped       int
	dropped       int
	processing    bool
	paused        bool
	closed        bool

	canSkipMeasurements bool
	canSkipSupplement   bool
	canDropResults      bool

	acq    *acquisition
	replay *replay
	proc   *processing
	exp    *exporter
	viewer *viewer

	wg   sync.WaitGroup
	once sync.Once
}

func newWorker(l *Lib, s cuvis.WorkerSettings) *worker {
	w := &worker{
		lib:                 l,
		settings:            s,
		retired:             map[uint64]bool{},
		canSkipMeasurements: s.CanSkipMeasurements,
		canSkipSupplement:   s.CanSkipSupplementarySteps,
		canDropResults:      s.CanDropResults,
	}
	// a stage queue of size 0 holds one item, there is no way to hand work
	// to a processor otherwise
	w.limits = [4]int{s.InputQueueSize, max1(s.MandatoryQueueSize), max1(s.SupplementaryQueueSize), s.OutputQueueSize}
	w.cond = sync.NewCond(&w.mu)
	n := s.WorkerCount
	if n <= 0 {
		n = runtime.NumCPU()
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = 10 * time.Millisecond
	}
	w.wg.Add(n + 1)
	for i := 0; i < n; i++ {
		go w.processor()
	}
	go w.feed(poll)
	return w
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (w *worker) stop() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.cond.Broadcast()
		w.mu.Unlock()
		w.wg.Wait()
	})
}

// feed moves frames from the attached acquisition context and session file
// into the input queue every poll interval while processing
func (w *worker) feed(poll time.Duration) {
	defer w.wg.Done()
	t := time.NewTicker(poll)
	defer t.Stop()
	for range t.C {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		if w.processing && w.acq != nil {
			for w.roomLocked() {
				m := w.acq.pop()
				if m == nil {
					break
				}
				w.admitLocked(m)
			}
		}
		if w.processing && w.replay != nil {
			for w.roomLocked() {
				m := w.replay.pop()
				if m == nil {
					break
				}
				w.admitLocked(m)
			}
		}
		w.mu.Unlock()
	}
}

// roomLocked reports whether an item can enter the pipeline now
func (w *worker) roomLocked() bool {
	return len(w.input) < w.limits[0] || (len(w.input) == 0 && len(w.mandatory) < w.limits[1])
}

// admitLocked appends a new item and moves what it can forward
func (w *worker) admitLocked(m *measurement) {
	w.seq++
	w.input = append(w.input, item{m: m, seq: w.seq})
	w.pumpLocked()
}

// pumpLocked moves session frames into input and input into the mandatory
// queue while there is room
func (w *worker) pumpLocked() {
	for {
		moved := false
		if len(w.input) > 0 && len(w.mandatory) < w.limits[1] {
			w.mandatory = append(w.mandatory, w.input[0])
			w.input = w.input[1:]
			moved = true
		}
		if len(w.frames) > 0 && w.roomLocked() {
			f := w.frames[0]
			w.frames = w.frames[1:]
			w.read++
			if m := f.s.measurement(f.frame, cuvis.ItemAllFrames); m != nil {
				w.seq++
				w.input = append(w.input, item{m: m, seq: w.seq})
			}
			moved = true
		}
		if !moved {
			break
		}
	}
	w.cond.Broadcast()
}

// retireLocked marks seq as having left the pipeline, advancing the output
// cursor past every retired number
func (w *worker) retireLocked(seq uint64) {
	w.retired[seq] = true
	for w.retired[w.nextOut+1] {
		delete(w.retired, w.nextOut+1)
		w.nextOut++
	}
	w.cond.Broadcast()
}

// ingest admits a measurement or refuses it.  Refused measurements stay
// with the caller unless skipping is allowed.
func (w *worker) ingest(m *measurement) (accepted, skipped bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.roomLocked() {
		w.admitLocked(m)
		return true, false
	}
	if w.canSkipMeasurements {
		w.skipped++
		return false, true
	}
	return false, false
}

func (w *worker) canWorkLocked() bool {
	return w.processing && !w.paused && (len(w.mandatory) > 0 || len(w.supplementary) > 0)
}

// takeLocked removes the queued item with the lowest sequence number
func (w *worker) takeLocked() (item, bool) {
	best, fromSupp := -1, false
	var seq uint64
	for i, it := range w.mandatory {
		if best < 0 || it.seq < seq {
			best, seq, fromSupp = i, it.seq, false
		}
	}
	for i, it := range w.supplementary {
		if best < 0 || it.seq < seq {
			best, seq, fromSupp = i, it.seq, true
		}
	}
	q := &w.mandatory
	if fromSupp {
		q = &w.supplementary
	}
	it := (*q)[best]
	*q = append((*q)[:best:best], (*q)[best+1:]...)
	return it, fromSupp
}

func (w *worker) processor() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for !w.closed && !w.canWorkLocked() {
			w.cond.Wait()
		}
		if w.closed {
			w.mu.Unlock()
			return
		}
		it, supplementary := w.takeLocked()
		w.busy++
		w.pumpLocked()
		proc, exp, view := w.proc, w.exp, w.viewer
		w.mu.Unlock()

		if supplementary {
			w.supplement(it, exp, view)
		} else {
			w.process(it, proc, exp != nil || view != nil)
		}
	}
}

func (w *worker) finishLocked() {
	w.busy--
	w.cond.Broadcast()
}

// process runs the mandatory stage and hands the item on
func (w *worker) process(it item, proc *processing, supplement bool) {
	if d := w.lib.opts.ProcessingDelay; d > 0 {
		time.Sleep(d)
	}
	var err error
	if proc != nil {
		err = proc.apply(it.m)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.finishLocked()
	if err != nil {
		w.lib.fail(cuvis.StatusError, "worker: %v", err)
		cuvis.Logger().Warn("simulated worker dropped a measurement", "err", err)
		w.dropped++
		w.retireLocked(it.seq)
		return
	}
	switch {
	case !supplement:
		w.deliverLocked(it)
	case len(w.supplementary) < w.limits[2]:
		w.supplementary = append(w.supplementary, it)
	case w.canSkipSupplement:
		w.deliverLocked(it)
	default:
		// the queue is full: this processor runs the step itself and
		// stays busy until it is done
		exp, view := w.exp, w.viewer
		w.busy++
		w.mu.Unlock()
		w.supplement(it, exp, view)
		w.mu.Lock()
	}
}

// supplement runs the exporter and viewer and hands the item on
func (w *worker) supplement(it item, exp *exporter, view *viewer) {
	var err error
	if exp != nil {
		_, err = exp.apply(it.m)
	}
	if err == nil && view != nil {
		it.view, err = view.render(it.m)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	defer w.finishLocked()
	if err != nil {
		// a failed export still delivers the processed measurement
		w.lib.fail(cuvis.StatusError, "worker: %v", err)
		cuvis.Logger().Warn("simulated worker supplementary step failed", "err", err)
	}
	w.deliverLocked(it)
}

// deliverLocked puts an item in the output queue once it is its turn and
// there is room, dropping the oldest result when that is allowed
func (w *worker) deliverLocked(it item) {
	for !w.closed {
		inOrder := w.settings.KeepOutOfSequence || it.seq == w.nextOut+1
		room := len(w.output) < w.limits[3] || w.canDropResults
		if inOrder && room {
			break
		}
		w.cond.Wait()
	}
	if w.closed {
		return
	}
	if len(w.output) >= w.limits[3] {
		w.output = w.output[1:]
		w.dropped++
	}
	w.output = append(w.output, it)
	w.retireLocked(it.seq)
}

// pop takes the oldest result, waiting up to timeout
func (w *worker) pop(timeout time.Duration) (item, bool) {
	deadline := time.Now().Add(timeout)
	t := time.AfterFunc(timeout, func() {
		w.mu.Lock()
		w.cond.Broadcast()
		w.mu.Unlock()
	})
	defer t.Stop()
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.output) == 0 && !w.closed && time.Now().Before(deadline) {
		w.cond.Wait()
	}
	if len(w.output) == 0 {
		return item{}, false
	}
	it := w.output[0]
	w.output = w.output[1:]
	w.cond.Broadcast()
	return it, true
}

// dropQueuedLocked discards everything waiting in a queue.  Items held by
// processors finish normally.
func (w *worker) dropQueuedLocked() {
	for _, q := range [][]item{w.input, w.mandatory, w.supplementary} {
		for _, it := range q {
			w.dropped++
			w.retireLocked(it.seq)
		}
	}
	// results were retired when they entered the output queue
	w.dropped += len(w.output)
	w.dropped += len(w.frames)
	w.read += len(w.frames)
	w.input, w.mandatory, w.supplementary, w.output, w.frames = nil, nil, nil, nil, nil
	w.cond.Broadcast()
}

func (w *worker) state() cuvis.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	sessions := map[*session]bool{}
	for _, f := range w.frames {
		sessions[f.s] = true
	}
	return cuvis.WorkerState{
		MeasurementsInQueue:        len(w.input),
		SessionFilesInQueue:        len(sessions),
		FramesInQueue:              len(w.frames),
		MandatoryInQueue:           len(w.mandatory),
		SupplementaryInQueue:       len(w.supplementary),
		MeasurementsBeingProcessed: w.busy,
		ResultsInQueue:             len(w.output),
		Skipped:                    w.skipped,
		Dropped:                    w.dropped,
		HasAcquisitionContext:      w.acq != nil,
		IsProcessing:               w.processing,
	}
}

// parseSelection expands a frame selection such as "0-9,20,30-90:10" over
// n frames.  "" and "*" select every frame.
func parseSelection(sel string, n int) ([]int, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "*" {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	seen := map[int]bool{}
	var out []int
	for _, part := range strings.Split(sel, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if i := strings.IndexByte(part, ':'); i >= 0 {
			s, err := strconv.Atoi(part[i+1:])
			if err != nil || s < 1 {
				return nil, fmt.Errorf("selection %q: invalid step in %q", sel, part)
			}
			step, part = s, part[:i]
		}
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("selection %q: %w", sel, err)
		}
		b, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("selection %q: %w", sel, err)
		}
		if a < 0 || b < a {
			return nil, fmt.Errorf("selection %q: invalid range %q", sel, part)
		}
		for f := a; f <= b && f < n; f += step {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}

func (l *Lib) wrk(id int) (*worker, cuvis.Status) {
	w, ok := l.worker(id)
	if !ok {
		return nil, l.invalid(cuvis.KindWorker, id)
	}
	return w, cuvis.StatusOK
}

// WorkerCreate starts an idle worker
func (l *Lib) WorkerCreate(settings cuvis.WorkerSettings) (int, cuvis.Status) {
	if err := settings.Validate(); err != nil {
		return 0, l.fail(cuvis.StatusError, "%v", err)
	}
	w := newWorker(l, settings)
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.workers[id] = w
	return id, cuvis.StatusOK
}

// WorkerSetAcquisitionContext attaches a frame source, 0 detaches
func (l *Lib) WorkerSetAcquisitionContext(wid, acq int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	var a *acquisition
	if acq != 0 {
		if a, st = l.acq(acq); st != cuvis.StatusOK {
			return st
		}
	}
	w.mu.Lock()
	w.acq = a
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerSetProcessingContext attaches the mandatory stage, 0 detaches
func (l *Lib) WorkerSetProcessingContext(wid, proc int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	var p *processing
	if proc != 0 {
		if p, st = l.proc(proc); st != cuvis.StatusOK {
			return st
		}
	}
	w.mu.Lock()
	w.proc = p
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerSetExporter attaches an exporter, 0 detaches
func (l *Lib) WorkerSetExporter(wid, exp int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	var e *exporter
	if exp != 0 {
		var ok bool
		if e, ok = l.exporter(exp); !ok {
			return l.invalid(cuvis.KindExporter, exp)
		}
	}
	w.mu.Lock()
	w.exp = e
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerSetViewer attaches a viewer, 0 detaches
func (l *Lib) WorkerSetViewer(wid, viewerID int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	var v *viewer
	if viewerID != 0 {
		l.mu.Lock()
		var ok bool
		v, ok = l.viewers[viewerID]
		l.mu.Unlock()
		if !ok {
			return l.invalid(cuvis.KindViewer, viewerID)
		}
	}
	w.mu.Lock()
	w.viewer = v
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerSetSessionFile attaches a recording to replay, 0 detaches.
// Attaching restarts the replay from the first frame.
func (l *Lib) WorkerSetSessionFile(wid, sess int, skipDroppedFrames bool) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	var r *replay
	if sess != 0 {
		s, st := l.sess(sess)
		if st != cuvis.StatusOK {
			return st
		}
		r = newReplay(s, skipDroppedFrames)
	}
	w.mu.Lock()
	w.replay = r
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerIngestMeasurement moves a measurement into the worker.  A skipped
// measurement is consumed; a refused one stays with the caller.
func (l *Lib) WorkerIngestMeasurement(wid, mesu int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	m, ok := l.measurement(mesu)
	if !ok {
		return l.invalid(cuvis.KindMeasurement, mesu)
	}
	accepted, skipped := w.ingest(m)
	if !accepted && !skipped {
		return l.fail(cuvis.StatusError, "worker input queue is full (%d)", w.limits[0])
	}
	l.mu.Lock()
	delete(l.mesus, mesu)
	l.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerIngestSessionFile queues the selected frames of a session.  Frames
// are read into the input queue as room frees up and are never skipped.
func (l *Lib) WorkerIngestSessionFile(wid, sess int, selection string) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	s, st := l.sess(sess)
	if st != cuvis.StatusOK {
		return st
	}
	frames, err := parseSelection(selection, s.desc.Frames)
	if err != nil {
		return l.fail(cuvis.StatusError, "%v", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range frames {
		w.frames = append(w.frames, frameRef{s: s, frame: f})
	}
	w.total += len(frames)
	w.pumpLocked()
	return cuvis.StatusOK
}

// WorkerQuerySessionProgress counts session frames read and selected
func (l *Lib) WorkerQuerySessionProgress(wid int) (read, total int, st cuvis.Status) {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return 0, 0, st
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.read, w.total, cuvis.StatusOK
}

// WorkerHasNextResult reports whether a result is waiting
func (l *Lib) WorkerHasNextResult(wid int) (bool, cuvis.Status) {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return false, st
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.output) > 0, cuvis.StatusOK
}

// WorkerGetNextResult pops a result, waiting up to timeoutMs.  The view id
// is 0 when no viewer ran.
func (l *Lib) WorkerGetNextResult(wid int, timeoutMs int) (mesu, view int, st cuvis.Status) {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return 0, 0, st
	}
	it, ok := w.pop(cuvis.Millis(timeoutMs))
	if !ok {
		return 0, 0, l.fail(cuvis.StatusTimeout, "no result within %d ms", timeoutMs)
	}
	mesu = l.putMeasurement(it.m)
	if it.view != nil {
		view = l.putView(it.view)
	}
	return mesu, view, cuvis.StatusOK
}

// WorkerStartProcessing lets processors run.  Starting twice is harmless.
func (l *Lib) WorkerStartProcessing(wid int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	w.mu.Lock()
	w.processing = true
	w.pumpLocked()
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerStopProcessing stops processors from taking new items.  Queues are
// kept.
func (l *Lib) WorkerStopProcessing(wid int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	w.mu.Lock()
	w.processing = false
	w.cond.Broadcast()
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerDropAllQueued discards every queued item and pending session frame
func (l *Lib) WorkerDropAllQueued(wid int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	w.mu.Lock()
	w.dropQueuedLocked()
	w.mu.Unlock()
	return cuvis.StatusOK
}

// WorkerState snapshots the queues
func (l *Lib) WorkerState(wid int) (cuvis.WorkerState, cuvis.Status) {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return cuvis.WorkerState{}, st
	}
	return w.state(), cuvis.StatusOK
}

// WorkerGetInt reads a worker feature
func (l *Lib) WorkerGetInt(wid int, f cuvis.WorkerFeature) (int, cuvis.Status) {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return 0, st
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	switch f {
	case cuvis.WorkerQueueUsed:
		return len(w.output), cuvis.StatusOK
	case cuvis.WorkerInputQueueLimit:
		return w.limits[0], cuvis.StatusOK
	case cuvis.WorkerMandatoryQueueLimit:
		return w.limits[1], cuvis.StatusOK
	case cuvis.WorkerSupplementaryQueueLimit:
		return w.limits[2], cuvis.StatusOK
	case cuvis.WorkerOutputQueueLimit:
		return w.limits[3], cuvis.StatusOK
	case cuvis.WorkerThreadsBusy:
		return w.busy, cuvis.StatusOK
	case cuvis.WorkerIsProcessing:
		return b(w.processing), cuvis.StatusOK
	case cuvis.WorkerCanDropResults:
		return b(w.canDropResults), cuvis.StatusOK
	case cuvis.WorkerCanSkipMeasurements:
		return b(w.canSkipMeasurements), cuvis.StatusOK
	case cuvis.WorkerCanSkipSupplementarySteps:
		return b(w.canSkipSupplement), cuvis.StatusOK
	}
	return 0, l.fail(cuvis.StatusNotSupported, "unknown worker feature %d", int(f))
}

// WorkerSetInt changes a drop policy.  The other features are read only.
func (l *Lib) WorkerSetInt(wid int, f cuvis.WorkerFeature, v int) cuvis.Status {
	w, st := l.wrk(wid)
	if st != cuvis.StatusOK {
		return st
	}
	if v != 0 && v != 1 {
		return l.fail(cuvis.StatusError, "%s is boolean, got %d", f, v)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	switch f {
	case cuvis.WorkerCanDropResults:
		w.canDropResults = v == 1
	case cuvis.WorkerCanSkipMeasurements:
		w.canSkipMeasurements = v == 1
	case cuvis.WorkerCanSkipSupplementarySteps:
		w.canSkipSupplement = v == 1
	default:
		return l.fail(cuvis.StatusNotSupported, "%s is read only", f)
	}
	w.cond.Broadcast()
	return cuvis.StatusOK
}

// Pause holds every processor before its next item, leaving queued items in
// place.  Resume undoes it.
func (l *Lib) Pause(wid int) error {
	return l.setPaused(wid, true)
}

// Resume releases processors held by Pause
func (l *Lib) Resume(wid int) error {
	return l.setPaused(wid, false)
}

func (l *Lib) setPaused(wid int, paused bool) error {
	w, ok := l.worker(wid)
	if !ok {
		return fmt.Errorf("sim: no worker %d", wid)
	}
	w.mu.Lock()
	w.paused = paused
	w.cond.Broadcast()
	w.mu.Unlock()
	return nil
}
