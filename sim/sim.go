/*
Package sim is an in-process simulation of the cuvis SDK.

Lib implements cuvis.Native without hardware.  Calibrations and session files
are small YAML descriptors (see CalibrationDesc and SessionDesc) from which
measurements are synthesized; processing, viewing and export produce
plausible data and files without claiming to match the vendor formats.

Workers run the same four-queue pipeline as the native library, with the
input, mandatory, supplementary and output queues and their skip and drop
policies, on goroutines.  Test hooks pause processing, script component
state and inject faults.

Like the native library, Lib keeps a single last-error message; concurrent
failures may overwrite each other's message.
*/
package sim

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

// Version is reported by Lib.Version
const Version = "sim-3.3.0"

// Options tune the simulator's timing
type Options struct {
	// AsyncLatency is the time an asynchronous setter or capture takes to
	// complete.  The first half of it is reported as deferred.
	AsyncLatency time.Duration

	// ProcessingDelay is added to every mandatory processing step
	ProcessingDelay time.Duration
}

// DefaultOptions are used by New when opts is the zero value
var DefaultOptions = Options{AsyncLatency: 20 * time.Millisecond}

// Lib is a simulated native library.  The zero value is not usable; call New.
type Lib struct {
	opts Options

	errMu   sync.Mutex
	lastErr string

	mu       sync.Mutex
	next     int
	settings string
	level    cuvis.LogLevel
	freed    map[cuvis.HandleKind]int

	calibs    map[int]*CalibrationDesc
	sessions  map[int]*session
	mesus     map[int]*measurement
	acqs      map[int]*acquisition
	procs     map[int]*processing
	exporters map[int]*exporter
	viewers   map[int]*viewer
	views     map[int]map[string]cuvis.ImageBuffer
	workers   map[int]*worker
	calls     map[int]*asyncOp
	captures  map[int]*asyncOp
}

var _ cuvis.Native = (*Lib)(nil)

// New returns a simulator
func New(opts Options) *Lib {
	if opts == (Options{}) {
		opts = DefaultOptions
	}
	return &Lib{
		opts:      opts,
		level:     cuvis.LogInfo,
		freed:     map[cuvis.HandleKind]int{},
		calibs:    map[int]*CalibrationDesc{},
		sessions:  map[int]*session{},
		mesus:     map[int]*measurement{},
		acqs:      map[int]*acquisition{},
		procs:     map[int]*processing{},
		exporters: map[int]*exporter{},
		viewers:   map[int]*viewer{},
		views:     map[int]map[string]cuvis.ImageBuffer{},
		workers:   map[int]*worker{},
		calls:     map[int]*asyncOp{},
		captures:  map[int]*asyncOp{},
	}
}

// fail records msg as the last error and returns st
func (l *Lib) fail(st cuvis.Status, format string, args ...interface{}) cuvis.Status {
	l.errMu.Lock()
	l.lastErr = fmt.Sprintf(format, args...)
	l.errMu.Unlock()
	return st
}

func (l *Lib) invalid(kind cuvis.HandleKind, id int) cuvis.Status {
	return l.fail(cuvis.StatusError, "invalid %s handle %d", kind, id)
}

// newID allocates a handle id.  Ids start at 1 so that 0 can mean "none".
// l.mu must be held.
func (l *Lib) newID() int {
	l.next++
	return l.next
}

// LastError returns the message of the most recent failure
func (l *Lib) LastError() string {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.lastErr
}

// Init accepts an empty settings path or an existing folder
func (l *Lib) Init(settingsPath string) cuvis.Status {
	if settingsPath != "" {
		fi, err := os.Stat(settingsPath)
		if err != nil {
			return l.fail(cuvis.StatusError, "settings folder: %v", err)
		}
		if !fi.IsDir() {
			return l.fail(cuvis.StatusError, "settings path %s is not a folder", settingsPath)
		}
	}
	l.mu.Lock()
	l.settings = settingsPath
	l.mu.Unlock()
	return cuvis.StatusOK
}

// Version returns Version
func (l *Lib) Version() string { return Version }

// SetLogLevel records the level
func (l *Lib) SetLogLevel(level cuvis.LogLevel) cuvis.Status {
	if level < cuvis.LogFatal || level > cuvis.LogDebug {
		return l.fail(cuvis.StatusError, "invalid log level %d", int(level))
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
	return cuvis.StatusOK
}

// LogLevel returns the level last set
func (l *Lib) LogLevel() cuvis.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Shutdown stops every acquisition context and worker
func (l *Lib) Shutdown() cuvis.Status {
	l.mu.Lock()
	acqs := make([]*acquisition, 0, len(l.acqs))
	for _, a := range l.acqs {
		acqs = append(acqs, a)
	}
	workers := make([]*worker, 0, len(l.workers))
	for _, w := range l.workers {
		workers = append(workers, w)
	}
	l.mu.Unlock()
	for _, w := range workers {
		w.stop()
	}
	for _, a := range acqs {
		a.close()
	}
	return cuvis.StatusOK
}

// Free releases a handle.  Unlike the native library, freeing an unknown or
// already freed handle is reported as an error.
func (l *Lib) Free(kind cuvis.HandleKind, id int) cuvis.Status {
	var closer func()
	l.mu.Lock()
	ok := true
	switch kind {
	case cuvis.KindCalibration:
		_, ok = l.calibs[id]
		delete(l.calibs, id)
	case cuvis.KindSessionFile:
		_, ok = l.sessions[id]
		delete(l.sessions, id)
	case cuvis.KindMeasurement:
		_, ok = l.mesus[id]
		delete(l.mesus, id)
	case cuvis.KindAcquisitionContext:
		var a *acquisition
		a, ok = l.acqs[id]
		delete(l.acqs, id)
		if ok {
			closer = a.close
		}
	case cuvis.KindProcessingContext:
		_, ok = l.procs[id]
		delete(l.procs, id)
	case cuvis.KindExporter:
		_, ok = l.exporters[id]
		delete(l.exporters, id)
	case cuvis.KindViewer:
		_, ok = l.viewers[id]
		delete(l.viewers, id)
	case cuvis.KindView:
		_, ok = l.views[id]
		delete(l.views, id)
	case cuvis.KindWorker:
		var w *worker
		w, ok = l.workers[id]
		delete(l.workers, id)
		if ok {
			closer = w.stop
		}
	case cuvis.KindAsyncCall:
		var op *asyncOp
		op, ok = l.calls[id]
		delete(l.calls, id)
		if ok {
			closer = op.release
		}
	case cuvis.KindAsyncCapture:
		var op *asyncOp
		op, ok = l.captures[id]
		delete(l.captures, id)
		if ok {
			closer = op.release
		}
	default:
		ok = false
	}
	if ok {
		l.freed[kind]++
	}
	l.mu.Unlock()
	if !ok {
		return l.invalid(kind, id)
	}
	if closer != nil {
		closer()
	}
	return cuvis.StatusOK
}

// Live is the number of allocated handles of a kind
func (l *Lib) Live(kind cuvis.HandleKind) int {
	return len(l.Handles(kind))
}

// Freed is the number of successful Free calls for a kind
func (l *Lib) Freed(kind cuvis.HandleKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freed[kind]
}

// Handles lists the live handles of a kind in allocation order
func (l *Lib) Handles(kind cuvis.HandleKind) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []int
	add := func(id int) { ids = append(ids, id) }
	switch kind {
	case cuvis.KindCalibration:
		for id := range l.calibs {
			add(id)
		}
	case cuvis.KindSessionFile:
		for id := range l.sessions {
			add(id)
		}
	case cuvis.KindMeasurement:
		for id := range l.mesus {
			add(id)
		}
	case cuvis.KindAcquisitionContext:
		for id := range l.acqs {
			add(id)
		}
	case cuvis.KindProcessingContext:
		for id := range l.procs {
			add(id)
		}
	case cuvis.KindExporter:
		for id := range l.exporters {
			add(id)
		}
	case cuvis.KindViewer:
		for id := range l.viewers {
			add(id)
		}
	case cuvis.KindView:
		for id := range l.views {
			add(id)
		}
	case cuvis.KindWorker:
		for id := range l.workers {
			add(id)
		}
	case cuvis.KindAsyncCall:
		for id := range l.calls {
			add(id)
		}
	case cuvis.KindAsyncCapture:
		for id := range l.captures {
			add(id)
		}
	}
	sort.Ints(ids)
	return ids
}

// putMeasurement registers m and returns its handle
func (l *Lib) putMeasurement(m *measurement) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.mesus[id] = m
	return id
}

func (l *Lib) measurement(id int) (*measurement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.mesus[id]
	return m, ok
}

func (l *Lib) acquisition(id int) (*acquisition, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.acqs[id]
	return a, ok
}

func (l *Lib) worker(id int) (*worker, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.workers[id]
	return w, ok
}

func (l *Lib) session(id int) (*session, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[id]
	return s, ok
}

func (l *Lib) processing(id int) (*processing, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.procs[id]
	return p, ok
}
