package sim

import (
	"sync"
	"time"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

type opState int

const (
	opPending opState = iota
	opRunning
	opDone
	opOverwritten
	opFailed
)

// asyncOp is an operation that completes after a latency unless a newer
// operation on the same slot overwrites it first
type asyncOp struct {
	lib   *Lib
	start time.Time // before start the operation is reported as deferred
	timer *time.Timer
	done  chan struct{}

	mu       sync.Mutex
	state    opState
	msg      string
	result   *measurement
	handed   bool
	released bool
}

// newAsyncOp schedules run after latency
func (l *Lib) newAsyncOp(latency time.Duration, run func() (*measurement, cuvis.Status, string)) *asyncOp {
	op := &asyncOp{
		lib:   l,
		start: time.Now().Add(latency / 2),
		done:  make(chan struct{}),
	}
	op.timer = time.AfterFunc(latency, func() {
		op.mu.Lock()
		if op.state != opPending {
			op.mu.Unlock()
			return
		}
		op.state = opRunning
		op.mu.Unlock()

		m, st, msg := run()
		op.mu.Lock()
		defer op.mu.Unlock()
		if st != cuvis.StatusOK {
			op.state, op.msg = opFailed, msg
		} else {
			op.state = opDone
			if !op.released {
				op.result = m
			}
		}
		close(op.done)
	})
	return op
}

// overwrite cancels a pending operation.  It reports false when the
// operation already finished.
func (op *asyncOp) overwrite() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.state != opPending {
		return false
	}
	op.timer.Stop()
	op.state = opOverwritten
	close(op.done)
	return true
}

// release drops an unclaimed result.  The operation itself still completes.
func (op *asyncOp) release() {
	op.mu.Lock()
	op.released = true
	op.result = nil
	op.mu.Unlock()
}

// wait blocks up to timeoutMs and reports the status at the end
func (op *asyncOp) wait(timeoutMs int) cuvis.Status {
	if timeoutMs > 0 {
		t := time.NewTimer(cuvis.Millis(timeoutMs))
		select {
		case <-op.done:
		case <-t.C:
		}
		t.Stop()
	}
	return op.status()
}

func (op *asyncOp) status() cuvis.Status {
	op.mu.Lock()
	defer op.mu.Unlock()
	switch op.state {
	case opDone:
		return cuvis.StatusOK
	case opOverwritten:
		return cuvis.StatusOverwritten
	case opFailed:
		return op.lib.fail(cuvis.StatusError, "%s", op.msg)
	}
	if time.Now().Before(op.start) {
		return cuvis.StatusDeferred
	}
	return cuvis.StatusTimeout
}

// claim hands the captured measurement out.  The first claim takes the
// original; later claims get copies.
func (op *asyncOp) claim() *measurement {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.result == nil {
		return nil
	}
	if !op.handed {
		op.handed = true
		return op.result
	}
	return op.result.clone()
}

func (l *Lib) asyncOp(table map[int]*asyncOp, id int) (*asyncOp, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	op, ok := table[id]
	return op, ok
}

func (l *Lib) putAsync(table map[int]*asyncOp, op *asyncOp) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	table[id] = op
	return id
}

// AsyncCallGet waits for an asynchronous setter
func (l *Lib) AsyncCallGet(id int, timeoutMs int) cuvis.Status {
	op, ok := l.asyncOp(l.calls, id)
	if !ok {
		return l.invalid(cuvis.KindAsyncCall, id)
	}
	return op.wait(timeoutMs)
}

// AsyncCallStatus reports the state of an asynchronous setter without waiting
func (l *Lib) AsyncCallStatus(id int) cuvis.Status {
	op, ok := l.asyncOp(l.calls, id)
	if !ok {
		return l.invalid(cuvis.KindAsyncCall, id)
	}
	return op.status()
}

// AsyncCaptureGet waits for an asynchronous capture and returns the
// measurement once it is done
func (l *Lib) AsyncCaptureGet(id int, timeoutMs int) (int, cuvis.Status) {
	op, ok := l.asyncOp(l.captures, id)
	if !ok {
		return 0, l.invalid(cuvis.KindAsyncCapture, id)
	}
	st := op.wait(timeoutMs)
	if st != cuvis.StatusOK {
		return 0, st
	}
	m := op.claim()
	if m == nil {
		return 0, l.fail(cuvis.StatusError, "capture result was released")
	}
	return l.putMeasurement(m), cuvis.StatusOK
}

// AsyncCaptureStatus reports the state of an asynchronous capture
func (l *Lib) AsyncCaptureStatus(id int) cuvis.Status {
	op, ok := l.asyncOp(l.captures, id)
	if !ok {
		return l.invalid(cuvis.KindAsyncCapture, id)
	}
	return op.status()
}
