package cuvis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// AwaitInterval is the status poll period of Async.Await
const AwaitInterval = 10 * time.Millisecond

var errPending = errors.New("cuvis: async operation pending")

// Async is one outstanding asynchronous native call.  Done and Overwritten
// are terminal: once observed, every later Poll returns the same value and
// result without calling into the native library again.  Timeout and
// Deferred describe one poll and leave the operation pending.
//
// Close releases the native handle; it must be called once the caller stops
// observing the operation.
type Async[T any] struct {
	c      core
	h      *handle
	op     string
	get    func(id, ms int) (T, Status)
	status func(id int) Status

	mu       sync.Mutex
	resolved bool
	res      AsyncResult
	val      T
}

// AsyncCall is an asynchronous setter.  Its value carries nothing.
type AsyncCall = Async[struct{}]

// AsyncMeasurement is an asynchronous capture.  Its value is the captured
// measurement, owned by the caller once delivered.
type AsyncMeasurement = Async[*Measurement]

func newAsyncCall(c core, id int, op string) *AsyncCall {
	return &AsyncCall{
		c:  c,
		h:  c.own(KindAsyncCall, id),
		op: op,
		get: func(id, ms int) (struct{}, Status) {
			return struct{}{}, c.AsyncCallGet(id, ms)
		},
		status: c.AsyncCallStatus,
	}
}

func newAsyncMeasurement(c core, id int, op string) *AsyncMeasurement {
	return &AsyncMeasurement{
		c:  c,
		h:  c.own(KindAsyncCapture, id),
		op: op,
		get: func(id, ms int) (*Measurement, Status) {
			mesu, st := c.AsyncCaptureGet(id, ms)
			if st != StatusOK {
				return nil, st
			}
			return newMeasurement(c, mesu), st
		},
		status: c.AsyncCaptureStatus,
	}
}

// Poll waits up to timeout for the operation.  A zero timeout checks without
// waiting.  The value is only meaningful with AsyncDone.
func (a *Async[T]) Poll(timeout time.Duration) (T, AsyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	if a.resolved {
		return a.val, a.res, nil
	}
	id, err := a.h.get()
	if err != nil {
		return zero, AsyncTimeout, err
	}
	v, st := a.get(id, millis(timeout))
	return a.settle(v, st)
}

// PollMillis is Poll with the budget in integer milliseconds
func (a *Async[T]) PollMillis(ms int) (T, AsyncResult, error) {
	return a.Poll(Millis(ms))
}

// settle translates a native status into a result, latching terminal ones.
// a.mu must be held.
func (a *Async[T]) settle(v T, st Status) (T, AsyncResult, error) {
	var zero T
	switch st {
	case StatusOK:
		a.resolved, a.res, a.val = true, AsyncDone, v
		return v, AsyncDone, nil
	case StatusOverwritten:
		a.resolved, a.res = true, AsyncOverwritten
		return zero, AsyncOverwritten, nil
	case StatusDeferred:
		return zero, AsyncDeferred, nil
	case StatusTimeout:
		return zero, AsyncTimeout, nil
	default:
		return zero, AsyncTimeout, a.c.check(st, a.op)
	}
}

// Await polls the native status every AwaitInterval until the operation
// completes, ctx ends, or the native library reports a failure.  It never
// issues a blocking native wait.  An overwritten operation returns an error
// matching ErrOverwritten.
func (a *Async[T]) Await(ctx context.Context) (T, error) {
	var out T
	op := func() error {
		v, res, err := a.check()
		if err != nil {
			return backoff.Permanent(err)
		}
		switch res {
		case AsyncDone:
			out = v
			return nil
		case AsyncOverwritten:
			return backoff.Permanent(&SDKError{Op: a.op, Status: StatusOverwritten, Msg: "request replaced by a newer one"})
		}
		return errPending
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(AwaitInterval), ctx))
	if err == nil {
		return out, nil
	}
	if err == errPending {
		// backoff gives up once less than one interval is left before the
		// deadline, while ctx is still live
		<-ctx.Done()
		return out, ctx.Err()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
	}
	return out, err
}

// check is one Await step: a status query, followed by a zero-budget get once
// the native side reports completion
func (a *Async[T]) check() (T, AsyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var zero T
	if a.resolved {
		return a.val, a.res, nil
	}
	id, err := a.h.get()
	if err != nil {
		return zero, AsyncTimeout, err
	}
	st := a.status(id)
	if st != StatusOK {
		return a.settle(zero, st)
	}
	v, st := a.get(id, 0)
	return a.settle(v, st)
}

// Result reports the terminal result, false while the operation is pending
func (a *Async[T]) Result() (AsyncResult, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.res, a.resolved
}

// Close releases the native handle.  Further calls are no-ops; polls after
// Close return the latched result or ErrReleased.
func (a *Async[T]) Close() error {
	return a.h.release()
}
