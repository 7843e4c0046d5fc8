package cuvis

import (
	"context"
	"sync"
	"time"
)

// DefaultStateInterval is the sampling period of a StatePoller
const DefaultStateInterval = 500 * time.Millisecond

// ComponentState is the online flag of one named component
type ComponentState struct {
	Name   string `json:"name"`
	Online bool   `json:"online"`
}

// Snapshot is the hardware state of a device at one instant
type Snapshot struct {
	State      HardwareState    `json:"state"`
	Components []ComponentState `json:"components"`
}

// Equal compares two snapshots structurally
func (s Snapshot) Equal(o Snapshot) bool {
	if s.State != o.State || len(s.Components) != len(o.Components) {
		return false
	}
	for i := range s.Components {
		if s.Components[i] != o.Components[i] {
			return false
		}
	}
	return true
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{State: s.State, Components: make([]ComponentState, len(s.Components))}
	copy(out.Components, s.Components)
	return out
}

// SnapshotFunc samples the current hardware state
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// StateCallback receives a hardware state change.  ctx is cancelled when the
// poller is stopped.  The callback must not call Stop or Start on the poller
// that invoked it.
type StateCallback func(ctx context.Context, state HardwareState, components []ComponentState)

// StatePoller turns a level-triggered state query into change notifications.
// It samples every interval; when the sample differs from the previous one
// (the first sample always does) the callback runs and the state is sampled
// again immediately.  Callbacks never overlap.
//
// A sampling error is logged, recorded, and ends the loop.  Err reports it.
type StatePoller struct {
	sample   SnapshotFunc
	interval time.Duration

	// ctl serializes Start and Stop
	ctl    sync.Mutex
	cancel context.CancelFunc

	mu   sync.Mutex
	done chan struct{}
	err  error
}

// NewStatePoller returns an idle poller.  interval <= 0 uses DefaultStateInterval.
func NewStatePoller(sample SnapshotFunc, interval time.Duration) *StatePoller {
	if interval <= 0 {
		interval = DefaultStateInterval
	}
	return &StatePoller{sample: sample, interval: interval}
}

// Start stops any running loop, waits for it to exit, then starts a new one
// delivering to cb
func (p *StatePoller) Start(cb StateCallback) {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.mu.Lock()
	p.done, p.err = done, nil
	p.mu.Unlock()
	go p.loop(ctx, cb, done)
}

// Stop cancels the loop and waits for it to exit.  No callback runs after
// Stop returns.  It is a no-op on an idle poller.
func (p *StatePoller) Stop() {
	p.ctl.Lock()
	defer p.ctl.Unlock()
	p.stop()
}

func (p *StatePoller) stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	<-done
}

// Running reports whether a loop is active
func (p *StatePoller) Running() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Done is closed when the current loop exits, by Stop or by a fault.
// It is nil before the first Start.
func (p *StatePoller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err is the sampling error that ended the most recent loop, if any
func (p *StatePoller) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *StatePoller) loop(ctx context.Context, cb StateCallback, done chan struct{}) {
	defer close(done)
	var last Snapshot
	first := true
	for ctx.Err() == nil {
		snap, err := p.sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			Logger().Error("hardware state polling stopped", "err", err)
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
		if first || !snap.Equal(last) {
			first = false
			last = snap.clone()
			if ctx.Err() != nil {
				return
			}
			cb(ctx, snap.State, snap.Components)
			continue
		}

		t := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}
