package cuvis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

// script replays a fixed list of samples, repeating the last one
type script struct {
	mu      sync.Mutex
	samples []cuvis.Snapshot
	err     error // returned once the samples run out, if set
	calls   int
}

func (s *script) sample(ctx context.Context) (cuvis.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.samples) > 1 {
		out := s.samples[0]
		s.samples = s.samples[1:]
		return out, nil
	}
	if s.err != nil {
		return cuvis.Snapshot{}, s.err
	}
	return s.samples[0], nil
}

type recorder struct {
	mu     sync.Mutex
	states []cuvis.HardwareState
	comps  [][]cuvis.ComponentState
}

func (r *recorder) callback(ctx context.Context, state cuvis.HardwareState, comps []cuvis.ComponentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.comps = append(r.comps, comps)
}

func (r *recorder) seen() []cuvis.HardwareState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cuvis.HardwareState(nil), r.states...)
}

func snap(state cuvis.HardwareState, online ...bool) cuvis.Snapshot {
	s := cuvis.Snapshot{State: state}
	for i, o := range online {
		s.Components = append(s.Components, cuvis.ComponentState{Name: string(rune('a' + i)), Online: o})
	}
	return s
}

func TestStatePollerFiresOnChangeOnly(t *testing.T) {
	sc := &script{samples: []cuvis.Snapshot{
		snap(cuvis.HardwareOnline, true, true),
		snap(cuvis.HardwareOnline, true, true),
		snap(cuvis.HardwarePartiallyOnline, true, false),
		snap(cuvis.HardwarePartiallyOnline, true, false),
		snap(cuvis.HardwarePartiallyOnline, false, true),
		snap(cuvis.HardwareOffline, false, false),
	}}
	rec := &recorder{}
	p := cuvis.NewStatePoller(sc.sample, time.Millisecond)
	p.Start(rec.callback)
	defer p.Stop()

	want := []cuvis.HardwareState{
		cuvis.HardwareOnline,
		cuvis.HardwarePartiallyOnline,
		cuvis.HardwarePartiallyOnline,
		cuvis.HardwareOffline,
	}
	require.Eventually(t, func() bool { return len(rec.seen()) == len(want) }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, want, rec.seen(), "the last sample repeats and must not fire again")

	rec.mu.Lock()
	assert.Equal(t, []cuvis.ComponentState{{Name: "a", Online: false}, {Name: "b", Online: true}}, rec.comps[2])
	rec.mu.Unlock()
	assert.True(t, p.Running())
	assert.NoError(t, p.Err())
}

func TestStatePollerFirstTickAlwaysFires(t *testing.T) {
	sc := &script{samples: []cuvis.Snapshot{{}}}
	rec := &recorder{}
	p := cuvis.NewStatePoller(sc.sample, time.Hour)
	p.Start(rec.callback)
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 5*time.Second, time.Millisecond)
	p.Stop()
	assert.Equal(t, []cuvis.HardwareState{cuvis.HardwareOnline}, rec.seen())
}

func TestStatePollerStopIsSynchronous(t *testing.T) {
	sc := &script{samples: []cuvis.Snapshot{snap(cuvis.HardwareOnline, true)}}
	var (
		mu      sync.Mutex
		stopped bool
		late    bool
	)
	entered := make(chan struct{}, 1)
	cb := func(ctx context.Context, state cuvis.HardwareState, comps []cuvis.ComponentState) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		late = stopped
		mu.Unlock()
	}
	p := cuvis.NewStatePoller(sc.sample, time.Millisecond)
	p.Start(cb)
	<-entered
	p.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()
	assert.False(t, late, "callback still running after Stop returned")
	assert.False(t, p.Running())
	<-p.Done()

	// stopping twice is harmless
	p.Stop()
}

func TestStatePollerRestart(t *testing.T) {
	sc := &script{samples: []cuvis.Snapshot{snap(cuvis.HardwareOnline, true)}}
	first, second := &recorder{}, &recorder{}
	p := cuvis.NewStatePoller(sc.sample, time.Millisecond)
	p.Start(first.callback)
	require.Eventually(t, func() bool { return len(first.seen()) == 1 }, 5*time.Second, time.Millisecond)
	p.Start(second.callback)
	defer p.Stop()
	// a fresh loop reports the current state even though it did not change
	require.Eventually(t, func() bool { return len(second.seen()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Len(t, first.seen(), 1)
}

func TestStatePollerRecordsFault(t *testing.T) {
	boom := errors.New("usb link lost")
	sc := &script{
		samples: []cuvis.Snapshot{snap(cuvis.HardwareOnline, true), snap(cuvis.HardwareOnline, true)},
		err:     boom,
	}
	rec := &recorder{}
	p := cuvis.NewStatePoller(sc.sample, time.Millisecond)
	p.Start(rec.callback)
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop on a sampling error")
	}
	assert.ErrorIs(t, p.Err(), boom)
	assert.False(t, p.Running())
	assert.Equal(t, []cuvis.HardwareState{cuvis.HardwareOnline}, rec.seen())
	p.Stop()
}

func TestAcquisitionStateCallback(t *testing.T) {
	lib, native := newLib(t, sim.Options{})
	acq := openCamera(t, lib)
	acq.StateInterval = 5 * time.Millisecond
	id := onlyHandle(t, native, cuvis.KindAcquisitionContext)

	rec := &recorder{}
	acq.RegisterStateChangeCallback(rec.callback)
	require.Eventually(t, func() bool { return len(rec.seen()) == 1 }, 5*time.Second, time.Millisecond)

	require.NoError(t, native.SetComponentOnline(id, 1, false))
	require.Eventually(t, func() bool { return len(rec.seen()) == 2 }, 5*time.Second, time.Millisecond)
	require.NoError(t, native.SetComponentOnline(id, 0, false))
	require.Eventually(t, func() bool { return len(rec.seen()) == 3 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []cuvis.HardwareState{
		cuvis.HardwareOnline,
		cuvis.HardwarePartiallyOnline,
		cuvis.HardwareOffline,
	}, rec.seen())

	rec.mu.Lock()
	assert.Equal(t, []cuvis.ComponentState{{Name: "spectral", Online: true}, {Name: "pan", Online: false}}, rec.comps[1])
	rec.mu.Unlock()

	require.NoError(t, native.FailState(id, "camera unplugged"))
	require.Eventually(t, func() bool { return acq.StateErr() != nil }, 5*time.Second, time.Millisecond)
	var sdkErr *cuvis.SDKError
	require.ErrorAs(t, acq.StateErr(), &sdkErr)
	assert.Equal(t, "camera unplugged", sdkErr.Msg)

	acq.ResetStateChangeCallback()
	acq.ResetStateChangeCallback()
}
