package cuvis_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

// frames reads n recorded measurements; frame i has FrameID i
func frames(t *testing.T, lib *cuvis.Library, n int) []*cuvis.Measurement {
	t.Helper()
	sess := loadSession(t, lib, sim.SessionDesc{Name: "frames", FPS: 10, Frames: n, IntegrationTime: 5 * time.Millisecond})
	out := make([]*cuvis.Measurement, n)
	for i := range out {
		m, err := sess.Measurement(i, cuvis.ItemAllFrames)
		require.NoError(t, err)
		out[i] = m
	}
	return out
}

func newWorker(t *testing.T, lib *cuvis.Library, s cuvis.WorkerSettings) *cuvis.Worker {
	t.Helper()
	w, err := lib.NewWorker(s)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// workerState and frameID only mark failures so they can run inside
// Eventually conditions and result handlers
func workerState(t *testing.T, w *cuvis.Worker) cuvis.WorkerState {
	t.Helper()
	s, err := w.State()
	assert.NoError(t, err)
	return s
}

func frameID(t *testing.T, m *cuvis.Measurement) int {
	t.Helper()
	md, err := m.Metadata()
	assert.NoError(t, err)
	return md.FrameID
}

func ingestAll(t *testing.T, w *cuvis.Worker, ms []*cuvis.Measurement) {
	t.Helper()
	for i, m := range ms {
		require.NoError(t, w.IngestMeasurement(m), "measurement %d", i)
	}
}

func TestWorkerSettingsValidate(t *testing.T) {
	s := cuvis.DefaultWorkerSettings()
	assert.NoError(t, s.Validate())
	s.OutputQueueSize = 0
	assert.Error(t, s.Validate())
	s = cuvis.DefaultWorkerSettings()
	s.InputQueueSize = -1
	assert.Error(t, s.Validate())

	lib, _ := newLib(t, sim.Options{})
	_, err := lib.NewWorker(s)
	assert.Error(t, err)
}

func TestWorkerLimits(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.WorkerSettings{
		WorkerCount:            1,
		InputQueueSize:         3,
		MandatoryQueueSize:     4,
		SupplementaryQueueSize: 5,
		OutputQueueSize:        6,
	})
	for _, c := range []struct {
		get  func() (int, error)
		want int
	}{
		{w.InputQueueLimit, 3},
		{w.MandatoryQueueLimit, 4},
		{w.SupplementaryQueueLimit, 5},
		{w.OutputQueueLimit, 6},
		{w.QueueUsed, 0},
		{w.ThreadsBusy, 0},
	} {
		v, err := c.get()
		require.NoError(t, err)
		assert.Equal(t, c.want, v)
	}
}

func TestWorkerPolicies(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())
	for _, p := range []struct {
		name string
		get  func() (bool, error)
		set  func(bool) error
	}{
		{"drop results", w.CanDropResults, w.SetCanDropResults},
		{"skip measurements", w.CanSkipMeasurements, w.SetCanSkipMeasurements},
		{"skip supplementary steps", w.CanSkipSupplementarySteps, w.SetCanSkipSupplementarySteps},
	} {
		v, err := p.get()
		require.NoError(t, err, p.name)
		assert.False(t, v, p.name)
		require.NoError(t, p.set(true), p.name)
		v, err = p.get()
		require.NoError(t, err, p.name)
		assert.True(t, v, p.name)
	}
}

func TestWorkerStartStop(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())

	on, err := w.IsProcessing()
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, w.StopProcessing(), "stopping an idle worker")
	require.NoError(t, w.StartProcessing())
	require.NoError(t, w.StartProcessing())
	on, err = w.IsProcessing()
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, w.StopProcessing())
	require.NoError(t, w.StopProcessing())
	on, err = w.IsProcessing()
	require.NoError(t, err)
	assert.False(t, on)

	// queued work waits for the next start
	ingestAll(t, w, frames(t, lib, 2))
	s := workerState(t, w)
	assert.Equal(t, 2, s.MeasurementsInQueue+s.MandatoryInQueue)
	assert.Zero(t, s.ResultsInQueue)
	assert.False(t, s.IsProcessing)

	require.NoError(t, w.DropAllQueued())
	s = workerState(t, w)
	assert.Zero(t, s.MeasurementsInQueue+s.MandatoryInQueue)
	assert.Equal(t, 2, s.Dropped)

	// items arriving after a drop still come out
	require.NoError(t, w.StartProcessing())
	ingestAll(t, w, frames(t, lib, 1))
	res, err := w.GetNextResult(5 * time.Second)
	require.NoError(t, err)
	res.Close()
}

func TestWorkerIngestMovesMeasurement(t *testing.T) {
	lib, native := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())
	m := frames(t, lib, 1)[0]
	before := native.Live(cuvis.KindMeasurement)

	require.NoError(t, w.IngestMeasurement(m))
	assert.False(t, m.Valid())
	_, err := m.Metadata()
	assert.ErrorIs(t, err, cuvis.ErrReleased)
	assert.ErrorIs(t, w.IngestMeasurement(m), cuvis.ErrReleased)
	assert.NoError(t, m.Close(), "closing a moved measurement is a no-op")
	assert.Equal(t, before-1, native.Live(cuvis.KindMeasurement))
	assert.Zero(t, native.Freed(cuvis.KindMeasurement))
}

func TestWorkerSkipMeasurements(t *testing.T) {
	settings := cuvis.WorkerSettings{
		WorkerCount:        1,
		InputQueueSize:     0,
		MandatoryQueueSize: 1,
		OutputQueueSize:    4,
	}

	t.Run("skip", func(t *testing.T) {
		lib, _ := newLib(t, sim.Options{})
		s := settings
		s.CanSkipMeasurements = true
		w := newWorker(t, lib, s)
		ms := frames(t, lib, 2)
		require.NoError(t, w.IngestMeasurement(ms[0]))
		require.NoError(t, w.IngestMeasurement(ms[1]), "a skipped measurement is not an error")
		assert.False(t, ms[1].Valid(), "a skipped measurement is consumed")
		st := workerState(t, w)
		assert.Equal(t, 1, st.Skipped)
		assert.Equal(t, 1, st.MandatoryInQueue)
	})

	t.Run("no skip", func(t *testing.T) {
		lib, _ := newLib(t, sim.Options{})
		w := newWorker(t, lib, settings)
		ms := frames(t, lib, 2)
		defer ms[1].Close()
		require.NoError(t, w.IngestMeasurement(ms[0]))
		err := w.IngestMeasurement(ms[1])
		var sdkErr *cuvis.SDKError
		require.ErrorAs(t, err, &sdkErr)
		assert.Contains(t, sdkErr.Msg, "full")
		assert.True(t, ms[1].Valid(), "a refused measurement stays with the caller")
		assert.Equal(t, 1, frameID(t, ms[1]))
		assert.Zero(t, workerState(t, w).Skipped)

		// once the pipeline drains the same measurement goes in
		require.NoError(t, w.StartProcessing())
		res, err := w.GetNextResult(5 * time.Second)
		require.NoError(t, err)
		res.Close()
		require.Eventually(t, func() bool { return w.IngestMeasurement(ms[1]) == nil }, 5*time.Second, time.Millisecond)
	})
}

func TestWorkerOutputFullWithoutDrop(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.WorkerSettings{
		WorkerCount:            1,
		InputQueueSize:         10,
		MandatoryQueueSize:     4,
		SupplementaryQueueSize: 4,
		OutputQueueSize:        2,
	})
	ingestAll(t, w, frames(t, lib, 3))
	require.NoError(t, w.StartProcessing())

	// two results fill the output queue, the third waits in a processor
	require.Eventually(t, func() bool {
		s := workerState(t, w)
		return s.ResultsInQueue == 2 && s.MeasurementsBeingProcessed == 1
	}, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	used, err := w.QueueUsed()
	require.NoError(t, err)
	assert.Equal(t, 2, used)
	assert.Zero(t, workerState(t, w).Dropped)

	for want := 0; want < 3; want++ {
		res, err := w.GetNextResult(5 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, frameID(t, res.Measurement))
		res.Close()
	}
	_, err = w.GetNextResult(10 * time.Millisecond)
	assert.True(t, cuvis.IsTimeout(err), "got %v", err)
}

func TestWorkerDropOldest(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	s := cuvis.WorkerSettings{
		WorkerCount:        2,
		InputQueueSize:     10,
		MandatoryQueueSize: 4,
		OutputQueueSize:    2,
		CanDropResults:     true,
	}
	w := newWorker(t, lib, s)
	ingestAll(t, w, frames(t, lib, 6))
	require.NoError(t, w.StartProcessing())

	require.Eventually(t, func() bool {
		used, err := w.QueueUsed()
		assert.NoError(t, err)
		assert.LessOrEqual(t, used, s.OutputQueueSize)
		return workerState(t, w).Dropped == 4
	}, 5*time.Second, time.Millisecond)

	assert.Equal(t, 2, workerState(t, w).ResultsInQueue)
	for _, want := range []int{4, 5} {
		res, err := w.GetNextResult(time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, frameID(t, res.Measurement))
		res.Close()
	}
}

func TestWorkerHasNextThenGetDoesNotBlock(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())
	require.NoError(t, w.StartProcessing())
	ok, err := w.HasNextResult()
	require.NoError(t, err)
	assert.False(t, ok)

	ingestAll(t, w, frames(t, lib, 1))
	require.Eventually(t, func() bool {
		ok, err := w.HasNextResult()
		return err == nil && ok
	}, 5*time.Second, time.Millisecond)

	start := time.Now()
	res, err := w.GetNextResult(time.Hour)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	res.Close()
}

func TestWorkerGetNextResultContext(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())
	require.NoError(t, w.StartProcessing())

	_, err := w.GetNextResultContext(context.Background(), 30*time.Millisecond)
	assert.ErrorIs(t, err, cuvis.ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.GetNextResultContext(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	ingestAll(t, w, frames(t, lib, 1))
	res, err := w.GetNextResultContext(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, frameID(t, res.Measurement))
	res.Close()
}

func TestWorkerCallbackOrder(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.WorkerSettings{WorkerCount: 3, InputQueueSize: 10, MandatoryQueueSize: 4, OutputQueueSize: 10})

	var (
		mu  sync.Mutex
		ids []int
	)
	require.NoError(t, w.RegisterCallback(func(ctx context.Context, res cuvis.WorkerResult) {
		defer res.Close()
		id := frameID(t, res.Measurement)
		mu.Lock()
		ids = append(ids, id)
		mu.Unlock()
	}, cuvis.CallbackOptions{}))
	assert.True(t, w.CallbackRunning())

	ingestAll(t, w, frames(t, lib, 8))
	require.NoError(t, w.StartProcessing())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 8
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, ids)

	w.ResetCallback()
	w.ResetCallback()
	assert.False(t, w.CallbackRunning())
	assert.NoError(t, w.CallbackErr())
	assert.Error(t, w.RegisterCallback(nil, cuvis.CallbackOptions{}))
}

func TestWorkerCallbackMaxInFlight(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.WorkerSettings{WorkerCount: 2, InputQueueSize: 10, MandatoryQueueSize: 4, OutputQueueSize: 10})

	var (
		mu            sync.Mutex
		running, peak int
		handled       int
	)
	release := make(chan struct{})
	require.NoError(t, w.RegisterCallback(func(ctx context.Context, res cuvis.WorkerResult) {
		defer res.Close()
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		select {
		case <-release:
		case <-ctx.Done():
		}
		mu.Lock()
		running--
		handled++
		mu.Unlock()
	}, cuvis.CallbackOptions{MaxInFlight: 2}))

	ingestAll(t, w, frames(t, lib, 6))
	require.NoError(t, w.StartProcessing())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == 2
	}, 5*time.Second, time.Millisecond)
	// the rest stays in the output queue
	require.Eventually(t, func() bool { return workerState(t, w).ResultsInQueue == 4 }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, peak)
	mu.Unlock()

	close(release)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == 6
	}, 5*time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, peak)
	mu.Unlock()
}

func TestWorkerCallbackRecordsFault(t *testing.T) {
	lib, native := newLib(t, sim.Options{})
	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())
	require.NoError(t, w.RegisterCallback(func(ctx context.Context, res cuvis.WorkerResult) { res.Close() }, cuvis.CallbackOptions{}))

	// free the worker behind the wrapper's back
	require.Equal(t, cuvis.StatusOK, native.Free(cuvis.KindWorker, onlyHandle(t, native, cuvis.KindWorker)))
	require.Eventually(t, func() bool { return !w.CallbackRunning() }, 5*time.Second, time.Millisecond)
	var sdkErr *cuvis.SDKError
	require.ErrorAs(t, w.CallbackErr(), &sdkErr)
	assert.Equal(t, "worker_has_next_result", sdkErr.Op)
}

func TestWorkerSessionFile(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	sess := loadSession(t, lib, sim.SessionDesc{Name: "flight", FPS: 5, Frames: 12, Dropped: []int{3}})
	w := newWorker(t, lib, cuvis.WorkerSettings{WorkerCount: 2, InputQueueSize: 2, MandatoryQueueSize: 1, OutputQueueSize: 20})

	assert.Error(t, w.IngestSessionFile(sess, "5-2"))
	require.NoError(t, w.IngestSessionFile(sess, "0-5,8-11:2"))
	read, total, err := w.QuerySessionProgress()
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Less(t, read, total, "frames are read as room frees up")

	require.NoError(t, w.StartProcessing())
	require.Eventually(t, func() bool {
		read, _, err := w.QuerySessionProgress()
		return err == nil && read == 8
	}, 5*time.Second, time.Millisecond)

	var got []int
	for i := 0; i < 7; i++ {
		res, err := w.GetNextResult(5 * time.Second)
		require.NoError(t, err)
		got = append(got, frameID(t, res.Measurement))
		res.Close()
	}
	assert.Equal(t, []int{0, 1, 2, 4, 5, 8, 10}, got, "the dropped frame leaves a gap")
	ok, err := w.HasNextResult()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWorkerStages(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	cal := loadCalibration(t, lib)
	acq := openCamera(t, lib)
	dark := capture(t, acq)
	defer dark.Close()

	proc, err := lib.NewProcessingContext(cal)
	require.NoError(t, err)
	defer proc.Close()
	require.NoError(t, proc.SetReference(dark, cuvis.RefDark))
	require.NoError(t, proc.SetProcessingMode(cuvis.ModeDarkSubtract))

	dir := t.TempDir()
	ge := cuvis.DefaultGeneralExportSettings()
	ge.ExportDir = dir
	exp, err := lib.NewCubeExporter(ge, cuvis.DefaultSaveArgs())
	require.NoError(t, err)
	defer exp.Close()
	viewer, err := lib.NewViewer(cuvis.ViewerSettings{})
	require.NoError(t, err)
	defer viewer.Close()

	w := newWorker(t, lib, cuvis.DefaultWorkerSettings())
	require.NoError(t, w.SetProcessingContext(proc))
	require.NoError(t, w.SetExporter(exp))
	require.NoError(t, w.SetViewer(viewer))
	_, hasProc, hasExp, hasViewer := w.Stages()
	assert.True(t, hasProc && hasExp && hasViewer)

	ingestAll(t, w, frames(t, lib, 2))
	require.NoError(t, w.StartProcessing())
	for i := 0; i < 2; i++ {
		res, err := w.GetNextResult(5 * time.Second)
		require.NoError(t, err)
		md, err := res.Measurement.Metadata()
		require.NoError(t, err)
		assert.Equal(t, cuvis.ModeDarkSubtract, md.ProcessingMode)
		cube, err := res.Measurement.Cube()
		require.NoError(t, err)
		assert.Equal(t, 5, cube.Channels)
		img, ok := res.View.Single()
		require.True(t, ok, "one view image")
		assert.Equal(t, cube.Width, img.Width)
		res.Close()
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.fits"))
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// detaching the stages passes measurements through unprocessed
	require.NoError(t, w.SetProcessingContext(nil))
	require.NoError(t, w.SetExporter(nil))
	require.NoError(t, w.SetViewer(nil))
	ingestAll(t, w, frames(t, lib, 1))
	res, err := w.GetNextResult(5 * time.Second)
	require.NoError(t, err)
	defer res.Close()
	assert.Nil(t, res.View)
	md, err := res.Measurement.Metadata()
	require.NoError(t, err)
	assert.Equal(t, cuvis.ModeRaw, md.ProcessingMode)
	_, err = os.Stat(dir)
	assert.NoError(t, err)
}

func TestWorkerFromAcquisition(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	acq := openCamera(t, lib)
	require.NoError(t, acq.SetIntegrationTime(time.Millisecond))
	require.NoError(t, acq.SetFPS(200))
	require.NoError(t, acq.SetOperationMode(cuvis.OperationInternal))
	require.NoError(t, acq.SetContinuous(true))

	s := cuvis.DefaultWorkerSettings()
	s.PollInterval = time.Millisecond
	w := newWorker(t, lib, s)
	require.NoError(t, w.SetAcquisitionContext(acq))
	assert.True(t, workerState(t, w).HasAcquisitionContext)
	require.NoError(t, w.StartProcessing())

	last := -1
	for i := 0; i < 3; i++ {
		res, err := w.GetNextResult(5 * time.Second)
		require.NoError(t, err)
		id := frameID(t, res.Measurement)
		assert.Greater(t, id, last)
		last = id
		res.Close()
	}
	require.NoError(t, w.StopProcessing())
	require.NoError(t, acq.SetContinuous(false))
}

func TestWorkerSessionFileReplay(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	sess := loadSession(t, lib, sim.SessionDesc{Frames: 5, Dropped: []int{2}, IntegrationTime: time.Millisecond})

	s := cuvis.DefaultWorkerSettings()
	s.PollInterval = time.Millisecond
	w := newWorker(t, lib, s)
	require.NoError(t, w.StartProcessing())

	collect := func(n int) []int {
		var ids []int
		for i := 0; i < n; i++ {
			res, err := w.GetNextResult(5 * time.Second)
			require.NoError(t, err)
			ids = append(ids, frameID(t, res.Measurement))
			res.Close()
		}
		return ids
	}

	require.NoError(t, w.SetSessionFile(sess, true))
	assert.True(t, w.HasSessionFile())
	assert.Equal(t, []int{0, 1, 3, 4}, collect(4))

	require.NoError(t, w.SetSessionFile(sess, false))
	assert.Equal(t, []int{0, 1, 1, 3, 4}, collect(5), "a gap repeats the frame before it")

	time.Sleep(20 * time.Millisecond)
	has, err := w.HasNextResult()
	require.NoError(t, err)
	assert.False(t, has, "a replay runs once")

	require.NoError(t, w.SetSessionFile(nil, true))
	assert.False(t, w.HasSessionFile())

	require.NoError(t, sess.Close())
	assert.ErrorIs(t, w.SetSessionFile(sess, true), cuvis.ErrReleased)
}
