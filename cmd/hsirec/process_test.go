package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

func TestJobExportsSelection(t *testing.T) {
	native := sim.New(sim.Options{})
	lib, err := cuvis.Init(native, "")
	require.NoError(t, err)
	defer lib.Shutdown()
	path := filepath.Join(t.TempDir(), "scan"+cuvis.SessionExt)
	require.NoError(t, sim.WriteSession(path, sim.SessionDesc{Name: "scan", Calibration: sim.DefaultCalibration(), FPS: 5, Frames: 6}))

	cfg := defaults()
	cfg.Export.Dir = t.TempDir()
	var calls int
	p, err := job{lib: lib, cfg: cfg, Poll: 20 * time.Millisecond}.run(context.Background(), path, "0-5:2", func(Progress) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, Progress{Read: 3, Total: 3, Done: 3}, p)
	assert.True(t, calls >= 3)
	ents, err := os.ReadDir(cfg.Export.Dir)
	require.NoError(t, err)
	assert.NotEmpty(t, ents)
	for _, kind := range []cuvis.HandleKind{cuvis.KindWorker, cuvis.KindSessionFile, cuvis.KindProcessingContext, cuvis.KindExporter} {
		assert.Empty(t, native.Handles(kind), kind)
	}
}

func TestJobErrors(t *testing.T) {
	lib, err := cuvis.Init(sim.New(sim.Options{}), "")
	require.NoError(t, err)
	defer lib.Shutdown()
	_, err = job{lib: lib, cfg: defaults()}.run(context.Background(), filepath.Join(t.TempDir(), "none.cu3s"), "*", func(Progress) {})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "s"+cuvis.SessionExt)
	require.NoError(t, sim.WriteSession(path, sim.SessionDesc{Calibration: sim.DefaultCalibration(), Frames: 2}))
	cfg := defaults()
	cfg.Export.Kind = "bmp"
	_, err = job{lib: lib, cfg: cfg}.run(context.Background(), path, "*", func(Progress) {})
	assert.Error(t, err)

}

func TestJobCanceled(t *testing.T) {
	lib, err := cuvis.Init(sim.New(sim.Options{ProcessingDelay: 200 * time.Millisecond}), "")
	require.NoError(t, err)
	defer lib.Shutdown()
	path := filepath.Join(t.TempDir(), "s"+cuvis.SessionExt)
	require.NoError(t, sim.WriteSession(path, sim.SessionDesc{Calibration: sim.DefaultCalibration(), Frames: 2}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := defaults()
	cfg.Export.Dir = t.TempDir()
	_, err = job{lib: lib, cfg: cfg}.run(ctx, path, "*", func(Progress) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProgressFinished(t *testing.T) {
	assert.False(t, Progress{Read: 2, Total: 3, Done: 2}.Finished())
	assert.False(t, Progress{Read: 3, Total: 3, Done: 2}.Finished())
	assert.True(t, Progress{Read: 3, Total: 3, Done: 2, Lost: 1}.Finished())
}
