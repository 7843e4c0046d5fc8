package cuvis_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

func newLib(t *testing.T, opts sim.Options) (*cuvis.Library, *sim.Lib) {
	t.Helper()
	native := sim.New(opts)
	lib, err := cuvis.Init(native, "")
	require.NoError(t, err)
	t.Cleanup(func() { lib.Shutdown() })
	return lib, native
}

func loadCalibration(t *testing.T, lib *cuvis.Library) *cuvis.Calibration {
	t.Helper()
	path, err := sim.WriteCalibration(t.TempDir(), sim.DefaultCalibration())
	require.NoError(t, err)
	cal, err := lib.LoadCalibration(path)
	require.NoError(t, err)
	t.Cleanup(func() { cal.Close() })
	return cal
}

func openCamera(t *testing.T, lib *cuvis.Library) *cuvis.AcquisitionContext {
	t.Helper()
	acq, err := lib.NewAcquisitionContext(loadCalibration(t, lib))
	require.NoError(t, err)
	t.Cleanup(func() { acq.Close() })
	return acq
}

// onlyHandle returns the single live native handle of a kind
func onlyHandle(t *testing.T, native *sim.Lib, kind cuvis.HandleKind) int {
	t.Helper()
	ids := native.Handles(kind)
	require.Len(t, ids, 1, "live %s handles", kind)
	return ids[0]
}

func writeSession(t *testing.T, desc sim.SessionDesc) string {
	t.Helper()
	if desc.Calibration.Model == "" {
		desc.Calibration = sim.DefaultCalibration()
	}
	path := filepath.Join(t.TempDir(), "recording"+sim.SessionExt)
	require.NoError(t, sim.WriteSession(path, desc))
	return path
}

func loadSession(t *testing.T, lib *cuvis.Library, desc sim.SessionDesc) *cuvis.SessionFile {
	t.Helper()
	sess, err := lib.LoadSessionFile(writeSession(t, desc))
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

// capture takes one measurement synchronously
func capture(t *testing.T, acq *cuvis.AcquisitionContext) *cuvis.Measurement {
	t.Helper()
	m, err := acq.CaptureAt(5 * time.Second)
	require.NoError(t, err)
	return m
}
