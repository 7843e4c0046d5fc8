package cuvis_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

func TestSDKErrorIs(t *testing.T) {
	err := fmt.Errorf("capture: %w", &cuvis.SDKError{Op: "acq_cont_capture", Status: cuvis.StatusTimeout, Msg: "no frame"})
	assert.True(t, cuvis.IsTimeout(err))
	assert.ErrorIs(t, err, cuvis.ErrTimeout)
	assert.ErrorIs(t, err, &cuvis.SDKError{Op: "acq_cont_capture", Status: cuvis.StatusTimeout})
	assert.NotErrorIs(t, err, &cuvis.SDKError{Op: "worker_get_next_result", Status: cuvis.StatusTimeout})
	assert.NotErrorIs(t, err, cuvis.ErrOverwritten)
	assert.False(t, cuvis.IsTimeout(errors.New("timeout")))
}

func TestSDKErrorMessage(t *testing.T) {
	assert.Equal(t, "cuvis: status_timeout", cuvis.ErrTimeout.Error())
	assert.Equal(t, "cuvis: init: status_error", (&cuvis.SDKError{Op: "init", Status: cuvis.StatusError}).Error())
	assert.Equal(t, "cuvis: init: bad folder (status_error)",
		(&cuvis.SDKError{Op: "init", Status: cuvis.StatusError, Msg: "bad folder"}).Error())
}

func TestErrorCarriesLastMessage(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	_, err := lib.LoadCalibration("/nonexistent/calibration.yml")
	var sdkErr *cuvis.SDKError
	require.ErrorAs(t, err, &sdkErr)
	assert.Equal(t, "calib_create_from_path", sdkErr.Op)
	assert.Equal(t, cuvis.StatusError, sdkErr.Status)
	assert.Contains(t, sdkErr.Msg, "nonexistent")
}

func TestInit(t *testing.T) {
	_, err := cuvis.Init(nil, "")
	assert.Error(t, err)
	_, err = cuvis.Init(sim.New(sim.Options{}), "/nonexistent/settings")
	assert.Error(t, err)

	lib, _ := newLib(t, sim.Options{})
	assert.Equal(t, sim.Version, lib.Version())
	assert.NoError(t, lib.SetLogLevel("debug"))
	assert.NoError(t, lib.SetLogLevel("info"))
	assert.Error(t, lib.SetLogLevel("chatty"))
}

func TestCloseIsIdempotent(t *testing.T) {
	lib, native := newLib(t, sim.Options{})
	cal := loadCalibration(t, lib)
	acq, err := lib.NewAcquisitionContext(cal)
	require.NoError(t, err)
	require.NoError(t, acq.Close())
	require.NoError(t, acq.Close())
	assert.Equal(t, 1, native.Freed(cuvis.KindAcquisitionContext))
	_, err = acq.State()
	assert.ErrorIs(t, err, cuvis.ErrReleased)

	m := capture(t, openCamera(t, lib))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Equal(t, 1, native.Freed(cuvis.KindMeasurement))
	assert.False(t, m.Valid())
	_, err = m.Clone()
	assert.ErrorIs(t, err, cuvis.ErrReleased)
}
