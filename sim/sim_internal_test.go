package sim

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

func TestParseSelection(t *testing.T) {
	for _, c := range []struct {
		sel  string
		n    int
		want []int
	}{
		{"", 3, []int{0, 1, 2}},
		{"*", 2, []int{0, 1}},
		{"4", 10, []int{4}},
		{"0-3", 10, []int{0, 1, 2, 3}},
		{"0-9:3", 10, []int{0, 3, 6, 9}},
		{"8, 1-2, 2", 10, []int{1, 2, 8}},
		{"5-20", 8, []int{5, 6, 7}},
		{"12", 8, nil},
	} {
		got, err := parseSelection(c.sel, c.n)
		require.NoError(t, err, c.sel)
		assert.Equal(t, c.want, got, c.sel)
	}
	for _, bad := range []string{"a", "3-1", "0-4:0", "-2", "1-"} {
		_, err := parseSelection(bad, 10)
		assert.Error(t, err, bad)
	}
}

func TestChannels(t *testing.T) {
	got, err := channels("all", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
	got, err = channels("2, 0", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, got)
	_, err = channels("3", 3)
	assert.Error(t, err)
}

func TestCalibrationRoundTrip(t *testing.T) {
	c := DefaultCalibration()
	c.Annotation = "lab bench"
	path, err := WriteCalibration(t.TempDir(), c)
	require.NoError(t, err)
	assert.Equal(t, CalibrationFile, filepath.Base(path))

	back, err := LoadCalibrationDesc(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, c.UniqueID(), back.UniqueID())
	assert.Equal(t, "lab bench", back.Annotation)
	assert.Equal(t, c.Wavelengths, back.Wavelengths)
}

func TestFreeReportsDoubleFree(t *testing.T) {
	l := New(Options{})
	id := l.putMeasurement(synthesize(&CalibrationDesc{Width: 2, Height: 2, Wavelengths: []uint32{500}}, 0, time.Millisecond, 1))
	assert.Equal(t, cuvis.StatusOK, l.Free(cuvis.KindMeasurement, id))
	assert.Equal(t, cuvis.StatusError, l.Free(cuvis.KindMeasurement, id))
	assert.Contains(t, l.LastError(), "invalid measurement handle")
	assert.Equal(t, 1, l.Freed(cuvis.KindMeasurement))
}

func TestAsyncOpStates(t *testing.T) {
	l := New(Options{})
	op := l.newAsyncOp(200*time.Millisecond, func() (*measurement, cuvis.Status, string) {
		return nil, cuvis.StatusOK, ""
	})
	assert.Equal(t, cuvis.StatusDeferred, op.status())
	assert.True(t, op.overwrite())
	assert.False(t, op.overwrite())
	assert.Equal(t, cuvis.StatusOverwritten, op.wait(1000))

	op = l.newAsyncOp(time.Millisecond, func() (*measurement, cuvis.Status, string) {
		return nil, cuvis.StatusError, "sensor fault"
	})
	assert.Equal(t, cuvis.StatusError, op.wait(5000))
	assert.Equal(t, "sensor fault", l.LastError())
	assert.False(t, op.overwrite(), "a finished operation cannot be overwritten")
}
