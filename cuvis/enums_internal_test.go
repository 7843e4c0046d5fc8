package cuvis

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumNamesComplete(t *testing.T) {
	tables := map[string][]string{
		"Status":                     statusNames[:],
		"HandleKind":                 handleKindNames[:],
		"AcqFeature":                 acqFeatureNames[:],
		"CompFeature":                compFeatureNames[:],
		"WorkerFeature":              workerFeatureNames[:],
		"OperationMode":              operationModeNames[:],
		"ProcessingMode":             processingModeNames[:],
		"ReferenceType":              referenceTypeNames[:],
		"SessionItemType":            sessionItemTypeNames[:],
		"HardwareState":              hardwareStateNames[:],
		"ComponentType":              componentTypeNames[:],
		"AsyncResult":                asyncResultNames[:],
		"PanSharpeningInterpolation": interpolationNames[:],
		"PanSharpeningAlgorithm":     panAlgorithmNames[:],
		"TiffCompressionMode":        tiffCompressionNames[:],
		"TiffFormat":                 tiffFormatNames[:],
		"LogLevel":                   logLevelNames[:],
		"ImageFormat":                imageFormatNames[:],
		"MeasurementFlags":           flagNames[:],
		"Capabilities":               capNames[:],
	}
	for kind, names := range tables {
		seen := map[string]bool{}
		for i, n := range names {
			assert.NotEmpty(t, n, "%s %d has no name", kind, i)
			assert.False(t, seen[strings.ToLower(n)], "%s name %q is used twice", kind, n)
			seen[strings.ToLower(n)] = true
		}
	}
}

func TestEnumOutOfRange(t *testing.T) {
	assert.Equal(t, "Status(99)", Status(99).String())
	assert.Equal(t, "ProcessingMode(-1)", ProcessingMode(-1).String())
	assert.Equal(t, "none", Capabilities(0).String())
	assert.Equal(t, 0, ImageFormat(42).BytesPerSample())
}

func TestParseEnums(t *testing.T) {
	for i, n := range operationModeNames {
		m, err := ParseOperationMode(strings.ToLower(n))
		require.NoError(t, err)
		assert.Equal(t, OperationMode(i), m)
	}
	for i, n := range processingModeNames {
		var m ProcessingMode
		require.NoError(t, m.UnmarshalText([]byte(n)))
		assert.Equal(t, ProcessingMode(i), m)
		b, err := m.MarshalText()
		require.NoError(t, err)
		assert.Equal(t, n, string(b))
	}
	for i, n := range hardwareStateNames {
		var hs HardwareState
		require.NoError(t, json.Unmarshal([]byte(`"`+strings.ToUpper(n)+`"`), &hs))
		assert.Equal(t, HardwareState(i), hs)
	}
	for i, n := range componentTypeNames {
		ct, err := ParseComponentType(n)
		require.NoError(t, err)
		assert.Equal(t, ComponentType(i), ct)
	}
	img := ImageBuffer{Width: 1, Height: 1, Channels: 1, Format: FormatFloat32}
	b, err := json.Marshal(img)
	require.NoError(t, err)
	var back ImageBuffer
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, FormatFloat32, back.Format)
	_, err = ParseImageFormat("int12")
	assert.Error(t, err)

	_, err = ParseReferenceType("grey")
	assert.Error(t, err)
	lvl, err := ParseLogLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, LogDebug, lvl)
}

func TestFlagStrings(t *testing.T) {
	caps := CapAcquisitionCapture | CapAcquisitionTimelapse
	assert.True(t, caps.Has(CapAcquisitionCapture))
	assert.False(t, caps.Has(CapAcquisitionContinuous))
	assert.Equal(t, []string{capNames[0], capNames[1]}, caps.Strings())
	assert.Equal(t, capNames[0]+"|"+capNames[1], caps.String())
}

func TestMillis(t *testing.T) {
	for _, c := range []struct {
		in   time.Duration
		want int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Nanosecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{time.Second, 1000},
		{time.Duration(math.MaxInt64), math.MaxInt32},
	} {
		assert.Equal(t, c.want, millis(c.in), "millis(%v)", c.in)
	}
	assert.Equal(t, 250*time.Millisecond, Millis(250))
}

func TestHandleMove(t *testing.T) {
	var freed []int
	c := core{&freeRecorder{freed: &freed}}
	h := c.own(KindMeasurement, 7)

	id, err := h.take()
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	_, err = h.get()
	assert.ErrorIs(t, err, ErrReleased)
	_, err = h.take()
	assert.ErrorIs(t, err, ErrReleased)
	assert.NoError(t, h.release(), "releasing a moved handle does not free")
	assert.Empty(t, freed)

	h.give(id)
	assert.True(t, h.alive())
	require.NoError(t, h.release())
	require.NoError(t, h.release())
	assert.Equal(t, []int{7}, freed, "freed exactly once")
}

// freeRecorder is a Native whose only working method is Free
type freeRecorder struct {
	Native
	freed *[]int
}

func (f *freeRecorder) Free(kind HandleKind, id int) Status {
	*f.freed = append(*f.freed, id)
	return StatusOK
}

func (f *freeRecorder) LastError() string { return "" }
