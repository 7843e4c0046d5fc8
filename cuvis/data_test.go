package cuvis_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

func TestCalibration(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	cal := loadCalibration(t, lib)
	info, err := cal.Info()
	require.NoError(t, err)
	def := sim.DefaultCalibration()
	assert.Equal(t, def.Model, info.ModelName)
	assert.Equal(t, def.UniqueID(), info.UniqueID)

	caps, err := cal.Capabilities(cuvis.OperationSoftware)
	require.NoError(t, err)
	assert.True(t, caps.Has(cuvis.CapAcquisitionCapture))
}

func TestSessionFile(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	sess := loadSession(t, lib, sim.SessionDesc{
		Name:          "flight",
		OperationMode: cuvis.OperationInternal,
		FPS:           4,
		Frames:        6,
		Dropped:       []int{2},
		References:    []string{"Dark", "White"},
	})

	for _, c := range []struct {
		item cuvis.SessionItemType
		want int
	}{
		{cuvis.ItemAllFrames, 6},
		{cuvis.ItemNoGaps, 5},
		{cuvis.ItemReferences, 2},
	} {
		n, err := sess.Size(c.item)
		require.NoError(t, err)
		assert.Equal(t, c.want, n, c.item.String())
	}
	fps, err := sess.FPS()
	require.NoError(t, err)
	assert.Equal(t, 4.0, fps)
	mode, err := sess.OperationMode()
	require.NoError(t, err)
	assert.Equal(t, cuvis.OperationInternal, mode)
	hash, err := sess.Hash()
	require.NoError(t, err)
	assert.Len(t, hash, 16)

	gap, err := sess.Measurement(2, cuvis.ItemAllFrames)
	require.NoError(t, err)
	assert.Nil(t, gap, "a dropped frame is absent, not an error")
	m, err := sess.Measurement(2, cuvis.ItemNoGaps)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 3, frameID(t, m))
	m.Close()

	white, err := sess.Reference(0, cuvis.RefWhite)
	require.NoError(t, err)
	require.NotNil(t, white)
	white.Close()
	sprad, err := sess.Reference(0, cuvis.RefSpRad)
	require.NoError(t, err)
	assert.Nil(t, sprad)

	var seen []int
	require.NoError(t, sess.Each(func(frame int, m *cuvis.Measurement) error {
		defer m.Close()
		seen = append(seen, frameID(t, m))
		if len(seen) == 3 {
			return cuvis.ErrStop
		}
		return nil
	}))
	assert.Equal(t, []int{0, 1, 3}, seen)
}

func TestMeasurementSaveLoad(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	m := capture(t, openCamera(t, lib))
	defer m.Close()
	require.NoError(t, m.SetName("target_a"))
	require.NoError(t, m.SetComment("north wall"))
	before, err := m.Metadata()
	require.NoError(t, err)

	dir := t.TempDir()
	ge := cuvis.DefaultGeneralExportSettings()
	ge.ExportDir = dir
	args := cuvis.DefaultSaveArgs()
	require.NoError(t, m.Save(ge, args))
	_, err = os.Stat(filepath.Join(dir, "target_a.info"))
	assert.NoError(t, err)
	assert.Error(t, m.Save(ge, args), "overwriting is off by default")
	args.AllowOverwrite = true
	require.NoError(t, m.Save(ge, args))

	loaded, err := lib.LoadMeasurement(filepath.Join(dir, "target_a.fits"))
	require.NoError(t, err)
	defer loaded.Close()
	after, err := loaded.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "target_a", after.Name)
	assert.Equal(t, "north wall", after.Comment)
	assert.Equal(t, before.FrameID, after.FrameID)
	assert.Equal(t, before.IntegrationTime, after.IntegrationTime)
	assert.True(t, before.CaptureTime.Equal(after.CaptureTime))

	orig, err := m.Data()
	require.NoError(t, err)
	got, err := loaded.Data()
	require.NoError(t, err)
	assert.Equal(t, orig.Images[sim.RawKey].Data, got.Images[sim.RawKey].Data)
	assert.Equal(t, orig.Images[sim.RawKey].Wavelengths, got.Images[sim.RawKey].Wavelengths)
}

func TestMeasurementClone(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	m := capture(t, openCamera(t, lib))
	defer m.Close()
	dup, err := m.Clone()
	require.NoError(t, err)
	defer dup.Close()
	require.NoError(t, dup.SetName("copy"))
	md, err := m.Metadata()
	require.NoError(t, err)
	assert.NotEqual(t, "copy", md.Name)
}

func TestProcessingModes(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	cal := loadCalibration(t, lib)
	sess := loadSession(t, lib, sim.SessionDesc{Frames: 1, IntegrationTime: 10 * time.Millisecond, References: []string{"Dark", "White"}})
	proc, err := lib.NewProcessingContextFromSession(sess)
	require.NoError(t, err)
	defer proc.Close()

	calID, err := proc.CalibrationID()
	require.NoError(t, err)
	assert.Equal(t, sim.DefaultCalibration().UniqueID(), calID)

	for _, c := range []struct {
		mode   cuvis.ProcessingMode
		format cuvis.ImageFormat
	}{
		{cuvis.ModeRaw, cuvis.FormatUint16},
		{cuvis.ModeDarkSubtract, cuvis.FormatUint16},
		{cuvis.ModeReflectance, cuvis.FormatUint16},
		{cuvis.ModeSpectralRadiance, cuvis.FormatFloat32},
	} {
		m, err := sess.Measurement(0, cuvis.ItemAllFrames)
		require.NoError(t, err)
		require.NoError(t, proc.SetProcessingMode(c.mode))
		require.NoError(t, proc.Apply(m), c.mode.String())
		cube, err := m.Cube()
		require.NoError(t, err)
		assert.Equal(t, c.format, cube.Format, c.mode.String())
		md, err := m.Metadata()
		require.NoError(t, err)
		assert.Equal(t, c.mode, md.ProcessingMode)
		m.Close()
	}

	// a fresh context from the calibration holds no references
	bare, err := lib.NewProcessingContext(cal)
	require.NoError(t, err)
	defer bare.Close()
	ok, err := bare.HasReference(cuvis.RefDark)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = bare.Reference(cuvis.RefDark)
	assert.ErrorIs(t, err, cuvis.ErrNoMeasurement)

	m, err := sess.Measurement(0, cuvis.ItemAllFrames)
	require.NoError(t, err)
	defer m.Close()
	_, err = m.Cube()
	assert.ErrorIs(t, err, cuvis.ErrNotAvailable)
	capable, err := bare.IsCapable(m, cuvis.ProcessingArgs{ProcessingMode: cuvis.ModeReflectance})
	require.NoError(t, err)
	assert.False(t, capable)
	require.NoError(t, bare.SetProcessingMode(cuvis.ModeReflectance))
	assert.Error(t, bare.Apply(m))

	assert.Error(t, bare.CalcDistance(-1))
	require.NoError(t, bare.CalcDistance(1500))
	require.NoError(t, bare.SetProcessingMode(cuvis.ModeRaw))
	require.NoError(t, bare.Apply(m))
	md, err := m.Metadata()
	require.NoError(t, err)
	assert.Equal(t, 1500.0, md.Distance)
}

func TestExporters(t *testing.T) {
	lib, _ := newLib(t, sim.Options{})
	m := capture(t, openCamera(t, lib))
	defer m.Close()

	dir := t.TempDir()
	ge := cuvis.DefaultGeneralExportSettings()
	ge.ExportDir = dir
	ge.ChannelSelection = "0,2"

	cube, err := lib.NewCubeExporter(ge, cuvis.DefaultSaveArgs())
	require.NoError(t, err)
	defer cube.Close()
	tiff, err := lib.NewTiffExporter(ge, cuvis.TiffExportSettings{Compression: cuvis.TiffCompressionLZW, Format: cuvis.TiffSingle})
	require.NoError(t, err)
	defer tiff.Close()
	envi, err := lib.NewEnviExporter(ge)
	require.NoError(t, err)
	defer envi.Close()
	view, err := lib.NewViewExporter(ge, cuvis.ViewExportSettings{})
	require.NoError(t, err)
	defer view.Close()

	for _, e := range []*cuvis.Exporter{cube, tiff, envi, view} {
		require.NoError(t, e.Apply(m), e.Kind().String())
		n, err := e.QueueUsed()
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	md, err := m.Metadata()
	require.NoError(t, err)
	for _, name := range []string{".fits", "_450nm.tiff", "_550nm.tiff", ".hdr", ".bin", ".png"} {
		_, err := os.Stat(filepath.Join(dir, md.Name+name))
		assert.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(dir, md.Name+"_500nm.tiff"))
	assert.True(t, os.IsNotExist(err), "unselected channel was written")

	_, err = lib.NewTiffExporter(ge, cuvis.TiffExportSettings{Format: cuvis.TiffMultiChannel})
	assert.ErrorIs(t, err, cuvis.ErrNotSupported)

	k, err := cuvis.ParseExporterKind("ENVI")
	require.NoError(t, err)
	assert.Equal(t, cuvis.ExportEnvi, k)
}
