package sim

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

// RawKey is the data item holding the unprocessed sensor cube
const RawKey = "raw"

const (
	darkLevel  = 100
	whiteLevel = 4000
	fullWell   = 4095
)

type measurement struct {
	mu      sync.Mutex
	meta    cuvis.Metadata
	images  map[string]cuvis.ImageBuffer
	strs    map[string]string
	sensors map[string]cuvis.SensorInfo
	calib   *CalibrationDesc
}

func newBuffer(w, h, c int, f cuvis.ImageFormat, wl []uint32) cuvis.ImageBuffer {
	return cuvis.ImageBuffer{
		Width: w, Height: h, Channels: c, Format: f,
		Wavelengths: append([]uint32(nil), wl...),
		Data:        make([]byte, w*h*c*f.BytesPerSample()),
	}
}

func copyBuffer(b cuvis.ImageBuffer) cuvis.ImageBuffer {
	b.Wavelengths = append([]uint32(nil), b.Wavelengths...)
	b.Data = append([]byte(nil), b.Data...)
	return b
}

func putU16(b cuvis.ImageBuffer, i int, v uint16) {
	binary.LittleEndian.PutUint16(b.Data[2*i:], v)
}

func putF32(b cuvis.ImageBuffer, i int, v float32) {
	binary.LittleEndian.PutUint32(b.Data[4*i:], math.Float32bits(v))
}

func scale(intTime time.Duration) float64 {
	if intTime <= 0 {
		return 1
	}
	return float64(intTime) / float64(10*time.Millisecond)
}

func clip(v float64) uint16 {
	switch {
	case v < 0:
		return 0
	case v > fullWell:
		return fullWell
	}
	return uint16(v)
}

func baseMeasurement(cal *CalibrationDesc, frame int, intTime time.Duration, avg int) *measurement {
	now := time.Now()
	m := &measurement{
		meta: cuvis.Metadata{
			Name:               fmt.Sprintf("frame_%06d", frame),
			CaptureTime:        now,
			FactoryCalibration: cal.Date,
			ProductName:        cal.Model,
			SerialNumber:       cal.Serial,
			Assembly:           "sim",
			IntegrationTime:    intTime,
			Averages:           avg,
			FrameID:            frame,
			ProcessingMode:     cuvis.ModeRaw,
		},
		images:  map[string]cuvis.ImageBuffer{},
		strs:    map[string]string{},
		sensors: map[string]cuvis.SensorInfo{},
		calib:   cal,
	}
	for _, c := range cal.Components {
		if c.Misc {
			continue
		}
		m.sensors[c.Name] = cuvis.SensorInfo{
			Averages:    avg,
			Temperature: c.Temperature,
			Gain:        1,
			ReadoutTime: now,
			Width:       cal.Width,
			Height:      cal.Height,
		}
	}
	return m
}

// synthesize produces a raw frame whose values depend on the position, the
// channel, the frame number and the integration time
func synthesize(cal *CalibrationDesc, frame int, intTime time.Duration, avg int) *measurement {
	m := baseMeasurement(cal, frame, intTime, avg)
	nc := len(cal.Wavelengths)
	raw := newBuffer(cal.Width, cal.Height, nc, cuvis.FormatUint16, cal.Wavelengths)
	k := scale(intTime)
	for y := 0; y < cal.Height; y++ {
		for x := 0; x < cal.Width; x++ {
			for c := 0; c < nc; c++ {
				signal := float64((x*37 + y*17 + c*131 + frame*7) % 3000)
				putU16(raw, (y*cal.Width+x)*nc+c, clip(darkLevel+signal*k))
			}
		}
	}
	m.images[RawKey] = raw
	return m
}

// reference produces a flat reference frame
func reference(cal *CalibrationDesc, ref cuvis.ReferenceType, intTime time.Duration) *measurement {
	m := baseMeasurement(cal, 0, intTime, 1)
	m.meta.Name = strings.ToLower(ref.String())
	level := float64(darkLevel)
	switch ref {
	case cuvis.RefWhite, cuvis.RefSpRad:
		level = whiteLevel
	case cuvis.RefWhiteDark:
		level = darkLevel * 1.1
	}
	nc := len(cal.Wavelengths)
	raw := newBuffer(cal.Width, cal.Height, nc, cuvis.FormatUint16, cal.Wavelengths)
	for i := 0; i < raw.Len(); i++ {
		putU16(raw, i, clip(level))
	}
	m.images[RawKey] = raw
	return m
}

func (m *measurement) clone() *measurement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &measurement{
		meta:    m.meta,
		images:  make(map[string]cuvis.ImageBuffer, len(m.images)),
		strs:    make(map[string]string, len(m.strs)),
		sensors: make(map[string]cuvis.SensorInfo, len(m.sensors)),
		calib:   m.calib,
	}
	for k, v := range m.images {
		out.images[k] = copyBuffer(v)
	}
	for k, v := range m.strs {
		out.strs[k] = v
	}
	for k, v := range m.sensors {
		out.sensors[k] = v
	}
	return out
}

func (m *measurement) metadata() cuvis.Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta
}

func (m *measurement) data() cuvis.MeasurementData {
	c := m.clone()
	return cuvis.MeasurementData{
		Images:  c.images,
		Strings: c.strs,
		GPS:     map[string]cuvis.GPSData{},
		Sensors: c.sensors,
	}
}

// primary is the cube when processed, the raw frame otherwise
func (m *measurement) primary() (string, cuvis.ImageBuffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.images[cuvis.CubeKey]; ok {
		return cuvis.CubeKey, b, true
	}
	b, ok := m.images[RawKey]
	return RawKey, b, ok
}

// fileName is the base name used when m is written out
func (m *measurement) fileName() string {
	name := m.metadata().Name
	if name == "" {
		name = "measurement"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
}

func exclusive(path string, overwrite bool) error {
	if overwrite {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s exists and overwriting is not allowed", path)
	}
	return nil
}

// save writes the primary image of m as FITS and, when asked, the metadata
// as a YAML info file next to it
func (m *measurement) save(ge cuvis.GeneralExportSettings, args cuvis.SaveArgs) (string, error) {
	dir := ge.ExportDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, m.fileName()+".fits")
	if err := exclusive(path, args.AllowOverwrite); err != nil {
		return "", err
	}
	if err := m.writeFits(path, ge.SpectraMultiplier); err != nil {
		return "", err
	}
	if args.AllowInfoFile {
		b, err := yml.Marshal(m.metadata())
		if err != nil {
			return "", err
		}
		if err = os.WriteFile(strings.TrimSuffix(path, ".fits")+".info", b, 0644); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	m.meta.Path = path
	m.mu.Unlock()
	return path, nil
}

// writeFits stores the primary image with the channels on the fastest axis,
// matching the in-memory layout.  Integer data is widened to 32 bits so the
// file needs no BZERO offset.
func (m *measurement) writeFits(path string, multiplier float64) error {
	key, img, ok := m.primary()
	if !ok {
		return fmt.Errorf("measurement %q has no image data", m.metadata().Name)
	}
	if multiplier == 0 {
		multiplier = 1
	}
	meta := m.metadata()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fits, err := fitsio.Create(f)
	if err != nil {
		return err
	}
	defer fits.Close()

	bitpix := 32
	if img.Format == cuvis.FormatFloat32 {
		bitpix = -32
	}
	im := fitsio.NewImage(bitpix, []int{img.Channels, img.Width, img.Height})
	defer im.Close()
	cards := []fitsio.Card{
		{Name: "ITEM", Value: key, Comment: "measurement data item"},
		{Name: "OBJECT", Value: meta.Name},
		{Name: "NOTE", Value: meta.Comment},
		{Name: "DATE-OBS", Value: meta.CaptureTime.UTC().Format(time.RFC3339Nano)},
		{Name: "INSTRUME", Value: meta.ProductName},
		{Name: "SERIAL", Value: meta.SerialNumber},
		{Name: "EXPTIME", Value: meta.IntegrationTime.Seconds(), Comment: "exposure time, sec"},
		{Name: "AVERAGES", Value: meta.Averages},
		{Name: "FRAMEID", Value: meta.FrameID},
		{Name: "PROCMODE", Value: meta.ProcessingMode.String()},
		{Name: "DISTANCE", Value: meta.Distance, Comment: "object distance, mm"},
		{Name: "SPECMULT", Value: multiplier},
		{Name: "INTERLV", Value: "BIP"},
	}
	for i, wl := range img.Wavelengths {
		cards = append(cards, fitsio.Card{Name: fmt.Sprintf("WAVE%d", i), Value: int(wl), Comment: "nm"})
	}
	if err = im.Header().Append(cards...); err != nil {
		return err
	}
	n := img.Len()
	if bitpix == -32 {
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = float32(img.Sample(i) * multiplier)
		}
		err = im.Write(buf)
	} else {
		buf := make([]int32, n)
		for i := range buf {
			buf[i] = int32(img.Sample(i) * multiplier)
		}
		err = im.Write(buf)
	}
	if err != nil {
		return err
	}
	return fits.Write(im)
}

func cardString(h *fitsio.Header, name string) string {
	c := h.Get(name)
	if c == nil {
		return ""
	}
	s, _ := c.Value.(string)
	return s
}

func cardFloat(h *fitsio.Header, name string) float64 {
	c := h.Get(name)
	if c == nil {
		return 0
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// loadFits reads a file written by writeFits
func loadFits(path string) (*measurement, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fits, err := fitsio.Open(f)
	if err != nil {
		return nil, err
	}
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("%s: primary HDU is not an image", path)
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 3 {
		return nil, fmt.Errorf("%s: expected a 3 axis cube, got %d axes", path, len(axes))
	}
	key := cardString(hdr, "ITEM")
	if key == "" {
		key = RawKey
	}
	var wl []uint32
	for i := 0; i < axes[0]; i++ {
		wl = append(wl, uint32(cardFloat(hdr, fmt.Sprintf("WAVE%d", i))))
	}
	cal := DefaultCalibration()
	cal.Model = cardString(hdr, "INSTRUME")
	cal.Serial = cardString(hdr, "SERIAL")
	cal.Width, cal.Height, cal.Wavelengths = axes[1], axes[2], wl
	cal.fill()
	cal.path = path
	m := baseMeasurement(&cal, int(cardFloat(hdr, "FRAMEID")), time.Duration(math.Round(cardFloat(hdr, "EXPTIME")*float64(time.Second))), int(cardFloat(hdr, "AVERAGES")))
	m.meta.Name = cardString(hdr, "OBJECT")
	m.meta.Comment = cardString(hdr, "NOTE")
	m.meta.Path = path
	m.meta.Distance = cardFloat(hdr, "DISTANCE")
	if t, err := time.Parse(time.RFC3339Nano, cardString(hdr, "DATE-OBS")); err == nil {
		m.meta.CaptureTime = t
	}
	if mode, err := cuvis.ParseProcessingMode(cardString(hdr, "PROCMODE")); err == nil {
		m.meta.ProcessingMode = mode
	}
	mult := cardFloat(hdr, "SPECMULT")
	if mult == 0 {
		mult = 1
	}
	n := axes[0] * axes[1] * axes[2]
	switch hdr.Bitpix() {
	case -32:
		buf := make([]float32, n)
		if err = img.Read(&buf); err != nil {
			return nil, err
		}
		out := newBuffer(axes[1], axes[2], axes[0], cuvis.FormatFloat32, wl)
		for i, v := range buf {
			putF32(out, i, float32(float64(v)/mult))
		}
		m.images[key] = out
	case 32:
		buf := make([]int32, n)
		if err = img.Read(&buf); err != nil {
			return nil, err
		}
		out := newBuffer(axes[1], axes[2], axes[0], cuvis.FormatUint16, wl)
		for i, v := range buf {
			putU16(out, i, uint16(math.Max(0, math.Min(math.MaxUint16, float64(v)/mult))))
		}
		m.images[key] = out
	default:
		return nil, fmt.Errorf("%s: unsupported BITPIX %d", path, hdr.Bitpix())
	}
	return m, nil
}
