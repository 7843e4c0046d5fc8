package sim

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

type exportKind int

const (
	exportCube exportKind = iota
	exportTiff
	exportEnvi
	exportView
)

type exporter struct {
	kind exportKind
	ge   cuvis.GeneralExportSettings
	save cuvis.SaveArgs
	tiff cuvis.TiffExportSettings
}

func (e *exporter) dir() (string, error) {
	dir := e.ge.ExportDir
	if dir == "" {
		dir = "."
	}
	return dir, os.MkdirAll(dir, 0755)
}

// apply writes m and returns the files written
func (e *exporter) apply(m *measurement) ([]string, error) {
	dir, err := e.dir()
	if err != nil {
		return nil, err
	}
	base := filepath.Join(dir, m.fileName())
	switch e.kind {
	case exportCube:
		path := base + ".fits"
		if err = exclusive(path, e.save.AllowOverwrite); err != nil {
			return nil, err
		}
		return []string{path}, m.writeFits(path, e.ge.SpectraMultiplier)
	case exportTiff:
		return e.writeTiff(base, m)
	case exportEnvi:
		return writeEnvi(base, m)
	case exportView:
		images, err := (&viewer{}).render(m)
		if err != nil {
			return nil, err
		}
		path := base + ".png"
		return []string{path}, writePNG(path, images[ViewKey])
	}
	return nil, fmt.Errorf("unknown exporter kind %d", int(e.kind))
}

// channels parses a selection such as "all" or "0,2,4"
func channels(sel string, n int) ([]int, error) {
	sel = strings.TrimSpace(sel)
	if sel == "" || strings.EqualFold(sel, "all") {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	var out []int
	for _, f := range strings.Split(sel, ",") {
		c, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("channel selection %q: %w", sel, err)
		}
		if c < 0 || c >= n {
			return nil, fmt.Errorf("channel selection %q: channel %d out of range [0,%d)", sel, c, n)
		}
		out = append(out, c)
	}
	return out, nil
}

// writeTiff writes one 16 bit grayscale TIFF per selected channel.  The LZW
// setting is written with Deflate, the lossless codec the encoder offers.
func (e *exporter) writeTiff(base string, m *measurement) ([]string, error) {
	if e.tiff.Format != cuvis.TiffSingle {
		return nil, fmt.Errorf("TIFF format %s is not available in the simulator", e.tiff.Format)
	}
	opts := &tiff.Options{Compression: tiff.Uncompressed}
	if e.tiff.Compression == cuvis.TiffCompressionLZW {
		opts.Compression = tiff.Deflate
	}
	_, img, ok := m.primary()
	if !ok {
		return nil, fmt.Errorf("measurement %q has no image data", m.metadata().Name)
	}
	sel, err := channels(e.ge.ChannelSelection, img.Channels)
	if err != nil {
		return nil, err
	}
	mult := e.ge.SpectraMultiplier
	if mult == 0 {
		mult = 1
	}
	var paths []string
	for _, c := range sel {
		gray := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
		for y := 0; y < img.Height; y++ {
			for x := 0; x < img.Width; x++ {
				v := img.Sample((y*img.Width+x)*img.Channels+c) * mult
				if v < 0 {
					v = 0
				}
				if v > 65535 {
					v = 65535
				}
				i := gray.PixOffset(x, y)
				gray.Pix[i] = uint8(uint16(v) >> 8)
				gray.Pix[i+1] = uint8(uint16(v))
			}
		}
		suffix := strconv.Itoa(c)
		if c < len(img.Wavelengths) {
			suffix = fmt.Sprintf("%dnm", img.Wavelengths[c])
		}
		path := fmt.Sprintf("%s_%s.tiff", base, suffix)
		if err = writeFile(path, func(f *os.File) error { return tiff.Encode(f, gray, opts) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var enviTypes = map[cuvis.ImageFormat]int{
	cuvis.FormatUint8:   1,
	cuvis.FormatUint16:  12,
	cuvis.FormatUint32:  13,
	cuvis.FormatFloat32: 4,
}

// writeEnvi writes a band interleaved by pixel ENVI pair, which is the
// in-memory layout
func writeEnvi(base string, m *measurement) ([]string, error) {
	_, img, ok := m.primary()
	if !ok {
		return nil, fmt.Errorf("measurement %q has no image data", m.metadata().Name)
	}
	var hdr strings.Builder
	fmt.Fprintf(&hdr, "ENVI\n")
	fmt.Fprintf(&hdr, "description = {%s}\n", m.metadata().Name)
	fmt.Fprintf(&hdr, "samples = %d\nlines = %d\nbands = %d\n", img.Width, img.Height, img.Channels)
	fmt.Fprintf(&hdr, "header offset = 0\nfile type = ENVI Standard\n")
	fmt.Fprintf(&hdr, "data type = %d\ninterleave = bip\nbyte order = 0\n", enviTypes[img.Format])
	if len(img.Wavelengths) > 0 {
		wl := make([]string, len(img.Wavelengths))
		for i, w := range img.Wavelengths {
			wl[i] = strconv.Itoa(int(w))
		}
		fmt.Fprintf(&hdr, "wavelength units = Nanometers\nwavelength = {%s}\n", strings.Join(wl, ", "))
	}
	paths := []string{base + ".hdr", base + ".bin"}
	if err := os.WriteFile(paths[0], []byte(hdr.String()), 0644); err != nil {
		return nil, err
	}
	return paths, os.WriteFile(paths[1], img.Data, 0644)
}

func writePNG(path string, img cuvis.ImageBuffer) error {
	gray := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	copy(gray.Pix, img.Data)
	return writeFile(path, func(f *os.File) error { return png.Encode(f, gray) })
}

func (l *Lib) putExporter(e *exporter) (int, cuvis.Status) {
	if e.ge.SpectraMultiplier < 0 {
		return 0, l.fail(cuvis.StatusError, "spectra multiplier must be non-negative, got %g", e.ge.SpectraMultiplier)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.newID()
	l.exporters[id] = e
	return id, cuvis.StatusOK
}

// ExporterCreateCube creates an exporter writing FITS cubes
func (l *Lib) ExporterCreateCube(ge cuvis.GeneralExportSettings, args cuvis.SaveArgs) (int, cuvis.Status) {
	return l.putExporter(&exporter{kind: exportCube, ge: ge, save: args})
}

// ExporterCreateTiff creates an exporter writing one TIFF per channel
func (l *Lib) ExporterCreateTiff(ge cuvis.GeneralExportSettings, ts cuvis.TiffExportSettings) (int, cuvis.Status) {
	if ts.Format != cuvis.TiffSingle {
		return 0, l.fail(cuvis.StatusNotSupported, "TIFF format %s is not available in the simulator", ts.Format)
	}
	return l.putExporter(&exporter{kind: exportTiff, ge: ge, tiff: ts})
}

// ExporterCreateEnvi creates an exporter writing ENVI header and data pairs
func (l *Lib) ExporterCreateEnvi(ge cuvis.GeneralExportSettings) (int, cuvis.Status) {
	return l.putExporter(&exporter{kind: exportEnvi, ge: ge})
}

// ExporterCreateView creates an exporter writing rendered PNG views.  The
// user plugin is accepted and ignored.
func (l *Lib) ExporterCreateView(ge cuvis.GeneralExportSettings, vs cuvis.ViewExportSettings) (int, cuvis.Status) {
	return l.putExporter(&exporter{kind: exportView, ge: ge})
}

func (l *Lib) exporter(id int) (*exporter, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.exporters[id]
	return e, ok
}

// ExporterApply writes a measurement
func (l *Lib) ExporterApply(exp, mesu int) cuvis.Status {
	e, ok := l.exporter(exp)
	if !ok {
		return l.invalid(cuvis.KindExporter, exp)
	}
	m, ok := l.measurement(mesu)
	if !ok {
		return l.invalid(cuvis.KindMeasurement, mesu)
	}
	if _, err := e.apply(m); err != nil {
		return l.fail(cuvis.StatusError, "%v", err)
	}
	return cuvis.StatusOK
}

// ExporterQueueUsed is always 0; simulated exports are synchronous
func (l *Lib) ExporterQueueUsed(exp int) (int, cuvis.Status) {
	if _, ok := l.exporter(exp); !ok {
		return 0, l.invalid(cuvis.KindExporter, exp)
	}
	return 0, cuvis.StatusOK
}
