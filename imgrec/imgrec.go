// Package imgrec contains an image recorder used to automatically save result cubes to disk.
package imgrec

import (
	"context"
	"encoding/json"
	"fmt"
	"go/types"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/charmbracelet/log"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/server"
)

// Recorder records cube sequences with incrementing filenames in yyyy-mm-dd
// subfolders, e.g. Root/2024-05-01/cube000012.fits.  It is safe for
// concurrent use once constructed.
type Recorder struct {
	mu sync.Mutex

	// counter is the internally incrementing counter
	counter int

	// Root is the root path
	Root string

	// Prefix is the prefix for the filenames
	Prefix string

	// timeFldr is the subfolder with yyyy-mm-dd format.
	timeFldr string

	// Enabled is checked by HandleResult and by the HTTP capture routes
	Enabled bool

	// last is the most recently written file
	last string

	now func() time.Time
}

// updateFolder checks the current time and updates the folder as needed.
// If the day rolled over the counter restarts.
func (r *Recorder) updateFolder() {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	fldr := now().Format("2006-01-02")
	if fldr != r.timeFldr {
		r.timeFldr = fldr
		r.counter = 0
	}
}

// mkDir makes the folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := filepath.Join(r.Root, r.timeFldr)
	err := os.MkdirAll(fldr, 0777)
	return fldr, err
}

func (r *Recorder) fileName() string {
	return fmt.Sprintf("%s%06d.fits", r.Prefix, r.counter)
}

// Incr updates the filename counter; it scans the folder to do so.  If there
// is an error, the counter is not incremented
func (r *Recorder) Incr() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incrLocked()
}

func (r *Recorder) incrLocked() {
	r.updateFolder()
	dn, err := r.mkDir()
	if err != nil {
		return
	}
	files, err := os.ReadDir(dn)
	if err != nil {
		return
	}
	count := -1
	for _, file := range files {
		// skip directories, non-fits, and wrong prefix
		fn := file.Name()
		if file.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.Prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.Prefix), ".fits"))
		if err != nil {
			continue
		}
		if count < n {
			count = n
		}
	}
	r.counter = count + 1
}

// Last is the path of the most recently written file, "" if none
func (r *Recorder) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// IsEnabled reports whether the recorder should be used.  A recorder without
// a root is never enabled.
func (r *Recorder) IsEnabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled && r.Root != ""
}

// Record writes m's primary image to the next file in sequence and returns
// its path
func (r *Recorder) Record(m *cuvis.Measurement) (string, error) {
	md, err := m.Metadata()
	if err != nil {
		return "", err
	}
	d, err := m.Data()
	if err != nil {
		return "", err
	}
	key, img, ok := d.Primary()
	if !ok {
		return "", fmt.Errorf("imgrec: measurement %q has no image data", md.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.incrLocked()
	fldr, err := r.mkDir()
	if err != nil {
		return "", err
	}
	fn := filepath.Join(fldr, r.fileName())
	f, err := os.OpenFile(fn, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err = WriteCube(f, md, key, img); err != nil {
		return "", err
	}
	r.last = fn
	return fn, nil
}

// HandleResult is a cuvis.ResultHandler which records every result while the
// recorder is enabled.  It closes res.
func (r *Recorder) HandleResult(ctx context.Context, res cuvis.WorkerResult) {
	defer res.Close()
	if !r.IsEnabled() {
		return
	}
	fn, err := r.Record(res.Measurement)
	if err != nil {
		log.Error("recording result", "err", err)
		return
	}
	log.Debug("recorded result", "file", fn)
}

// MetadataCards renders measurement metadata as FITS header cards
func MetadataCards(md cuvis.Metadata, item string) []fitsio.Card {
	return []fitsio.Card{
		{Name: "ITEM", Value: item, Comment: "measurement data item"},
		{Name: "OBJECT", Value: md.Name},
		{Name: "NOTE", Value: md.Comment},
		{Name: "DATE-OBS", Value: md.CaptureTime.UTC().Format(time.RFC3339Nano)},
		{Name: "INSTRUME", Value: md.ProductName},
		{Name: "SERIAL", Value: md.SerialNumber},
		{Name: "EXPTIME", Value: md.IntegrationTime.Seconds(), Comment: "exposure time, sec"},
		{Name: "AVERAGES", Value: md.Averages},
		{Name: "FRAMEID", Value: md.FrameID},
		{Name: "PROCMODE", Value: md.ProcessingMode.String()},
		{Name: "DISTANCE", Value: md.Distance, Comment: "object distance, mm"},
		{Name: "FLAGS", Value: md.Flags.String()},
	}
}

// WriteCube streams img as a single-HDU FITS file to w.  The axes are
// (channel, x, y) so the file matches the pixel-interleaved memory layout.
// Float data is written as BITPIX -32, everything else as BITPIX 32.
func WriteCube(w io.Writer, md cuvis.Metadata, item string, img cuvis.ImageBuffer) error {
	if need := img.Len() * img.Format.BytesPerSample(); need == 0 || len(img.Data) < need {
		return fmt.Errorf("imgrec: image %q holds %d bytes, need %d", item, len(img.Data), need)
	}
	fits, err := fitsio.Create(w)
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
	cards := MetadataCards(md, item)
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
			buf[i] = float32(img.Sample(i))
		}
		err = im.Write(buf)
	} else {
		buf := make([]int32, n)
		for i := range buf {
			buf[i] = int32(img.Sample(i))
		}
		err = im.Write(buf)
	}
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

// SetRoot updates the root folder of the recorder
func (h HTTPWrapper) SetRoot(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec := h.Recorder
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.Root = str.Str
	rec.timeFldr = ""
	rec.updateFolder()
	if _, err = rec.mkDir(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetRoot gets the recorder's root folder and sends it back as JSON
func (h HTTPWrapper) GetRoot(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Root}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetPrefix updates the filename prefix of the recorder
func (h HTTPWrapper) SetPrefix(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Prefix = str.Str
	h.Recorder.counter = 0
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetPrefix gets the recorder's prefix and sends it back as JSON
func (h HTTPWrapper) GetPrefix(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := server.HumanPayload{T: types.String, String: h.Recorder.Prefix}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// GetEnabled returns the Recorder's Enabled field
func (h HTTPWrapper) GetEnabled(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	hp := server.HumanPayload{T: types.Bool, Bool: h.Recorder.Enabled}
	h.mu.Unlock()
	hp.EncodeAndRespond(w, r)
}

// SetEnabled sets the recorder's Enabled field
func (h HTTPWrapper) SetEnabled(w http.ResponseWriter, r *http.Request) {
	bT := server.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&bT)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.Recorder.Enabled = bT.Bool
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetLast serves the most recently written file
func (h HTTPWrapper) GetLast(w http.ResponseWriter, r *http.Request) {
	fn := h.Last()
	if fn == "" {
		http.Error(w, "nothing recorded yet", http.StatusNotFound)
		return
	}
	server.ReplyWithFile(w, r, filepath.Base(fn), filepath.Dir(fn))
}

// Inject adds GET and POST routes for /autowrite/root, /autowrite/prefix and
// /autowrite/enabled, and GET /autowrite/last, to the HTTPer
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/root"}] = h.SetRoot
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/root"}] = h.GetRoot
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/prefix"}] = h.SetPrefix
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/prefix"}] = h.GetPrefix
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autowrite/enabled"}] = h.SetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/enabled"}] = h.GetEnabled
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autowrite/last"}] = h.GetLast
}
