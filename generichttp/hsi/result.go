package hsi

import (
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/imgrec"
	"github.jpl.nasa.gov/bdube/hsicam/server"
)

// Summary is the JSON form of a measurement: its metadata and the shape of
// each data item, without the pixels
type Summary struct {
	Metadata cuvis.Metadata               `json:"metadata"`
	Images   map[string]cuvis.ImageBuffer `json:"images"`
	Strings  map[string]string            `json:"strings,omitempty"`
	Recorded string                       `json:"recorded,omitempty"`
}

// writeMeasurement records m if rec is enabled, then replies in the format
// named by the fmt query parameter: fits (default), json, or png.  For png
// the channel parameter picks the band, 0 by default.
func writeMeasurement(w http.ResponseWriter, r *http.Request, m *cuvis.Measurement, rec *imgrec.Recorder) {
	var recorded string
	if rec.IsEnabled() {
		fn, err := rec.Record(m)
		if err != nil {
			generichttp.Error(w, fmt.Errorf("recording: %w", err))
			return
		}
		recorded = fn
	}
	md, err := m.Metadata()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	d, err := m.Data()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	q := r.URL.Query()
	format := q.Get("fmt")
	if format == "" {
		format = "fits"
	}
	switch format {
	case "json":
		server.ReplyWithJSON(w, Summary{Metadata: md, Images: d.Images, Strings: d.Strings, Recorded: recorded})
	case "fits":
		key, img, ok := d.Primary()
		if !ok {
			http.Error(w, "measurement holds no image", http.StatusNotFound)
			return
		}
		hdr := w.Header()
		hdr.Set("Content-Type", "image/fits")
		hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", md.Name+".fits"))
		if err = imgrec.WriteCube(w, md, key, img); err != nil {
			// headers are out, the client sees a truncated file
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	case "png":
		_, img, ok := d.Primary()
		if !ok {
			http.Error(w, "measurement holds no image", http.StatusNotFound)
			return
		}
		ch := 0
		if s := q.Get("channel"); s != "" {
			if ch, err = strconv.Atoi(s); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		gray, err := Quicklook(img, ch)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		png.Encode(w, gray)
	default:
		http.Error(w, fmt.Sprintf("format %q not understood, use fits, json, or png", format), http.StatusBadRequest)
	}
}

// Quicklook renders one channel of img as a 16-bit grayscale image.  Float
// data is stretched between its minimum and maximum.
func Quicklook(img cuvis.ImageBuffer, channel int) (*image.Gray16, error) {
	if channel < 0 || channel >= img.Channels {
		return nil, fmt.Errorf("channel %d out of range [0,%d)", channel, img.Channels)
	}
	out := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
	n := img.Width * img.Height
	if img.Format != cuvis.FormatFloat32 && img.Format != cuvis.FormatUint32 {
		px, err := img.Channel(channel)
		if err != nil {
			return nil, err
		}
		for i, v := range px {
			out.Pix[2*i] = byte(v >> 8)
			out.Pix[2*i+1] = byte(v)
		}
		return out, nil
	}
	lo, hi := 0., 0.
	for i := 0; i < n; i++ {
		v := img.Sample(i*img.Channels + channel)
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i := 0; i < n; i++ {
		var v uint16
		if span > 0 {
			v = uint16((img.Sample(i*img.Channels+channel) - lo) / span * 65535)
		}
		out.Pix[2*i] = byte(v >> 8)
		out.Pix[2*i+1] = byte(v)
	}
	return out, nil
}
