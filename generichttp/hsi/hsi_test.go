package hsi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp/hsi"
	"github.jpl.nasa.gov/bdube/hsicam/imgrec"
	"github.jpl.nasa.gov/bdube/hsicam/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/hsicam/sessionwatch"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

type rig struct {
	lib *cuvis.Library
	acq *cuvis.AcquisitionContext
	srv *httptest.Server
}

func newRig(t *testing.T, opts sim.Options, rec *imgrec.Recorder, lock *locker.Locker) rig {
	t.Helper()
	lib, err := cuvis.Init(sim.New(opts), "")
	require.NoError(t, err)
	t.Cleanup(func() { lib.Shutdown() })
	path, err := sim.WriteCalibration(t.TempDir(), sim.DefaultCalibration())
	require.NoError(t, err)
	cal, err := lib.LoadCalibration(path)
	require.NoError(t, err)
	t.Cleanup(func() { cal.Close() })
	acq, err := lib.NewAcquisitionContext(cal)
	require.NoError(t, err)
	t.Cleanup(func() { acq.Close() })

	h := hsi.NewAcquisitionHTTP(acq, rec)
	mux := chi.NewRouter()
	if lock != nil {
		locker.Inject(h, lock)
		mux.Use(lock.Check)
	}
	h.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return rig{lib: lib, acq: acq, srv: srv}
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, b
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAcquisitionSettings(t *testing.T) {
	r := newRig(t, sim.Options{}, nil, nil)
	u := r.srv.URL

	assert.Equal(t, http.StatusOK, post(t, u+"/fps", `{"f64":12.5}`))
	code, b := get(t, u+"/fps")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"f64":12.5}`, string(b))

	assert.Equal(t, http.StatusOK, post(t, u+"/integration-time?integrationTime=15ms", ""))
	it, err := r.acq.IntegrationTime()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Millisecond, it)
	assert.Equal(t, http.StatusOK, post(t, u+"/integration-time", `{"f64":0.02}`))
	_, b = get(t, u+"/integration-time")
	assert.JSONEq(t, `{"f64":0.02}`, string(b))

	assert.Equal(t, http.StatusOK, post(t, u+"/average", `{"int":4}`))
	_, b = get(t, u+"/average")
	assert.JSONEq(t, `{"int":4}`, string(b))
	assert.Equal(t, http.StatusOK, post(t, u+"/continuous", `{"bool":false}`))

	assert.Equal(t, http.StatusOK, post(t, u+"/operation-mode", `{"str":"internal"}`))
	_, b = get(t, u+"/operation-mode")
	assert.JSONEq(t, `{"str":"Internal"}`, string(b))
	assert.Equal(t, http.StatusBadRequest, post(t, u+"/operation-mode", `{"str":"sideways"}`))
	assert.Equal(t, http.StatusBadRequest, post(t, u+"/fps", `not json`))
	assert.Equal(t, http.StatusInternalServerError, post(t, u+"/fps", `{"f64":-1}`))

	assert.Equal(t, http.StatusOK, post(t, u+"/session-info", `{"name":"survey","sessionNumber":3}`))
	info, err := r.acq.SessionInfo()
	require.NoError(t, err)
	assert.Equal(t, "survey", info.Name)
	assert.Equal(t, 3, info.SessionNumber)

	code, b = get(t, u+"/endpoints")
	assert.Equal(t, http.StatusOK, code)
	var eps []string
	require.NoError(t, json.Unmarshal(b, &eps))
	assert.Contains(t, eps, "GET /capture")
	assert.Contains(t, eps, "POST /fps")
}

func TestAcquisitionState(t *testing.T) {
	r := newRig(t, sim.Options{}, nil, nil)
	code, b := get(t, r.srv.URL+"/state")
	require.Equal(t, http.StatusOK, code)
	var snap cuvis.Snapshot
	require.NoError(t, json.Unmarshal(b, &snap))
	assert.NotEmpty(t, snap.Components)

	code, b = get(t, r.srv.URL+"/components")
	require.Equal(t, http.StatusOK, code)
	var comps []hsi.ComponentReport
	require.NoError(t, json.Unmarshal(b, &comps))
	require.Len(t, comps, len(snap.Components))
	assert.Equal(t, snap.Components[0].Online, comps[0].Online)
}

func TestCaptureFormats(t *testing.T) {
	rec := &imgrec.Recorder{Root: t.TempDir(), Prefix: "cap", Enabled: true}
	r := newRig(t, sim.Options{}, rec, nil)
	def := sim.DefaultCalibration()

	code, b := get(t, r.srv.URL+"/capture?fmt=json&timeout=5")
	require.Equal(t, http.StatusOK, code, string(b))
	var sum hsi.Summary
	require.NoError(t, json.Unmarshal(b, &sum))
	assert.Equal(t, "frame_000000", sum.Metadata.Name)
	assert.Equal(t, rec.Last(), sum.Recorded)
	assert.Equal(t, "cap000000.fits", filepath.Base(sum.Recorded))

	code, b = get(t, r.srv.URL+"/capture")
	require.Equal(t, http.StatusOK, code, string(b))
	fits, err := fitsio.Open(bytes.NewReader(b))
	require.NoError(t, err)
	defer fits.Close()
	img, ok := fits.HDU(0).(fitsio.Image)
	require.True(t, ok)
	assert.Equal(t, []int{len(def.Wavelengths), def.Width, def.Height}, img.Header().Axes())

	code, b = get(t, r.srv.URL+"/capture?fmt=png&channel=1")
	require.Equal(t, http.StatusOK, code, string(b))
	pic, err := png.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	assert.Equal(t, def.Width, pic.Bounds().Dx())

	code, _ = get(t, r.srv.URL+"/capture?fmt=png&channel=99")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, r.srv.URL+"/capture?fmt=tiff")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, r.srv.URL+"/capture?timeout=soon")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCaptureStatuses(t *testing.T) {
	r := newRig(t, sim.Options{AsyncLatency: time.Second}, nil, nil)
	for _, to := range []string{"15ms", "20ms", "25ms", "37ms", "0.043"} {
		code, _ := get(t, r.srv.URL+"/capture?timeout="+to)
		assert.Equal(t, http.StatusGatewayTimeout, code, to)
	}

	require.NoError(t, r.acq.Close())
	code, _ := get(t, r.srv.URL+"/fps")
	assert.Equal(t, http.StatusGone, code)
}

func TestLockedAcquisition(t *testing.T) {
	lock := locker.New()
	r := newRig(t, sim.Options{}, nil, lock)
	u := r.srv.URL
	assert.Equal(t, http.StatusOK, post(t, u+"/lock", `{"bool":true}`))
	assert.True(t, lock.Locked())
	assert.Equal(t, http.StatusLocked, post(t, u+"/fps", `{"f64":3}`))
	code, _ := get(t, u+"/fps")
	assert.Equal(t, http.StatusOK, code, "reads pass a lock")
	_, b := get(t, u+"/lock")
	assert.JSONEq(t, `{"bool":true}`, string(b))
	assert.Equal(t, http.StatusOK, post(t, u+"/lock", `{"bool":false}`))
	assert.Equal(t, http.StatusOK, post(t, u+"/fps", `{"f64":3}`))
}

func TestWorkerRoutes(t *testing.T) {
	lib, err := cuvis.Init(sim.New(sim.Options{}), "")
	require.NoError(t, err)
	defer lib.Shutdown()
	w, err := lib.NewWorker(cuvis.DefaultWorkerSettings())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	feed := sessionwatch.NewFeeder(lib, w)
	feed.Interval = 5 * time.Millisecond
	defer feed.Wait()
	defer cancel()
	h := hsi.NewWorkerHTTP(ctx, w, feed, nil)
	mux := chi.NewRouter()
	h.RT().Bind(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	u := srv.URL

	path := filepath.Join(t.TempDir(), "run"+cuvis.SessionExt)
	require.NoError(t, sim.WriteSession(path, sim.SessionDesc{Calibration: sim.DefaultCalibration(), Frames: 5}))

	code, _ := get(t, u+"/next?timeout=10ms")
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, http.StatusBadRequest, post(t, u+"/ingest", `{}`))
	assert.Equal(t, http.StatusBadRequest, post(t, u+"/ingest", `{`))

	assert.Equal(t, http.StatusOK, post(t, u+"/start", ""))
	_, b := get(t, u+"/processing")
	assert.JSONEq(t, `{"bool":true}`, string(b))
	body, _ := json.Marshal(hsi.IngestRequest{Path: path, Selection: "1-3"})
	assert.Equal(t, http.StatusOK, post(t, u+"/ingest", string(body)))

	var ids []int
	for i := 0; i < 3; i++ {
		code, b := get(t, u+"/next?fmt=json&timeout=5s")
		require.Equal(t, http.StatusOK, code, string(b))
		var sum hsi.Summary
		require.NoError(t, json.Unmarshal(b, &sum))
		ids = append(ids, sum.Metadata.FrameID)
	}
	assert.Equal(t, []int{1, 2, 3}, ids)

	code, b = get(t, u+"/progress")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"read":3,"total":3}`, string(b))

	assert.Equal(t, http.StatusOK, post(t, u+"/can-drop-results", `{"bool":true}`))
	ok, err := w.CanDropResults()
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, http.StatusOK, post(t, u+"/stop", ""))
	assert.Equal(t, http.StatusOK, post(t, u+"/drop", ""))
	code, b = get(t, u+"/state")
	require.Equal(t, http.StatusOK, code)
	var st cuvis.WorkerState
	require.NoError(t, json.Unmarshal(b, &st))
	assert.False(t, st.IsProcessing)
}

func TestWorkerWithoutIngester(t *testing.T) {
	lib, err := cuvis.Init(sim.New(sim.Options{}), "")
	require.NoError(t, err)
	defer lib.Shutdown()
	w, err := lib.NewWorker(cuvis.DefaultWorkerSettings())
	require.NoError(t, err)
	defer w.Close()
	h := hsi.NewWorkerHTTP(context.Background(), w, nil, nil)
	_, ok := h.RT()[generichttp.MethodPath{Method: http.MethodPost, Path: "/ingest"}]
	assert.False(t, ok)
}

func TestQuicklookStretchesFloats(t *testing.T) {
	img := cuvis.ImageBuffer{Width: 2, Height: 1, Channels: 1, Format: cuvis.FormatFloat32, Data: make([]byte, 8)}
	// 0 and 1.0 little endian
	copy(img.Data[4:], []byte{0, 0, 0x80, 0x3f})
	g, err := hsi.Quicklook(img, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), g.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(65535), g.Gray16At(1, 0).Y)
}
