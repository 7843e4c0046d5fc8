package hsi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/imgrec"
	"github.jpl.nasa.gov/bdube/hsicam/server"
)

// Ingester queues the frames of a session file on disk
type Ingester interface {
	Ingest(ctx context.Context, path, selection string) error
}

// IngestRequest is the body of POST /ingest
type IngestRequest struct {
	Path      string `json:"path"`
	Selection string `json:"selection"`
}

// Progress is the reply of GET /progress
type Progress struct {
	Read  int `json:"read"`
	Total int `json:"total"`
}

// WorkerHTTP wraps a processing worker in an HTTP interface
type WorkerHTTP struct {
	w      *cuvis.Worker
	ingest Ingester
	rec    *imgrec.Recorder

	// ctx outlives requests; sessions ingested over HTTP are held open
	// against it
	ctx context.Context
	rt  generichttp.RouteTable
}

// NewWorkerHTTP returns a new HTTP wrapper with the route table populated.
// ingest serves POST /ingest, which is absent when ingest is nil.  rec may
// be nil.  ctx scopes work started by requests that outlives them.
func NewWorkerHTTP(ctx context.Context, w *cuvis.Worker, ingest Ingester, rec *imgrec.Recorder) WorkerHTTP {
	h := WorkerHTTP{w: w, ingest: ingest, rec: rec, ctx: ctx}
	h.rt = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/state"}:      h.GetState,
		{Method: http.MethodGet, Path: "/progress"}:   h.GetProgress,
		{Method: http.MethodPost, Path: "/start"}:     action(w.StartProcessing),
		{Method: http.MethodPost, Path: "/stop"}:      action(w.StopProcessing),
		{Method: http.MethodPost, Path: "/drop"}:      action(w.DropAllQueued),
		{Method: http.MethodGet, Path: "/next"}:       h.Next,
		{Method: http.MethodGet, Path: "/processing"}: generichttp.GetBool(w.IsProcessing),

		{Method: http.MethodGet, Path: "/can-drop-results"}:              generichttp.GetBool(w.CanDropResults),
		{Method: http.MethodPost, Path: "/can-drop-results"}:             generichttp.SetBool(w.SetCanDropResults),
		{Method: http.MethodGet, Path: "/can-skip-measurements"}:         generichttp.GetBool(w.CanSkipMeasurements),
		{Method: http.MethodPost, Path: "/can-skip-measurements"}:        generichttp.SetBool(w.SetCanSkipMeasurements),
		{Method: http.MethodGet, Path: "/can-skip-supplementary-steps"}:  generichttp.GetBool(w.CanSkipSupplementarySteps),
		{Method: http.MethodPost, Path: "/can-skip-supplementary-steps"}: generichttp.SetBool(w.SetCanSkipSupplementarySteps),
	}
	if ingest != nil {
		h.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/ingest"}] = h.Ingest
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h WorkerHTTP) RT() generichttp.RouteTable {
	return h.rt
}

func action(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fcn(); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetState replies with the worker's queue occupancy and flags
func (h WorkerHTTP) GetState(w http.ResponseWriter, r *http.Request) {
	st, err := h.w.State()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	server.ReplyWithJSON(w, st)
}

// GetProgress replies with the session frames read and selected
func (h WorkerHTTP) GetProgress(w http.ResponseWriter, r *http.Request) {
	read, total, err := h.w.QuerySessionProgress()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	server.ReplyWithJSON(w, Progress{Read: read, Total: total})
}

// Ingest queues a session file named by an IngestRequest body
func (h WorkerHTTP) Ingest(w http.ResponseWriter, r *http.Request) {
	req := IngestRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	if err = h.ingest.Ingest(h.ctx, req.Path, req.Selection); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Next waits for the next result and replies with it.  The wait polls the
// worker and ends early if the client goes away.  See Capture for the
// timeout and fmt parameters.
func (h WorkerHTTP) Next(w http.ResponseWriter, r *http.Request) {
	d, err := timeout(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.w.GetNextResultContext(r.Context(), d)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		generichttp.Error(w, err)
		return
	}
	defer res.Close()
	writeMeasurement(w, r, res.Measurement, h.rec)
}
