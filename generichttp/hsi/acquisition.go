// Package hsi provides a generic HTTP interface to a hyperspectral camera and
// its processing worker
package hsi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/imgrec"
	"github.jpl.nasa.gov/bdube/hsicam/server"
)

// DefaultTimeout bounds captures and result waits when the request names no
// timeout
const DefaultTimeout = 10 * time.Second

func init() {
	generichttp.RegisterStatus(cuvis.ErrTimeout, http.StatusGatewayTimeout)
	generichttp.RegisterStatus(cuvis.ErrReleased, http.StatusGone)
}

// timeout reads the timeout query parameter, DefaultTimeout if absent
func timeout(r *http.Request) (time.Duration, error) {
	s := r.URL.Query().Get("timeout")
	if s == "" {
		return DefaultTimeout, nil
	}
	return generichttp.ParseDuration(s)
}

// AcquisitionHTTP wraps an acquisition context in an HTTP interface
type AcquisitionHTTP struct {
	acq *cuvis.AcquisitionContext
	rec *imgrec.Recorder
	rt  generichttp.RouteTable
}

// NewAcquisitionHTTP returns a new HTTP wrapper with the route table
// populated.  rec may be nil; when given, captured frames are recorded while
// it is enabled and its control routes are injected.
func NewAcquisitionHTTP(acq *cuvis.AcquisitionContext, rec *imgrec.Recorder) AcquisitionHTTP {
	h := AcquisitionHTTP{acq: acq, rec: rec}
	h.rt = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/state"}:      h.GetState,
		{Method: http.MethodGet, Path: "/components"}: h.GetComponents,
		{Method: http.MethodGet, Path: "/capture"}:    h.Capture,

		{Method: http.MethodGet, Path: "/integration-time"}:  generichttp.GetDuration(acq.IntegrationTime),
		{Method: http.MethodPost, Path: "/integration-time"}: generichttp.SetDuration("integrationTime", acq.SetIntegrationTime),
		{Method: http.MethodGet, Path: "/fps"}:               generichttp.GetFloat(acq.FPS),
		{Method: http.MethodPost, Path: "/fps"}:              generichttp.SetFloat(acq.SetFPS),
		{Method: http.MethodGet, Path: "/average"}:           generichttp.GetInt(acq.Average),
		{Method: http.MethodPost, Path: "/average"}:          generichttp.SetInt(acq.SetAverage),
		{Method: http.MethodGet, Path: "/continuous"}:        generichttp.GetBool(acq.Continuous),
		{Method: http.MethodPost, Path: "/continuous"}:       generichttp.SetBool(acq.SetContinuous),
		{Method: http.MethodGet, Path: "/auto-exposure"}:     generichttp.GetBool(acq.AutoExp),
		{Method: http.MethodPost, Path: "/auto-exposure"}:    generichttp.SetBool(acq.SetAutoExp),
		{Method: http.MethodGet, Path: "/queue-size"}:        generichttp.GetInt(acq.QueueSize),
		{Method: http.MethodPost, Path: "/queue-size"}:       generichttp.SetInt(acq.SetQueueSize),
		{Method: http.MethodGet, Path: "/queue-used"}:        generichttp.GetInt(acq.QueueUsed),
		{Method: http.MethodGet, Path: "/bandwidth"}:         generichttp.GetFloat(acq.Bandwidth),

		{Method: http.MethodGet, Path: "/operation-mode"}: generichttp.GetString(func() (string, error) {
			m, err := acq.OperationMode()
			return m.String(), err
		}),
		{Method: http.MethodPost, Path: "/operation-mode"}: generichttp.SetString(func(s string) error {
			m, err := cuvis.ParseOperationMode(s)
			if err != nil {
				return generichttp.BadRequest(err)
			}
			return acq.SetOperationMode(m)
		}),
		{Method: http.MethodGet, Path: "/session-info"}:  h.GetSessionInfo,
		{Method: http.MethodPost, Path: "/session-info"}: h.SetSessionInfo,
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h AcquisitionHTTP) RT() generichttp.RouteTable {
	return h.rt
}

// GetState replies with the hardware state and component online flags
func (h AcquisitionHTTP) GetState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.acq.Snapshot(r.Context())
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	server.ReplyWithJSON(w, snap)
}

// ComponentReport is the JSON form of one component
type ComponentReport struct {
	Index                 int                 `json:"index"`
	Info                  cuvis.ComponentInfo `json:"info"`
	Online                bool                `json:"online"`
	Temperature           int                 `json:"temperature"`
	Gain                  float64             `json:"gain"`
	IntegrationTimeFactor float64             `json:"integrationTimeFactor"`
}

func report(c *cuvis.Component) (ComponentReport, error) {
	var (
		rep = ComponentReport{Index: c.Index()}
		err error
	)
	if rep.Info, err = c.Info(); err != nil {
		return rep, err
	}
	if rep.Online, err = c.Online(); err != nil {
		return rep, err
	}
	if rep.Temperature, err = c.Temperature(); err != nil {
		return rep, err
	}
	if rep.Gain, err = c.Gain(); err != nil {
		return rep, err
	}
	rep.IntegrationTimeFactor, err = c.IntegrationTimeFactor()
	return rep, err
}

// GetComponents replies with a report of every component
func (h AcquisitionHTTP) GetComponents(w http.ResponseWriter, r *http.Request) {
	comps, err := h.acq.Components()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	out := make([]ComponentReport, 0, len(comps))
	for _, c := range comps {
		rep, err := report(c)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		out = append(out, rep)
	}
	server.ReplyWithJSON(w, out)
}

// GetSessionInfo replies with the session name and numbering
func (h AcquisitionHTTP) GetSessionInfo(w http.ResponseWriter, r *http.Request) {
	s, err := h.acq.SessionInfo()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	server.ReplyWithJSON(w, s)
}

// SetSessionInfo replaces the session name and numbering from a JSON body
func (h AcquisitionHTTP) SetSessionInfo(w http.ResponseWriter, r *http.Request) {
	s := cuvis.SessionInfo{}
	err := json.NewDecoder(r.Body).Decode(&s)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = h.acq.SetSessionInfo(s); err != nil {
		generichttp.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Capture triggers a capture and replies with the measurement.
//
// the timeout query parameter bounds the wait, in any format accepted by
// time.ParseDuration or as a bare number of seconds.  fmt selects the reply,
// see writeMeasurement.
func (h AcquisitionHTTP) Capture(w http.ResponseWriter, r *http.Request) {
	d, err := timeout(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	op, err := h.acq.Capture()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	defer op.Close()
	ctx, cancel := context.WithTimeout(r.Context(), d)
	defer cancel()
	m, err := op.Await(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, "capture did not complete in "+d.String(), http.StatusGatewayTimeout)
			return
		}
		generichttp.Error(w, err)
		return
	}
	defer m.Close()
	writeMeasurement(w, r, m, h.rec)
}
