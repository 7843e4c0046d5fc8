// Package generichttp defines interfaces for generic devices
// and an extensible type that wraps them in an HTTP interface
package generichttp

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.jpl.nasa.gov/bdube/hsicam/server"
	"github.jpl.nasa.gov/bdube/hsicam/util"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method, Path string
}

// RouteTable maps method+path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the endpoints in a RouteTable as "METHOD /path", sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind binds every route in the table onto r, plus a GET /endpoints route
// listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
	r.Get("/endpoints", func(w http.ResponseWriter, _ *http.Request) {
		server.ReplyWithJSON(w, rt.Endpoints())
	})
}

// HTTPer is an object which owns a route table that others may inject into
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize turns a mount point from a config file into something chi
// accepts: a leading slash and no trailing slash, "/" for the root
func SubMuxSanitize(str string) string {
	str = "/" + strings.Trim(str, "/")
	return str
}

var (
	statusMu sync.RWMutex
	statuses []statusEntry
)

type statusEntry struct {
	target error
	code   int
}

// RegisterStatus makes Error answer code for any error matching target under
// errors.Is.  Registrations are checked in order, the first match wins.
func RegisterStatus(target error, code int) {
	statusMu.Lock()
	defer statusMu.Unlock()
	statuses = append(statuses, statusEntry{target, code})
}

// StatusCoder is an error which knows its own HTTP status
type StatusCoder interface {
	StatusCode() int
}

type badRequest struct{ error }

func (badRequest) StatusCode() int { return http.StatusBadRequest }

func (b badRequest) Unwrap() error { return b.error }

// BadRequest marks err as the client's fault
func BadRequest(err error) error {
	return badRequest{err}
}

// StatusOf is the HTTP status Error uses for err: the error's own, if it is
// a StatusCoder, else the first registered match, else 500
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	statusMu.RLock()
	defer statusMu.RUnlock()
	for _, s := range statuses {
		if errors.Is(err, s.target) {
			return s.code
		}
	}
	return http.StatusInternalServerError
}

// Error replies with err's message and the status from StatusOf
func Error(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusOf(err))
}

// GetFloat calls a float-getting function and returns the response
// as json {'f64': value}
func GetFloat(fcn func() (float64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Float64, Float: f}
		hp.EncodeAndRespond(w, r)
	}
}

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := server.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Int, Int: i}
		hp.EncodeAndRespond(w, r)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := server.IntT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.Int)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := server.HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := server.StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			Error(w, err)
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetDuration calls a duration-getting function and returns the response
// as json {'f64': seconds}
func GetDuration(fcn func() (time.Duration, error)) http.HandlerFunc {
	return GetFloat(func() (float64, error) {
		d, err := fcn()
		return d.Seconds(), err
	})
}

// SetDuration sets a duration from a query parameter parseable by
// time.ParseDuration, or from a json payload of {'f64': seconds}
func SetDuration(param string, fcn func(time.Duration) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			d   time.Duration
			err error
		)
		if s := r.URL.Query().Get(param); s != "" {
			d, err = ParseDuration(s)
		} else {
			f := server.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			d = util.SecsToDuration(f.F64)
		}
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(d)
		if err != nil {
			Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// ParseDuration is time.ParseDuration, except a bare number is in seconds
func ParseDuration(s string) (time.Duration, error) {
	if util.AllElementsNumbers(s) {
		s += "s"
	}
	return time.ParseDuration(s)
}
