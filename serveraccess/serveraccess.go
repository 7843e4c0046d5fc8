// Package serveraccess tracks which user has claimed a server, so that
// people sharing a camera can see who is driving it before they lock it
package serveraccess

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/server"
)

// ServerStatus holds the current user, if the server is busy, and when the user
// took control
type ServerStatus struct {
	User       string    `json:"user"`
	Busy       bool      `json:"busy"`
	WhenAuthed time.Time `json:"whenAuthed"`
}

// AuthRequest is a passthrough struct allowing a User variale to be extracted
// from JSON
type AuthRequest struct {
	User string `json:"user"`
}

// Tracker is a ServerStatus safe for concurrent use
type Tracker struct {
	mu   sync.Mutex
	stat ServerStatus
	now  func() time.Time
}

// Status returns a copy of the current status
func (t *Tracker) Status() ServerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stat
}

// Claim marks the server busy on behalf of user
func (t *Tracker) Claim(user string) {
	now := time.Now
	if t.now != nil {
		now = t.now
	}
	t.mu.Lock()
	t.stat = ServerStatus{User: user, Busy: true, WhenAuthed: now()}
	t.mu.Unlock()
}

// Release clears the claim and returns the status it replaced
func (t *Tracker) Release() ServerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.stat
	t.stat = ServerStatus{}
	return prev
}

// NotifyActive takes POST requests with json like {"user": "foo"} and
// claims the server for that user.  An empty user is a 400.
func (t *Tracker) NotifyActive(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var dat AuthRequest
	err := json.NewDecoder(r.Body).Decode(&dat)
	if err != nil || dat.User == "" {
		msg := "need JSON like {\"user\": \"name\"}"
		if err != nil {
			msg += ": " + err.Error()
		}
		log.Warn("notify-active", "err", msg, "from", r.RemoteAddr)
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	t.Claim(dat.User)
	log.Info("server claimed", "user", dat.User, "from", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
}

// ReleaseActive clears the claim regardless of who holds it
func (t *Tracker) ReleaseActive(w http.ResponseWriter, r *http.Request) {
	prev := t.Release()
	log.Info("server released", "user", prev.User, "since", prev.WhenAuthed.Format(time.RFC822), "by", r.RemoteAddr)
	w.WriteHeader(http.StatusOK)
}

// CheckActive replies with the JSON representation of the status
func (t *Tracker) CheckActive(w http.ResponseWriter, r *http.Request) {
	server.ReplyWithJSON(w, t.Status())
}

// Inject adds POST /notify-active, POST /release-active, and GET
// /check-active to the HTTPer
func (t *Tracker) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/notify-active"}] = t.NotifyActive
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/release-active"}] = t.ReleaseActive
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/check-active"}] = t.CheckActive
}
