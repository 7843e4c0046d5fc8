package cuvis

import "sync"

// handle is the single owner of one native resource.  It is move-only:
// take hands the id to a new owner and leaves this handle dead, release frees
// the resource once.  Every access after either returns ErrReleased, so a
// wrapper can never double free or touch a freed id.
type handle struct {
	mu   sync.Mutex
	c    core
	kind HandleKind
	id   int
	live bool
}

func (c core) own(kind HandleKind, id int) *handle {
	return &handle{c: c, kind: kind, id: id, live: true}
}

// get returns the id for a call that does not change ownership
func (h *handle) get() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return 0, ErrReleased
	}
	return h.id, nil
}

// take moves the id out; the caller becomes responsible for freeing it
func (h *handle) take() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return 0, ErrReleased
	}
	h.live = false
	return h.id, nil
}

// give puts an id taken with take back, used when the new owner refused it
func (h *handle) give(id int) {
	h.mu.Lock()
	h.id, h.live = id, true
	h.mu.Unlock()
}

// release frees the native resource.  Only the first call reaches the
// native library.
func (h *handle) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.live {
		return nil
	}
	h.live = false
	return h.c.check(h.c.Free(h.kind, h.id), "free_"+h.kind.String())
}

func (h *handle) alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}
