package sessionwatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

// DefaultProgressInterval is how often a Feeder checks whether a session's
// frames have been read
const DefaultProgressInterval = 50 * time.Millisecond

var errUnread = errors.New("session frames not read yet")

// Feeder loads session files and ingests them into a worker.  Each session
// is held open until the worker has read its frames, then closed.
type Feeder struct {
	lib *cuvis.Library
	w   *cuvis.Worker

	// Interval is the progress poll period, DefaultProgressInterval if zero
	Interval time.Duration

	wg   sync.WaitGroup
	mu   sync.Mutex
	open map[string]int
}

// NewFeeder returns a Feeder for w
func NewFeeder(lib *cuvis.Library, w *cuvis.Worker) *Feeder {
	return &Feeder{lib: lib, w: w, open: map[string]int{}}
}

// Ingest loads the session at path and queues the frames matched by
// selection.  The session is closed once the worker reports its frames read,
// or when ctx ends, whichever is first; cancel ctx only after the worker has
// stopped or dropped its queue.
func (f *Feeder) Ingest(ctx context.Context, path, selection string) error {
	sess, err := f.lib.LoadSessionFile(path)
	if err != nil {
		return err
	}
	if err = f.w.IngestSessionFile(sess, selection); err != nil {
		sess.Close()
		return err
	}
	// frames are read in ingest order, so this session is done once the
	// read count reaches the total as it stands now
	_, total, err := f.w.QuerySessionProgress()
	if err != nil {
		sess.Close()
		return err
	}
	f.mu.Lock()
	f.open[path]++
	f.mu.Unlock()
	f.wg.Add(1)
	go f.release(ctx, path, sess, total)
	log.Info("ingested session", "path", path, "selection", selection)
	return nil
}

func (f *Feeder) release(ctx context.Context, path string, sess *cuvis.SessionFile, total int) {
	defer f.wg.Done()
	iv := f.Interval
	if iv <= 0 {
		iv = DefaultProgressInterval
	}
	op := func() error {
		read, _, err := f.w.QuerySessionProgress()
		if err != nil {
			return backoff.Permanent(err)
		}
		if read < total {
			return errUnread
		}
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(iv), ctx))
	switch {
	case err == nil:
	case ctx.Err() != nil:
		log.Debug("releasing session on shutdown", "path", path)
	default:
		log.Warn("releasing session before its frames were read", "path", path, "err", err)
	}
	if err := sess.Close(); err != nil {
		log.Error("closing session", "path", path, "err", err)
	}
	f.mu.Lock()
	if f.open[path]--; f.open[path] <= 0 {
		delete(f.open, path)
	}
	f.mu.Unlock()
}

// Open lists the session files currently held open
func (f *Feeder) Open() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.open))
	for p := range f.open {
		out = append(out, p)
	}
	return out
}

// Wait blocks until every ingested session has been closed
func (f *Feeder) Wait() {
	f.wg.Wait()
}
