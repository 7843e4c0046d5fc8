// Package sessionwatch feeds session files into a cuvis worker: a Feeder
// ingests files by path, and a Watcher ingests every session file that
// appears in a folder.
package sessionwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

const (
	// DefaultSettle is how long a new file's size must hold still before it
	// is loaded
	DefaultSettle = 250 * time.Millisecond

	// DefaultMaxWait bounds the wait for a file to settle
	DefaultMaxWait = time.Minute
)

var errGrowing = errors.New("file still growing")

// Watcher ingests session files as they appear in Dir.  A file is loaded
// once its size stops changing; each path is ingested at most once.
type Watcher struct {
	// Dir is the folder watched, not recursively
	Dir string

	// Selection is the frame selection passed to the worker
	Selection string

	// Settle and MaxWait tune the wait for a file to be completely written
	Settle, MaxWait time.Duration

	feed *Feeder
	errs chan error

	mu   sync.Mutex
	seen map[string]bool
	wg   sync.WaitGroup
}

// New returns a watcher of dir feeding feed
func New(dir, selection string, feed *Feeder) *Watcher {
	return &Watcher{
		Dir:       dir,
		Selection: selection,
		Settle:    DefaultSettle,
		MaxWait:   DefaultMaxWait,
		feed:      feed,
		errs:      make(chan error, 16),
		seen:      map[string]bool{},
	}
}

// Errors carries failures to settle or ingest a file.  When nobody reads
// it, errors beyond its buffer are logged and discarded.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

func (w *Watcher) report(err error) {
	select {
	case w.errs <- err:
	default:
		log.Error("session watcher", "err", err)
	}
}

// Run watches until ctx ends.  Files still settling when ctx ends are
// abandoned; Run returns once their goroutines have exited.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err = fsw.Add(w.Dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.Dir, err)
	}
	log.Info("watching for session files", "dir", w.Dir, "ext", cuvis.SessionExt)
	defer w.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), cuvis.SessionExt) || !w.claim(ev.Name) {
				continue
			}
			w.wg.Add(1)
			go w.handle(ctx, ev.Name)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.report(err)
		}
	}
}

// claim marks path as handled, false if it already was
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seen[path] {
		return false
	}
	w.seen[path] = true
	return true
}

func (w *Watcher) handle(ctx context.Context, path string) {
	defer w.wg.Done()
	if err := Settle(ctx, path, w.Settle, w.MaxWait); err != nil {
		if ctx.Err() == nil {
			w.report(fmt.Errorf("waiting for %s: %w", path, err))
		}
		return
	}
	if err := w.feed.Ingest(ctx, path, w.Selection); err != nil {
		w.report(fmt.Errorf("ingesting %s: %w", path, err))
	}
}

// Settle waits until the file at path is non-empty and its size held still
// for one window.  The poll interval grows from window to four windows; the
// wait gives up after maxWait.
func Settle(ctx context.Context, path string, window, maxWait time.Duration) error {
	if window <= 0 {
		window = DefaultSettle
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = window
	b.MaxInterval = 4 * window
	b.MaxElapsedTime = maxWait
	last := int64(-1)
	op := func() error {
		st, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if st.Size() == 0 || st.Size() != last {
			last = st.Size()
			return errGrowing
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}
