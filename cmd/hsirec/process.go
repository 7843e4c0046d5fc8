package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/util"
)

// Progress is a snapshot of a job, handed to the progress func
type Progress struct {
	// Read and Total count session frames, see Worker.QuerySessionProgress
	Read, Total int

	// Done counts results collected, Lost those skipped or dropped
	Done, Lost int
}

// Finished reports whether every selected frame is accounted for
func (p Progress) Finished() bool {
	return p.Read >= p.Total && p.Done+p.Lost >= p.Total
}

// job is one session file pushed through a worker
type job struct {
	lib *cuvis.Library
	cfg config

	// Poll is how long to wait for each result before reporting progress
	Poll time.Duration
}

// run processes path's frames picked by selection and calls progress after
// every result and every idle poll.  It returns the final progress.
func (j job) run(ctx context.Context, path, selection string, progress func(Progress)) (p Progress, err error) {
	sess, err := j.lib.LoadSessionFile(path)
	if err != nil {
		return p, err
	}
	proc, err := j.lib.NewProcessingContextFromSession(sess)
	if err != nil {
		sess.Close()
		return p, err
	}
	var exp *cuvis.Exporter
	w, err := j.lib.NewWorker(j.cfg.Worker)
	defer func() {
		var errs []error
		if w != nil {
			errs = append(errs, w.Close())
		}
		if exp != nil {
			errs = append(errs, exp.Close())
		}
		errs = append(errs, proc.Close(), sess.Close(), err)
		err = util.MergeErrors(errs)
	}()
	if err != nil {
		return p, err
	}

	mode, err := cuvis.ParseProcessingMode(j.cfg.ProcessingMode)
	if err != nil {
		return p, err
	}
	if err = proc.SetProcessingMode(mode); err != nil {
		return p, err
	}
	if err = w.SetProcessingContext(proc); err != nil {
		return p, err
	}
	if exp, err = newExporter(j.lib, j.cfg.Export); err != nil {
		return p, err
	}
	if err = w.SetExporter(exp); err != nil {
		return p, err
	}
	if err = w.StartProcessing(); err != nil {
		return p, err
	}
	if err = w.IngestSessionFile(sess, selection); err != nil {
		return p, err
	}

	poll := j.Poll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	for {
		res, err := w.GetNextResultContext(ctx, poll)
		switch {
		case err == nil:
			p.Done++
			if md, merr := res.Measurement.Metadata(); merr == nil {
				log.Debug("processed", "frame", md.FrameID, "name", md.Name)
			}
			res.Close()
		case cuvis.IsTimeout(err):
		default:
			return p, err
		}
		if p.Read, p.Total, err = w.QuerySessionProgress(); err != nil {
			return p, err
		}
		st, err := w.State()
		if err != nil {
			return p, err
		}
		p.Lost = st.Skipped + st.Dropped
		progress(p)
		if p.Finished() {
			return p, w.StopProcessing()
		}
	}
}

func newExporter(lib *cuvis.Library, e export) (*cuvis.Exporter, error) {
	kind, err := cuvis.ParseExporterKind(e.Kind)
	if err != nil {
		return nil, err
	}
	ge := cuvis.DefaultGeneralExportSettings()
	ge.ExportDir = e.Dir
	ge.ChannelSelection = e.ChannelSelection
	ge.Permissive = e.Permissive
	switch kind {
	case cuvis.ExportTiff:
		return lib.NewTiffExporter(ge, cuvis.TiffExportSettings{Format: cuvis.TiffSingle})
	case cuvis.ExportEnvi:
		return lib.NewEnviExporter(ge)
	case cuvis.ExportView:
		return lib.NewViewExporter(ge, cuvis.ViewExportSettings{Userplugin: e.Userplugin})
	}
	args := cuvis.DefaultSaveArgs()
	args.AllowOverwrite = e.AllowOverwrite
	return lib.NewCubeExporter(ge, args)
}
