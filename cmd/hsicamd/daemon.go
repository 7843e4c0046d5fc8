package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp"
	"github.jpl.nasa.gov/bdube/hsicam/generichttp/hsi"
	"github.jpl.nasa.gov/bdube/hsicam/imgrec"
	"github.jpl.nasa.gov/bdube/hsicam/metrics"
	"github.jpl.nasa.gov/bdube/hsicam/server/middleware/locker"
	"github.jpl.nasa.gov/bdube/hsicam/serveraccess"
	"github.jpl.nasa.gov/bdube/hsicam/sessionwatch"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
	"github.jpl.nasa.gov/bdube/hsicam/util"
)

// daemon holds everything run starts, for Close to take down in reverse
type daemon struct {
	lib  *cuvis.Library
	cal  *cuvis.Calibration
	sess *cuvis.SessionFile
	acq  *cuvis.AcquisitionContext
	proc *cuvis.ProcessingContext
	exp  *cuvis.Exporter
	w    *cuvis.Worker
	rec  *imgrec.Recorder
	feed *sessionwatch.Feeder

	cancel    context.CancelFunc
	watchDone chan struct{}
	tmpDir    string

	Router   http.Handler
	Registry *prometheus.Registry
}

// build brings up the SDK, camera, and worker described by cfg and returns
// the daemon with its router ready to serve.  On error everything already
// opened is closed again.
func build(parent context.Context, cfg config) (d *daemon, err error) {
	ctx, cancel := context.WithCancel(parent)
	d = &daemon{cancel: cancel}
	defer func() {
		if err != nil {
			d.Close()
			d = nil
		}
	}()

	d.lib, err = cuvis.Init(sim.New(sim.Options{
		AsyncLatency:    cfg.Simulator.AsyncLatency,
		ProcessingDelay: cfg.Simulator.ProcessingDelay,
	}), cfg.Settings)
	if err != nil {
		return d, err
	}
	if err = d.lib.SetLogLevel(cfg.LogLevel); err != nil {
		return d, err
	}
	log.Info("SDK ready", "lib", d.lib)

	if err = d.openCamera(cfg.Camera); err != nil {
		return d, err
	}
	d.acq.RegisterStateChangeCallback(func(_ context.Context, state cuvis.HardwareState, comps []cuvis.ComponentState) {
		log.Info("hardware state changed", "state", state, "components", comps)
	})

	if err = d.openPipeline(cfg); err != nil {
		return d, err
	}

	d.rec = &imgrec.Recorder{Root: cfg.Recorder.Root, Prefix: cfg.Recorder.Prefix, Enabled: cfg.Recorder.Enabled}
	if cfg.RecordResults {
		if err = d.w.RegisterCallback(d.rec.HandleResult, cuvis.CallbackOptions{}); err != nil {
			return d, err
		}
	}
	d.feed = sessionwatch.NewFeeder(d.lib, d.w)
	if cfg.Watch.Dir != "" {
		d.watch(ctx, cfg.Watch)
	}

	d.Registry = prometheus.NewRegistry()
	err = util.MergeErrors([]error{
		d.Registry.Register(collectors.NewGoCollector()),
		metrics.RegisterAcquisition(d.Registry, "camera", d.acq),
		metrics.RegisterWorker(d.Registry, "main", d.w),
	})
	if err != nil {
		return d, err
	}
	d.Router = d.routes(ctx, cfg.Root)
	return d, nil
}

// openCamera creates the acquisition context, live from a calibration or
// replaying a session file, and applies the boot settings to a live one
func (d *daemon) openCamera(c camera) error {
	var err error
	if c.Playback != "" {
		if d.sess, err = d.lib.LoadSessionFile(c.Playback); err != nil {
			return err
		}
		d.acq, err = d.lib.NewAcquisitionContextFromSession(d.sess, true)
		if err == nil {
			log.Info("replaying session", "file", c.Playback)
		}
		return err
	}
	path := c.Calibration
	if path == "" {
		if d.tmpDir, err = os.MkdirTemp("", "hsicam-cal"); err != nil {
			return err
		}
		if path, err = sim.WriteCalibration(d.tmpDir, sim.DefaultCalibration()); err != nil {
			return err
		}
	}
	if d.cal, err = d.lib.LoadCalibration(path); err != nil {
		return err
	}
	info, err := d.cal.Info()
	if err != nil {
		return err
	}
	log.Info("calibration loaded", "model", info.ModelName, "serial", info.SerialNumber, "id", info.UniqueID)
	if d.acq, err = d.lib.NewAcquisitionContext(d.cal); err != nil {
		return err
	}

	mode, err := cuvis.ParseOperationMode(c.OperationMode)
	if err != nil {
		return err
	}
	return util.MergeErrors([]error{
		d.acq.SetOperationMode(mode),
		d.acq.SetIntegrationTime(c.IntegrationTime),
		d.acq.SetFPS(c.FPS),
		d.acq.SetAverage(c.Average),
		d.acq.SetContinuous(c.Continuous),
	})
}

// openPipeline creates the processing context, the optional exporter, and
// the worker tying them together
func (d *daemon) openPipeline(cfg config) error {
	var err error
	if d.sess != nil {
		d.proc, err = d.lib.NewProcessingContextFromSession(d.sess)
	} else {
		d.proc, err = d.lib.NewProcessingContext(d.cal)
	}
	if err != nil {
		return err
	}
	mode, err := cuvis.ParseProcessingMode(cfg.ProcessingMode)
	if err != nil {
		return err
	}
	if err = d.proc.SetProcessingMode(mode); err != nil {
		return err
	}

	if d.w, err = d.lib.NewWorker(cfg.Worker); err != nil {
		return err
	}
	if err = d.w.SetProcessingContext(d.proc); err != nil {
		return err
	}
	if cfg.Stream {
		if err = d.w.SetAcquisitionContext(d.acq); err != nil {
			return err
		}
	}
	if cfg.Export.Kind == "" {
		return nil
	}
	if d.exp, err = newExporter(d.lib, cfg.Export); err != nil {
		return err
	}
	log.Info("exporting results", "kind", d.exp.Kind(), "dir", cfg.Export.Dir)
	return d.w.SetExporter(d.exp)
}

func newExporter(lib *cuvis.Library, e export) (*cuvis.Exporter, error) {
	kind, err := cuvis.ParseExporterKind(e.Kind)
	if err != nil {
		return nil, err
	}
	ge := cuvis.DefaultGeneralExportSettings()
	ge.ExportDir = e.Dir
	ge.ChannelSelection = e.ChannelSelection
	switch kind {
	case cuvis.ExportCube:
		args := cuvis.DefaultSaveArgs()
		args.AllowOverwrite = e.AllowOverwrite
		return lib.NewCubeExporter(ge, args)
	case cuvis.ExportTiff:
		return lib.NewTiffExporter(ge, cuvis.TiffExportSettings{Compression: cuvis.TiffCompressionNone, Format: cuvis.TiffSingle})
	case cuvis.ExportEnvi:
		return lib.NewEnviExporter(ge)
	case cuvis.ExportView:
		return lib.NewViewExporter(ge, cuvis.ViewExportSettings{})
	}
	return nil, fmt.Errorf("no exporter for %s", kind)
}

// watch ingests session files dropped into w.Dir until ctx ends
func (d *daemon) watch(ctx context.Context, w watch) {
	watcher := sessionwatch.New(w.Dir, w.Selection, d.feed)
	d.watchDone = make(chan struct{})
	go func() {
		defer close(d.watchDone)
		if err := watcher.Run(ctx); err != nil {
			log.Error("session watcher stopped", "err", err)
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-watcher.Errors():
				log.Warn("session watcher", "err", err)
			}
		}
	}()
}

// routes mounts the camera under root/camera and the worker under
// root/worker, both behind one lock and one user claim, and serves metrics
// at /metrics
func (d *daemon) routes(ctx context.Context, root string) http.Handler {
	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "-active")
	users := &serveraccess.Tracker{}
	acqH := hsi.NewAcquisitionHTTP(d.acq, d.rec)
	wrkH := hsi.NewWorkerHTTP(ctx, d.w, d.feed, d.rec)
	for _, h := range []generichttp.HTTPer{acqH, wrkH} {
		locker.Inject(h, lock)
		users.Inject(h)
	}

	cam := chi.NewRouter()
	cam.Use(lock.Check)
	acqH.RT().Bind(cam)
	wrk := chi.NewRouter()
	wrk.Use(lock.Check)
	wrkH.RT().Bind(wrk)

	mux := chi.NewRouter()
	mux.Mount("/camera", cam)
	mux.Mount("/worker", wrk)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: cuvis.Logger().StandardLog(), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	r.Mount(generichttp.SubMuxSanitize(root), mux)
	return r
}

// Close stops the watcher and result callback and frees every native
// resource, reporting all failures
func (d *daemon) Close() error {
	d.cancel()
	if d.watchDone != nil {
		<-d.watchDone
	}
	if d.feed != nil {
		d.feed.Wait()
	}
	var errs []error
	closeIf := func(ok bool, fcn func() error) {
		if ok {
			errs = append(errs, fcn())
		}
	}
	if d.w != nil {
		d.w.ResetCallback()
	}
	closeIf(d.w != nil, func() error { return d.w.Close() })
	closeIf(d.exp != nil, func() error { return d.exp.Close() })
	closeIf(d.proc != nil, func() error { return d.proc.Close() })
	if d.acq != nil {
		d.acq.ResetStateChangeCallback()
	}
	closeIf(d.acq != nil, func() error { return d.acq.Close() })
	closeIf(d.sess != nil, func() error { return d.sess.Close() })
	closeIf(d.cal != nil, func() error { return d.cal.Close() })
	closeIf(d.lib != nil, func() error { return d.lib.Shutdown() })
	closeIf(d.tmpDir != "", func() error { return os.RemoveAll(d.tmpDir) })
	return util.MergeErrors(errs)
}
