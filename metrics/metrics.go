// Package metrics exposes worker and acquisition state as prometheus gauges.
//
// Every value is read from the device when the registry is scraped, so the
// gauges never go stale.  A value which cannot be read, e.g. because the
// handle was closed, is reported as NaN.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/util"
)

// Namespace prefixes every metric name
const Namespace = "hsicam"

func orNaN(v float64, err error) float64 {
	if err != nil {
		return math.NaN()
	}
	return v
}

func intGauge(fcn func() (int, error)) func() float64 {
	return func() float64 {
		v, err := fcn()
		return orNaN(float64(v), err)
	}
}

func boolGauge(fcn func() (bool, error)) func() float64 {
	return func() float64 {
		v, err := fcn()
		if v {
			return orNaN(1, err)
		}
		return orNaN(0, err)
	}
}

func register(reg prometheus.Registerer, cs []prometheus.Collector) error {
	var errs []error
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return util.MergeErrors(errs)
}

// RegisterWorker registers gauges for w's queues and flags with reg.  name
// becomes the "worker" label so several workers may share a registry.
func RegisterWorker(reg prometheus.Registerer, name string, w *cuvis.Worker) error {
	labels := prometheus.Labels{"worker": name}
	gauge := func(metric, help string, fcn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Subsystem:   "worker",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, fcn)
	}
	counter := func(metric, help string, fcn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "worker",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, fcn)
	}
	field := func(get func(cuvis.WorkerState) int) func() float64 {
		return func() float64 {
			s, err := w.State()
			return orNaN(float64(get(s)), err)
		}
	}
	return register(reg, []prometheus.Collector{
		gauge("queue_used", "Items held by the worker across all queues.", intGauge(w.QueueUsed)),
		gauge("input_queue_limit", "Capacity of the input queue.", intGauge(w.InputQueueLimit)),
		gauge("mandatory_queue_limit", "Capacity of the mandatory processing queue.", intGauge(w.MandatoryQueueLimit)),
		gauge("supplementary_queue_limit", "Capacity of the supplementary processing queue.", intGauge(w.SupplementaryQueueLimit)),
		gauge("output_queue_limit", "Capacity of the result queue.", intGauge(w.OutputQueueLimit)),
		gauge("threads_busy", "Processing threads currently working.", intGauge(w.ThreadsBusy)),
		gauge("processing", "1 while the worker is processing.", boolGauge(w.IsProcessing)),
		gauge("input_queued", "Measurements and session frames waiting for processing.",
			field(func(s cuvis.WorkerState) int { return s.MeasurementsInQueue + s.FramesInQueue })),
		gauge("mandatory_queued", "Items in the mandatory processing queue.",
			field(func(s cuvis.WorkerState) int { return s.MandatoryInQueue })),
		gauge("supplementary_queued", "Items in the supplementary processing queue.",
			field(func(s cuvis.WorkerState) int { return s.SupplementaryInQueue })),
		gauge("results_queued", "Results waiting to be collected.",
			field(func(s cuvis.WorkerState) int { return s.ResultsInQueue })),
		counter("skipped_total", "Measurements skipped because a queue was full.",
			field(func(s cuvis.WorkerState) int { return s.Skipped })),
		counter("dropped_total", "Results dropped because the result queue was full.",
			field(func(s cuvis.WorkerState) int { return s.Dropped })),
	})
}

// RegisterAcquisition registers gauges for acq's hardware state and timing
// with reg, labeled camera=name
func RegisterAcquisition(reg prometheus.Registerer, name string, acq *cuvis.AcquisitionContext) error {
	labels := prometheus.Labels{"camera": name}
	gauge := func(metric, help string, fcn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Subsystem:   "acquisition",
			Name:        metric,
			Help:        help,
			ConstLabels: labels,
		}, fcn)
	}
	return register(reg, []prometheus.Collector{
		gauge("hardware_state", "0 online, 1 partially online, 2 offline.", func() float64 {
			s, err := acq.State()
			return orNaN(float64(s), err)
		}),
		gauge("components_online", "Number of components reporting online.", func() float64 {
			comps, err := acq.Components()
			if err != nil {
				return math.NaN()
			}
			n := 0
			for _, c := range comps {
				on, err := c.Online()
				if err != nil {
					return math.NaN()
				}
				if on {
					n++
				}
			}
			return float64(n)
		}),
		gauge("queue_used", "Frames held in the acquisition queue.", intGauge(acq.QueueUsed)),
		gauge("fps", "Configured frame rate, Hz.", func() float64 { return orNaN(acq.FPS()) }),
		gauge("integration_time_seconds", "Configured integration time.", func() float64 {
			d, err := acq.IntegrationTime()
			return orNaN(d.Seconds(), err)
		}),
		gauge("bandwidth", "Link bandwidth reported by the camera.", func() float64 { return orNaN(acq.Bandwidth()) }),
	})
}
