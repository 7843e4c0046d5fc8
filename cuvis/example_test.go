package cuvis_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
	"github.jpl.nasa.gov/bdube/hsicam/sim"
)

func exampleCamera() (*cuvis.Library, *cuvis.AcquisitionContext, func()) {
	dir, err := os.MkdirTemp("", "cuvis")
	if err != nil {
		panic(err)
	}
	lib, err := cuvis.Init(sim.New(sim.Options{AsyncLatency: 5 * time.Millisecond}), "")
	if err != nil {
		panic(err)
	}
	path, err := sim.WriteCalibration(dir, sim.DefaultCalibration())
	if err != nil {
		panic(err)
	}
	cal, err := lib.LoadCalibration(path)
	if err != nil {
		panic(err)
	}
	acq, err := lib.NewAcquisitionContext(cal)
	if err != nil {
		panic(err)
	}
	return lib, acq, func() {
		acq.Close()
		cal.Close()
		lib.Shutdown()
		os.RemoveAll(dir)
	}
}

func ExampleAsync_Await() {
	_, acq, done := exampleCamera()
	defer done()

	op, err := acq.Capture()
	if err != nil {
		fmt.Println(err)
		return
	}
	defer op.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := op.Await(ctx)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer m.Close()
	res, _ := op.Result()
	md, _ := m.Metadata()
	fmt.Println(res, md.Name)
	// Output: done frame_000000
}

func ExampleWorker_GetNextResult() {
	lib, acq, done := exampleCamera()
	defer done()

	w, err := lib.NewWorker(cuvis.DefaultWorkerSettings())
	if err != nil {
		fmt.Println(err)
		return
	}
	defer w.Close()
	w.StartProcessing()
	for i := 0; i < 3; i++ {
		m, err := acq.CaptureAt(time.Second)
		if err != nil {
			fmt.Println(err)
			return
		}
		w.IngestMeasurement(m)
	}
	for i := 0; i < 3; i++ {
		res, err := w.GetNextResult(5 * time.Second)
		if err != nil {
			fmt.Println(err)
			return
		}
		md, _ := res.Measurement.Metadata()
		fmt.Println(md.FrameID)
		res.Close()
	}
	_, err = w.GetNextResult(time.Millisecond)
	fmt.Println(cuvis.IsTimeout(err))
	// Output:
	// 0
	// 1
	// 2
	// true
}

func ExampleSDKError() {
	err := fmt.Errorf("reading frame: %w", &cuvis.SDKError{
		Op:     "worker_get_next_result",
		Status: cuvis.StatusTimeout,
		Msg:    "no result within 10 ms",
	})
	var sdkErr *cuvis.SDKError
	if errors.As(err, &sdkErr) {
		fmt.Println(sdkErr.Status)
	}
	fmt.Println(errors.Is(err, cuvis.ErrTimeout))
	fmt.Println(err)
	// Output:
	// status_timeout
	// true
	// reading frame: cuvis: worker_get_next_result: no result within 10 ms (status_timeout)
}

func ExampleCapabilities_String() {
	caps := cuvis.CapAcquisitionCapture | cuvis.CapAcquisitionContinuous
	fmt.Println(caps.Has(cuvis.CapAcquisitionCapture), caps.Has(cuvis.CapAcquisitionSnapshot))
	fmt.Println(len(caps.Strings()))
	// Output:
	// true false
	// 2
}
