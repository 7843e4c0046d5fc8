package cuvis

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// HandleKind identifies the native resource table a handle belongs to
type HandleKind int

const (
	KindCalibration HandleKind = iota
	KindSessionFile
	KindMeasurement
	KindAcquisitionContext
	KindProcessingContext
	KindExporter
	KindViewer
	KindView
	KindWorker
	KindAsyncCall
	KindAsyncCapture

	handleKindCount
)

var handleKindNames = [...]string{
	KindCalibration:        "calibration",
	KindSessionFile:        "session_file",
	KindMeasurement:        "measurement",
	KindAcquisitionContext: "acq_cont",
	KindProcessingContext:  "proc_cont",
	KindExporter:           "exporter",
	KindViewer:             "viewer",
	KindView:               "view",
	KindWorker:             "worker",
	KindAsyncCall:          "async_call",
	KindAsyncCapture:       "async_capture",
}

var _ = [1]struct{}{}[len(handleKindNames)-int(handleKindCount)]

func (k HandleKind) String() string {
	return enumName(handleKindNames[:], int(k), "HandleKind")
}

// AcqFeature is a scalar property of an acquisition context.
// Booleans are carried as 0/1 integers, as the native API does.
type AcqFeature int

const (
	AcqOperationMode   AcqFeature = iota // int, OperationMode
	AcqIntegrationTime                   // float, milliseconds
	AcqFPS                               // float
	AcqAverage                           // int
	AcqContinuous                        // bool
	AcqBandwidth                         // float, read only
	AcqAutoExp                           // bool
	AcqAutoExpComp                       // float
	AcqPreviewMode                       // bool
	AcqQueueSize                         // int
	AcqQueueUsed                         // int, read only

	acqFeatureCount
)

var acqFeatureNames = [...]string{
	AcqOperationMode:   "operation_mode",
	AcqIntegrationTime: "integration_time",
	AcqFPS:             "fps",
	AcqAverage:         "average",
	AcqContinuous:      "continuous",
	AcqBandwidth:       "bandwidth",
	AcqAutoExp:         "auto_exp",
	AcqAutoExpComp:     "auto_exp_comp",
	AcqPreviewMode:     "preview_mode",
	AcqQueueSize:       "queue_size",
	AcqQueueUsed:       "queue_used",
}

var _ = [1]struct{}{}[len(acqFeatureNames)-int(acqFeatureCount)]

func (f AcqFeature) String() string {
	return enumName(acqFeatureNames[:], int(f), "AcqFeature")
}

// CompFeature is a scalar property of one hardware component
type CompFeature int

const (
	CompOnline                CompFeature = iota // bool, read only
	CompTemperature                              // int, celsius, read only
	CompGain                                     // float
	CompIntegrationTimeFactor                    // float
	CompDriverQueueUsed                          // int, read only
	CompDriverQueueSize                          // int, read only
	CompHardwareQueueUsed                        // int, read only
	CompHardwareQueueSize                        // int, read only

	compFeatureCount
)

var compFeatureNames = [...]string{
	CompOnline:                "online",
	CompTemperature:           "temperature",
	CompGain:                  "gain",
	CompIntegrationTimeFactor: "integration_time_factor",
	CompDriverQueueUsed:       "driver_queue_used",
	CompDriverQueueSize:       "driver_queue_size",
	CompHardwareQueueUsed:     "hardware_queue_used",
	CompHardwareQueueSize:     "hardware_queue_size",
}

var _ = [1]struct{}{}[len(compFeatureNames)-int(compFeatureCount)]

func (f CompFeature) String() string {
	return enumName(compFeatureNames[:], int(f), "CompFeature")
}

// WorkerFeature is a scalar property of a worker
type WorkerFeature int

const (
	WorkerQueueUsed                 WorkerFeature = iota // results waiting in the output queue
	WorkerInputQueueLimit                                // read only
	WorkerMandatoryQueueLimit                            // read only
	WorkerSupplementaryQueueLimit                        // read only
	WorkerOutputQueueLimit                               // read only
	WorkerThreadsBusy                                    // read only
	WorkerIsProcessing                                   // bool, read only
	WorkerCanDropResults                                 // bool
	WorkerCanSkipMeasurements                            // bool
	WorkerCanSkipSupplementarySteps                      // bool

	workerFeatureCount
)

var workerFeatureNames = [...]string{
	WorkerQueueUsed:                 "queue_used",
	WorkerInputQueueLimit:           "input_queue_limit",
	WorkerMandatoryQueueLimit:       "mandatory_queue_limit",
	WorkerSupplementaryQueueLimit:   "supplementary_queue_limit",
	WorkerOutputQueueLimit:          "output_queue_limit",
	WorkerThreadsBusy:               "threads_busy",
	WorkerIsProcessing:              "is_processing",
	WorkerCanDropResults:            "can_drop_results",
	WorkerCanSkipMeasurements:       "can_skip_measurements",
	WorkerCanSkipSupplementarySteps: "can_skip_supplementary_steps",
}

var _ = [1]struct{}{}[len(workerFeatureNames)-int(workerFeatureCount)]

func (f WorkerFeature) String() string {
	return enumName(workerFeatureNames[:], int(f), "WorkerFeature")
}

// Native is the call surface of the vendor SDK.  Every method maps to one
// native entry point; handles are plain integers and every call reports a
// Status.  LastError returns the message describing the most recent failure.
//
// Implementations must be safe for concurrent use.
type Native interface {
	Init(settingsPath string) Status
	Version() string
	SetLogLevel(level LogLevel) Status
	LastError() string
	Shutdown() Status

	// Free releases a handle.  Calling it twice on the same handle is
	// undefined behavior in the real library.
	Free(kind HandleKind, id int) Status

	CalibrationLoad(path string) (int, Status)
	CalibrationInfo(cal int) (CalibrationInfo, Status)
	CalibrationCapabilities(cal int, mode OperationMode) (Capabilities, Status)

	SessionFileLoad(path string) (int, Status)
	SessionFileSize(sess int, item SessionItemType) (int, Status)
	SessionFileMeasurement(sess, frame int, item SessionItemType) (int, Status)
	SessionFileReference(sess, frame int, ref ReferenceType) (int, Status)
	SessionFileFPS(sess int) (float64, Status)
	SessionFileOperationMode(sess int) (OperationMode, Status)
	SessionFileHash(sess int) (string, Status)

	MeasurementLoad(path string) (int, Status)
	MeasurementClone(mesu int) (int, Status)
	MeasurementMetadata(mesu int) (Metadata, Status)
	MeasurementData(mesu int) (MeasurementData, Status)
	MeasurementSetName(mesu int, name string) Status
	MeasurementSetComment(mesu int, comment string) Status
	MeasurementSave(mesu int, ge GeneralExportSettings, args SaveArgs) Status

	AcqCreateFromCalibration(cal int) (int, Status)
	AcqCreateFromSessionFile(sess int, simulate bool) (int, Status)
	AcqState(acq int) (HardwareState, Status)
	AcqComponentCount(acq int) (int, Status)
	AcqComponentInfo(acq, idx int) (ComponentInfo, Status)
	AcqGetInt(acq int, f AcqFeature) (int, Status)
	AcqSetInt(acq int, f AcqFeature, v int) Status
	AcqSetIntAsync(acq int, f AcqFeature, v int) (int, Status)
	AcqGetFloat(acq int, f AcqFeature) (float64, Status)
	AcqSetFloat(acq int, f AcqFeature, v float64) Status
	AcqSetFloatAsync(acq int, f AcqFeature, v float64) (int, Status)
	AcqSessionInfo(acq int) (SessionInfo, Status)
	AcqSetSessionInfo(acq int, info SessionInfo) Status
	AcqCapture(acq int, timeoutMs int) (int, Status)
	AcqCaptureAsync(acq int) (int, Status)
	AcqHasNextMeasurement(acq int) (bool, Status)
	AcqGetNextMeasurement(acq int, timeoutMs int) (int, Status)

	CompGetInt(acq, idx int, f CompFeature) (int, Status)
	CompGetFloat(acq, idx int, f CompFeature) (float64, Status)
	CompSetFloat(acq, idx int, f CompFeature, v float64) Status
	CompSetFloatAsync(acq, idx int, f CompFeature, v float64) (int, Status)

	// AsyncCallGet waits up to timeoutMs for a setter to complete.
	// It returns StatusOK, StatusDeferred, StatusOverwritten or StatusTimeout
	// in the normal course of things.
	AsyncCallGet(id int, timeoutMs int) Status
	AsyncCallStatus(id int) Status
	AsyncCaptureGet(id int, timeoutMs int) (int, Status)
	AsyncCaptureStatus(id int) Status

	ProcCreateFromCalibration(cal int) (int, Status)
	ProcCreateFromSessionFile(sess int) (int, Status)
	ProcCreateFromMeasurement(mesu int) (int, Status)
	ProcApply(proc, mesu int) Status
	ProcSetArgs(proc int, args ProcessingArgs) Status
	ProcSetReference(proc, mesu int, ref ReferenceType) Status
	ProcClearReference(proc int, ref ReferenceType) Status
	ProcGetReference(proc int, ref ReferenceType) (int, Status)
	ProcHasReference(proc int, ref ReferenceType) (bool, Status)
	ProcIsCapable(proc, mesu int, args ProcessingArgs) (bool, Status)
	ProcCalcDistance(proc int, distanceMM float64) Status
	ProcCalibrationID(proc int) (string, Status)

	ViewerCreate(settings ViewerSettings) (int, Status)
	ViewerApply(viewer, mesu int) (int, Status)
	ViewData(view int) (map[string]ImageBuffer, Status)

	ExporterCreateCube(ge GeneralExportSettings, args SaveArgs) (int, Status)
	ExporterCreateTiff(ge GeneralExportSettings, ts TiffExportSettings) (int, Status)
	ExporterCreateEnvi(ge GeneralExportSettings) (int, Status)
	ExporterCreateView(ge GeneralExportSettings, vs ViewExportSettings) (int, Status)
	ExporterApply(exp, mesu int) Status
	ExporterQueueUsed(exp int) (int, Status)

	WorkerCreate(settings WorkerSettings) (int, Status)
	// the setters take 0 to detach a stage
	WorkerSetAcquisitionContext(w, acq int) Status
	WorkerSetProcessingContext(w, proc int) Status
	WorkerSetExporter(w, exp int) Status
	WorkerSetViewer(w, viewer int) Status
	// WorkerSetSessionFile makes the worker replay sess while processing, 0
	// detaches
	WorkerSetSessionFile(w, sess int, skipDroppedFrames bool) Status
	// WorkerIngestMeasurement moves mesu into the worker.  The caller must
	// not free it afterwards.
	WorkerIngestMeasurement(w, mesu int) Status
	WorkerIngestSessionFile(w, sess int, selection string) Status
	WorkerQuerySessionProgress(w int) (read, total int, st Status)
	WorkerHasNextResult(w int) (bool, Status)
	WorkerGetNextResult(w int, timeoutMs int) (mesu, view int, st Status)
	WorkerStartProcessing(w int) Status
	WorkerStopProcessing(w int) Status
	WorkerDropAllQueued(w int) Status
	WorkerState(w int) (WorkerState, Status)
	WorkerGetInt(w int, f WorkerFeature) (int, Status)
	WorkerSetInt(w int, f WorkerFeature, v int) Status
}

// core is embedded by every wrapper and carries the native call surface
type core struct {
	Native
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// millis converts a wait budget to whole native milliseconds, rounding up so
// that a non-zero budget never becomes a zero-length poll
func millis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	if d >= math.MaxInt32*time.Millisecond {
		return math.MaxInt32
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// Millis converts an integer number of milliseconds to a Duration, for
// callers that carry timeouts the way the native API does
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// CalibrationInfo describes a factory calibration
type CalibrationInfo struct {
	ModelName       string    `json:"modelName"`
	SerialNumber    string    `json:"serialNumber"`
	CalibrationDate time.Time `json:"calibrationDate"`
	Annotation      string    `json:"annotation"`
	UniqueID        string    `json:"uniqueID"`
	FilePath        string    `json:"filePath"`
}

// ComponentInfo describes one hardware component of an acquisition context
type ComponentInfo struct {
	Type            ComponentType `json:"type"`
	DisplayName     string        `json:"displayName"`
	SensorInfo      string        `json:"sensorInfo"`
	UserField       string        `json:"userField"`
	Pixelformat     string        `json:"pixelFormat"`
	ProductName     string        `json:"productName"`
	SerialNumber    string        `json:"serialNumber"`
	FirmwareVersion string        `json:"firmwareVersion"`
}

// SessionInfo names the recording session a measurement belongs to
type SessionInfo struct {
	Name           string `json:"name" yaml:"Name"`
	SessionNumber  int    `json:"sessionNumber" yaml:"SessionNumber"`
	SequenceNumber int    `json:"sequenceNumber" yaml:"SequenceNumber"`
}

// Metadata is the descriptive part of a measurement
type Metadata struct {
	Name               string           `json:"name"`
	Path               string           `json:"path"`
	Comment            string           `json:"comment"`
	CaptureTime        time.Time        `json:"captureTime"`
	FactoryCalibration time.Time        `json:"factoryCalibration"`
	ProductName        string           `json:"productName"`
	SerialNumber       string           `json:"serialNumber"`
	Assembly           string           `json:"assembly"`
	IntegrationTime    time.Duration    `json:"integrationTime"`
	Averages           int              `json:"averages"`
	Distance           float64          `json:"distance"`
	FrameID            int              `json:"frameID"`
	ProcessingMode     ProcessingMode   `json:"processingMode"`
	Flags              MeasurementFlags `json:"flags"`
	Session            SessionInfo      `json:"session"`
}

// SensorInfo is the per-sensor state recorded with a measurement
type SensorInfo struct {
	Averages    int       `json:"averages"`
	Temperature int       `json:"temperature"`
	Gain        float64   `json:"gain"`
	ReadoutTime time.Time `json:"readoutTime"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
}

// GPSData is a position fix recorded with a measurement
type GPSData struct {
	Longitude float64   `json:"longitude"`
	Latitude  float64   `json:"latitude"`
	Altitude  float64   `json:"altitude"`
	Time      time.Time `json:"time"`
}

// MeasurementData holds every data item of a measurement, keyed by the
// native item names ("cube", "pan", "IMAGE_..." and so on)
type MeasurementData struct {
	Images  map[string]ImageBuffer `json:"images"`
	Strings map[string]string      `json:"strings"`
	GPS     map[string]GPSData     `json:"gps"`
	Sensors map[string]SensorInfo  `json:"sensors"`
}

// ImageBuffer is an image or cube copied out of the native library.
// Samples are little endian, interleaved by pixel: the sample for
// (x, y, c) is at ((y*Width)+x)*Channels + c.
type ImageBuffer struct {
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Channels    int         `json:"channels"`
	Format      ImageFormat `json:"format"`
	Wavelengths []uint32    `json:"wavelengths,omitempty"`
	Data        []byte      `json:"-"`
}

// Len is the number of samples in the buffer
func (b ImageBuffer) Len() int {
	return b.Width * b.Height * b.Channels
}

// Uint16 decodes a FormatUint16 buffer
func (b ImageBuffer) Uint16() ([]uint16, error) {
	if b.Format != FormatUint16 {
		return nil, fmt.Errorf("cuvis: image is %s, not uint16", b.Format)
	}
	if len(b.Data) < 2*b.Len() {
		return nil, fmt.Errorf("cuvis: image data holds %d bytes, need %d", len(b.Data), 2*b.Len())
	}
	out := make([]uint16, b.Len())
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b.Data[2*i:])
	}
	return out, nil
}

// Float32 decodes a FormatFloat32 buffer
func (b ImageBuffer) Float32() ([]float32, error) {
	if b.Format != FormatFloat32 {
		return nil, fmt.Errorf("cuvis: image is %s, not float32", b.Format)
	}
	if len(b.Data) < 4*b.Len() {
		return nil, fmt.Errorf("cuvis: image data holds %d bytes, need %d", len(b.Data), 4*b.Len())
	}
	out := make([]float32, b.Len())
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.Data[4*i:]))
	}
	return out, nil
}

// Channel extracts one channel as a Width*Height slice of uint16.  Uint8 and
// uint16 buffers are widened; other formats are rejected.
func (b ImageBuffer) Channel(c int) ([]uint16, error) {
	if c < 0 || c >= b.Channels {
		return nil, fmt.Errorf("cuvis: channel %d out of range [0,%d)", c, b.Channels)
	}
	bps := b.Format.BytesPerSample()
	if len(b.Data) < bps*b.Len() {
		return nil, fmt.Errorf("cuvis: image data holds %d bytes, need %d", len(b.Data), bps*b.Len())
	}
	n := b.Width * b.Height
	out := make([]uint16, n)
	switch b.Format {
	case FormatUint8:
		for i := 0; i < n; i++ {
			out[i] = uint16(b.Data[i*b.Channels+c])
		}
	case FormatUint16:
		for i := 0; i < n; i++ {
			out[i] = binary.LittleEndian.Uint16(b.Data[2*(i*b.Channels+c):])
		}
	default:
		return nil, fmt.Errorf("cuvis: cannot extract a channel from a %s image", b.Format)
	}
	return out, nil
}

// Sample reads sample i as a float, whatever the format
func (b ImageBuffer) Sample(i int) float64 {
	switch b.Format {
	case FormatUint8:
		return float64(b.Data[i])
	case FormatUint16:
		return float64(binary.LittleEndian.Uint16(b.Data[2*i:]))
	case FormatUint32:
		return float64(binary.LittleEndian.Uint32(b.Data[4*i:]))
	default:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b.Data[4*i:])))
	}
}

// Primary is the cube when the measurement was processed into one, otherwise
// the image with the most samples.  Ties go to the lower key.
func (d MeasurementData) Primary() (string, ImageBuffer, bool) {
	if b, ok := d.Images[CubeKey]; ok {
		return CubeKey, b, true
	}
	var (
		key  string
		best ImageBuffer
		ok   bool
	)
	for k, b := range d.Images {
		if !ok || b.Len() > best.Len() || (b.Len() == best.Len() && k < key) {
			key, best, ok = k, b, true
		}
	}
	return key, best, ok
}

// WorkerState is an aggregate snapshot of a worker's queues and flags
type WorkerState struct {
	MeasurementsInQueue        int  `json:"measurementsInQueue"`
	SessionFilesInQueue        int  `json:"sessionFilesInQueue"`
	FramesInQueue              int  `json:"framesInQueue"`
	MandatoryInQueue           int  `json:"mandatoryInQueue"`
	SupplementaryInQueue       int  `json:"supplementaryInQueue"`
	MeasurementsBeingProcessed int  `json:"measurementsBeingProcessed"`
	ResultsInQueue             int  `json:"resultsInQueue"`
	Skipped                    int  `json:"skipped"`
	Dropped                    int  `json:"dropped"`
	HasAcquisitionContext      bool `json:"hasAcquisitionContext"`
	IsProcessing               bool `json:"isProcessing"`
}
