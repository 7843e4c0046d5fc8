package cuvis

import (
	"errors"
	"fmt"
	"time"
)

// GeneralExportSettings are shared by every exporter and by Measurement.Save
type GeneralExportSettings struct {
	// ExportDir is the folder files are written to
	ExportDir string `yaml:"ExportDir"`

	// ChannelSelection picks channels to export, "all" for every channel
	ChannelSelection string `yaml:"ChannelSelection"`

	// SpectraMultiplier scales spectral values before they are written
	SpectraMultiplier float64 `yaml:"SpectraMultiplier"`

	// PanScale is the upscale factor of the pan image, 0 for native resolution
	PanScale float64 `yaml:"PanScale"`

	PanSharpeningInterpolation PanSharpeningInterpolation `yaml:"PanSharpeningInterpolation"`
	PanSharpeningAlgorithm     PanSharpeningAlgorithm     `yaml:"PanSharpeningAlgorithm"`

	AddPan          bool `yaml:"AddPan"`
	AddFullscalePan bool `yaml:"AddFullscalePan"`

	// Permissive continues an export when a non-essential item fails
	Permissive bool `yaml:"Permissive"`
}

// DefaultGeneralExportSettings returns the settings the SDK documents as defaults
func DefaultGeneralExportSettings() GeneralExportSettings {
	return GeneralExportSettings{
		ExportDir:                  ".",
		ChannelSelection:           "all",
		SpectraMultiplier:          1,
		PanSharpeningInterpolation: InterpolationLinear,
		PanSharpeningAlgorithm:     PanCubertMacroPixel,
	}
}

// SaveArgs configure the cube exporter and Measurement.Save
type SaveArgs struct {
	AllowOverwrite     bool `yaml:"AllowOverwrite"`
	AllowFragmentation bool `yaml:"AllowFragmentation"`
	AllowDrop          bool `yaml:"AllowDrop"`
	AllowSessionFile   bool `yaml:"AllowSessionFile"`
	AllowInfoFile      bool `yaml:"AllowInfoFile"`

	OperationMode OperationMode `yaml:"OperationMode"`
	FPS           float64       `yaml:"FPS"`

	// SoftLimit and HardLimit bound the exporter's internal queue
	SoftLimit int `yaml:"SoftLimit"`
	HardLimit int `yaml:"HardLimit"`

	// MaxBufferTime is how long frames may wait in the exporter's queue
	MaxBufferTime time.Duration `yaml:"MaxBufferTime"`
}

// DefaultSaveArgs returns the save arguments the SDK documents as defaults
func DefaultSaveArgs() SaveArgs {
	return SaveArgs{
		AllowSessionFile: true,
		AllowInfoFile:    true,
		OperationMode:    OperationSoftware,
		SoftLimit:        20,
		HardLimit:        100,
		MaxBufferTime:    10 * time.Second,
	}
}

// TiffExportSettings configure the TIFF exporter
type TiffExportSettings struct {
	Compression TiffCompressionMode `yaml:"Compression"`
	Format      TiffFormat          `yaml:"Format"`
}

// ViewExportSettings configure the view exporter
type ViewExportSettings struct {
	// Userplugin is the XML of the view plugin, or a path to it
	Userplugin string `yaml:"Userplugin"`
}

// ProcessingArgs configure a processing context
type ProcessingArgs struct {
	AllowRecalib   bool           `json:"allowRecalib" yaml:"AllowRecalib"`
	ProcessingMode ProcessingMode `json:"processingMode" yaml:"ProcessingMode"`
}

// ViewerSettings configure a viewer
type ViewerSettings struct {
	Userplugin                 string                     `yaml:"Userplugin"`
	PanScale                   float64                    `yaml:"PanScale"`
	PanSharpeningInterpolation PanSharpeningInterpolation `yaml:"PanSharpeningInterpolation"`
	PanSharpeningAlgorithm     PanSharpeningAlgorithm     `yaml:"PanSharpeningAlgorithm"`

	// Complete requests every view item instead of the first
	Complete bool `yaml:"Complete"`
}

// WorkerSettings configure a worker's threads, queues and drop policy
type WorkerSettings struct {
	// WorkerCount is the number of processing threads, 0 picks one per CPU
	WorkerCount int `yaml:"WorkerCount"`

	// PollInterval is how often native threads check for new input
	PollInterval time.Duration `yaml:"PollInterval"`

	// KeepOutOfSequence lets results leave in completion order instead of
	// ingestion order
	KeepOutOfSequence bool `yaml:"KeepOutOfSequence"`

	InputQueueSize         int `yaml:"InputQueueSize"`
	MandatoryQueueSize     int `yaml:"MandatoryQueueSize"`
	SupplementaryQueueSize int `yaml:"SupplementaryQueueSize"`
	OutputQueueSize        int `yaml:"OutputQueueSize"`

	// CanSkipMeasurements drops incoming measurements instead of holding
	// them when the pipeline is full
	CanSkipMeasurements bool `yaml:"CanSkipMeasurements"`

	// CanSkipSupplementarySteps sends items straight to the output queue,
	// skipping export and view, when the supplementary queue is full
	CanSkipSupplementarySteps bool `yaml:"CanSkipSupplementarySteps"`

	// CanDropResults discards the oldest result when the output queue is full
	CanDropResults bool `yaml:"CanDropResults"`
}

// DefaultWorkerSettings returns moderate queue sizes with every drop policy off
func DefaultWorkerSettings() WorkerSettings {
	return WorkerSettings{
		PollInterval:           10 * time.Millisecond,
		InputQueueSize:         10,
		MandatoryQueueSize:     4,
		SupplementaryQueueSize: 4,
		OutputQueueSize:        10,
	}
}

// Validate rejects negative sizes and a zero output queue
func (s WorkerSettings) Validate() error {
	var errs []error
	check := func(name string, v int) {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be non-negative, got %d", name, v))
		}
	}
	check("WorkerCount", s.WorkerCount)
	check("InputQueueSize", s.InputQueueSize)
	check("MandatoryQueueSize", s.MandatoryQueueSize)
	check("SupplementaryQueueSize", s.SupplementaryQueueSize)
	check("OutputQueueSize", s.OutputQueueSize)
	if s.OutputQueueSize == 0 {
		errs = append(errs, errors.New("OutputQueueSize must be at least 1"))
	}
	if s.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("PollInterval must be non-negative, got %v", s.PollInterval))
	}
	return errors.Join(errs...)
}
