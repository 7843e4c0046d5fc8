package cuvis

import (
	"fmt"
	"strings"
)

// every enum below carries a name table keyed by its constants.  The blank
// array index after each table fails to compile when a constant is added
// without growing the table, so translation is exhaustive by construction.

func enumName(names []string, i int, kind string) string {
	if i < 0 || i >= len(names) || names[i] == "" {
		return fmt.Sprintf("%s(%d)", kind, i)
	}
	return names[i]
}

func parseEnum(names []string, s, kind string) (int, error) {
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("cuvis: unknown %s %q, must be one of %s", kind, s, strings.Join(names, ", "))
}

// OperationMode is the trigger mode of an acquisition context
type OperationMode int

const (
	// OperationExternal triggers on an external signal
	OperationExternal OperationMode = iota

	// OperationInternal free-runs at the configured frame rate
	OperationInternal

	// OperationSoftware triggers on capture calls
	OperationSoftware

	// OperationUndefined is reported before a mode is set
	OperationUndefined

	operationModeCount
)

var operationModeNames = [...]string{
	OperationExternal:  "External",
	OperationInternal:  "Internal",
	OperationSoftware:  "Software",
	OperationUndefined: "Undefined",
}

var _ = [1]struct{}{}[len(operationModeNames)-int(operationModeCount)]

func (m OperationMode) String() string {
	return enumName(operationModeNames[:], int(m), "OperationMode")
}

// MarshalText encodes the mode by name
func (m OperationMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a mode name, case insensitive
func (m *OperationMode) UnmarshalText(b []byte) error {
	v, err := ParseOperationMode(string(b))
	*m = v
	return err
}

// ParseOperationMode converts a name such as "Software" to an OperationMode
func ParseOperationMode(s string) (OperationMode, error) {
	i, err := parseEnum(operationModeNames[:], s, "operation mode")
	return OperationMode(i), err
}

// ProcessingMode selects the output of a processing context
type ProcessingMode int

const (
	ModePreview ProcessingMode = iota
	ModeRaw
	ModeDarkSubtract
	ModeReflectance
	ModeSpectralRadiance

	processingModeCount
)

var processingModeNames = [...]string{
	ModePreview:          "Preview",
	ModeRaw:              "Raw",
	ModeDarkSubtract:     "DarkSubtract",
	ModeReflectance:      "Reflectance",
	ModeSpectralRadiance: "SpectralRadiance",
}

var _ = [1]struct{}{}[len(processingModeNames)-int(processingModeCount)]

func (m ProcessingMode) String() string {
	return enumName(processingModeNames[:], int(m), "ProcessingMode")
}

// MarshalText encodes the mode by name
func (m ProcessingMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText decodes a mode name, case insensitive
func (m *ProcessingMode) UnmarshalText(b []byte) error {
	v, err := ParseProcessingMode(string(b))
	*m = v
	return err
}

// ParseProcessingMode converts a name such as "Reflectance" to a ProcessingMode
func ParseProcessingMode(s string) (ProcessingMode, error) {
	i, err := parseEnum(processingModeNames[:], s, "processing mode")
	return ProcessingMode(i), err
}

// ReferenceType identifies a reference measurement held by a processing context
type ReferenceType int

const (
	RefDark ReferenceType = iota
	RefWhite
	RefWhiteDark
	RefSpRad
	RefDistance

	referenceTypeCount
)

var referenceTypeNames = [...]string{
	RefDark:      "Dark",
	RefWhite:     "White",
	RefWhiteDark: "WhiteDark",
	RefSpRad:     "SpRad",
	RefDistance:  "Distance",
}

var _ = [1]struct{}{}[len(referenceTypeNames)-int(referenceTypeCount)]

func (r ReferenceType) String() string {
	return enumName(referenceTypeNames[:], int(r), "ReferenceType")
}

// ParseReferenceType converts a name such as "White" to a ReferenceType
func ParseReferenceType(s string) (ReferenceType, error) {
	i, err := parseEnum(referenceTypeNames[:], s, "reference type")
	return ReferenceType(i), err
}

// SessionItemType selects which frames of a session file are addressed
type SessionItemType int

const (
	// ItemAllFrames indexes every frame slot, including dropped frames
	ItemAllFrames SessionItemType = iota

	// ItemNoGaps indexes only frames that were recorded
	ItemNoGaps

	// ItemReferences indexes the references stored in the session
	ItemReferences

	sessionItemTypeCount
)

var sessionItemTypeNames = [...]string{
	ItemAllFrames:  "all_frames",
	ItemNoGaps:     "no_gaps",
	ItemReferences: "references",
}

var _ = [1]struct{}{}[len(sessionItemTypeNames)-int(sessionItemTypeCount)]

func (t SessionItemType) String() string {
	return enumName(sessionItemTypeNames[:], int(t), "SessionItemType")
}

// HardwareState is the aggregate online state of a device or component set
type HardwareState int

const (
	HardwareOnline HardwareState = iota
	HardwarePartiallyOnline
	HardwareOffline

	hardwareStateCount
)

var hardwareStateNames = [...]string{
	HardwareOnline:          "Online",
	HardwarePartiallyOnline: "PartiallyOnline",
	HardwareOffline:         "Offline",
}

var _ = [1]struct{}{}[len(hardwareStateNames)-int(hardwareStateCount)]

func (s HardwareState) String() string {
	return enumName(hardwareStateNames[:], int(s), "HardwareState")
}

// MarshalText encodes the state by name
func (s HardwareState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a hardware state name, case insensitive
func (s *HardwareState) UnmarshalText(b []byte) error {
	v, err := ParseHardwareState(string(b))
	*s = v
	return err
}

// ParseHardwareState converts a name such as "Online" to a HardwareState
func ParseHardwareState(s string) (HardwareState, error) {
	i, err := parseEnum(hardwareStateNames[:], s, "hardware state")
	return HardwareState(i), err
}

// ComponentType is the kind of a hardware component
type ComponentType int

const (
	ComponentImageSensor ComponentType = iota
	ComponentMiscSensor

	componentTypeCount
)

var componentTypeNames = [...]string{
	ComponentImageSensor: "ImageSensor",
	ComponentMiscSensor:  "MiscSensor",
}

var _ = [1]struct{}{}[len(componentTypeNames)-int(componentTypeCount)]

func (t ComponentType) String() string {
	return enumName(componentTypeNames[:], int(t), "ComponentType")
}

// MarshalText encodes the type by name
func (t ComponentType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a component type name, case insensitive
func (t *ComponentType) UnmarshalText(b []byte) error {
	v, err := ParseComponentType(string(b))
	*t = v
	return err
}

// ParseComponentType converts a name such as "ImageSensor" to a ComponentType
func ParseComponentType(s string) (ComponentType, error) {
	i, err := parseEnum(componentTypeNames[:], s, "component type")
	return ComponentType(i), err
}

// AsyncResult is the outcome of polling an asynchronous operation
type AsyncResult int

const (
	// AsyncDone means the result is available
	AsyncDone AsyncResult = iota

	// AsyncTimeout means the poll budget ran out before completion
	AsyncTimeout

	// AsyncOverwritten means a newer request replaced this one; the result is lost
	AsyncOverwritten

	// AsyncDeferred means the operation is queued and has not started
	AsyncDeferred

	asyncResultCount
)

var asyncResultNames = [...]string{
	AsyncDone:        "done",
	AsyncTimeout:     "timeout",
	AsyncOverwritten: "overwritten",
	AsyncDeferred:    "deferred",
}

var _ = [1]struct{}{}[len(asyncResultNames)-int(asyncResultCount)]

func (r AsyncResult) String() string {
	return enumName(asyncResultNames[:], int(r), "AsyncResult")
}

// PanSharpeningInterpolation is the interpolation used to upscale spectral data
type PanSharpeningInterpolation int

const (
	InterpolationNearestNeighbor PanSharpeningInterpolation = iota
	InterpolationLinear
	InterpolationCubic
	InterpolationLanczos

	interpolationCount
)

var interpolationNames = [...]string{
	InterpolationNearestNeighbor: "NearestNeighbor",
	InterpolationLinear:          "Linear",
	InterpolationCubic:           "Cubic",
	InterpolationLanczos:         "Lanczos",
}

var _ = [1]struct{}{}[len(interpolationNames)-int(interpolationCount)]

func (p PanSharpeningInterpolation) String() string {
	return enumName(interpolationNames[:], int(p), "PanSharpeningInterpolation")
}

// PanSharpeningAlgorithm is the method used to fuse pan and spectral data
type PanSharpeningAlgorithm int

const (
	PanNoop PanSharpeningAlgorithm = iota
	PanCubertMacroPixel
	PanCubertPanRatio
	PanAlphaBlendOverlay

	panAlgorithmCount
)

var panAlgorithmNames = [...]string{
	PanNoop:              "Noop",
	PanCubertMacroPixel:  "CubertMacroPixel",
	PanCubertPanRatio:    "CubertPanRatio",
	PanAlphaBlendOverlay: "AlphaBlendOverlay",
}

var _ = [1]struct{}{}[len(panAlgorithmNames)-int(panAlgorithmCount)]

func (p PanSharpeningAlgorithm) String() string {
	return enumName(panAlgorithmNames[:], int(p), "PanSharpeningAlgorithm")
}

// TiffCompressionMode is the compression of exported TIFF files
type TiffCompressionMode int

const (
	TiffCompressionNone TiffCompressionMode = iota
	TiffCompressionLZW

	tiffCompressionCount
)

var tiffCompressionNames = [...]string{
	TiffCompressionNone: "None",
	TiffCompressionLZW:  "LZW",
}

var _ = [1]struct{}{}[len(tiffCompressionNames)-int(tiffCompressionCount)]

func (c TiffCompressionMode) String() string {
	return enumName(tiffCompressionNames[:], int(c), "TiffCompressionMode")
}

// TiffFormat is the layout of exported TIFF files
type TiffFormat int

const (
	// TiffSingle writes one file per channel
	TiffSingle TiffFormat = iota

	// TiffMultiChannel writes one file with all channels as samples
	TiffMultiChannel

	// TiffMultiPage writes one file with one page per channel
	TiffMultiPage

	tiffFormatCount
)

var tiffFormatNames = [...]string{
	TiffSingle:       "Single",
	TiffMultiChannel: "MultiChannel",
	TiffMultiPage:    "MultiPage",
}

var _ = [1]struct{}{}[len(tiffFormatNames)-int(tiffFormatCount)]

func (f TiffFormat) String() string {
	return enumName(tiffFormatNames[:], int(f), "TiffFormat")
}

// LogLevel is the verbosity of the native library's log
type LogLevel int

const (
	LogFatal LogLevel = iota
	LogError
	LogWarning
	LogInfo
	LogDebug

	logLevelCount
)

var logLevelNames = [...]string{
	LogFatal:   "fatal",
	LogError:   "error",
	LogWarning: "warning",
	LogInfo:    "info",
	LogDebug:   "debug",
}

var _ = [1]struct{}{}[len(logLevelNames)-int(logLevelCount)]

func (l LogLevel) String() string {
	return enumName(logLevelNames[:], int(l), "LogLevel")
}

// ParseLogLevel converts a name such as "warning" to a LogLevel
func ParseLogLevel(s string) (LogLevel, error) {
	i, err := parseEnum(logLevelNames[:], s, "log level")
	return LogLevel(i), err
}

// ImageFormat is the sample type of an ImageBuffer
type ImageFormat int

const (
	FormatUint8 ImageFormat = iota
	FormatUint16
	FormatUint32
	FormatFloat32

	imageFormatCount
)

var imageFormatNames = [...]string{
	FormatUint8:   "uint8",
	FormatUint16:  "uint16",
	FormatUint32:  "uint32",
	FormatFloat32: "float32",
}

var imageFormatSizes = [...]int{
	FormatUint8:   1,
	FormatUint16:  2,
	FormatUint32:  4,
	FormatFloat32: 4,
}

var _ = [1]struct{}{}[len(imageFormatNames)-int(imageFormatCount)]
var _ = [1]struct{}{}[len(imageFormatSizes)-int(imageFormatCount)]

func (f ImageFormat) String() string {
	return enumName(imageFormatNames[:], int(f), "ImageFormat")
}

// MarshalText encodes the format by name
func (f ImageFormat) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText decodes a image format name, case insensitive
func (f *ImageFormat) UnmarshalText(b []byte) error {
	v, err := ParseImageFormat(string(b))
	*f = v
	return err
}

// ParseImageFormat converts a name such as "float32" to a ImageFormat
func ParseImageFormat(s string) (ImageFormat, error) {
	i, err := parseEnum(imageFormatNames[:], s, "image format")
	return ImageFormat(i), err
}

// BytesPerSample is the size of one sample, 0 for an unknown format
func (f ImageFormat) BytesPerSample() int {
	if f < 0 || f >= imageFormatCount {
		return 0
	}
	return imageFormatSizes[f]
}

// MeasurementFlags are quality warnings attached to a measurement
type MeasurementFlags uint32

const (
	FlagOverilluminated MeasurementFlags = 1 << iota
	FlagPoorReference
	FlagOverilluminatedReference
	FlagDarkIntTimeMismatch
	FlagDarkTempMismatch
	FlagWhiteIntTimeMismatch
	FlagWhiteTempMismatch
	FlagWhiteDarkIntTimeMismatch
	FlagWhiteDarkTempMismatch

	flagCount = iota
)

var flagNames = [...]string{
	"Overilluminated",
	"PoorReference",
	"OverilluminatedReference",
	"DarkIntTimeMismatch",
	"DarkTempMismatch",
	"WhiteIntTimeMismatch",
	"WhiteTempMismatch",
	"WhiteDarkIntTimeMismatch",
	"WhiteDarkTempMismatch",
}

var _ = [1]struct{}{}[len(flagNames)-flagCount]

// Has reports whether every bit of o is set in f
func (f MeasurementFlags) Has(o MeasurementFlags) bool { return f&o == o }

func (f MeasurementFlags) String() string {
	return bitNames(uint64(f), flagNames[:])
}

// Capabilities is the set of operations a calibration supports in a mode
type Capabilities uint64

const (
	CapAcquisitionCapture Capabilities = 1 << iota
	CapAcquisitionTimelapse
	CapAcquisitionContinuous
	CapAcquisitionSnapshot
	CapAcquisitionSetIntegrationTime
	CapAcquisitionSetGain
	CapAcquisitionAveraging
	CapProcessingSensorRaw
	CapProcessingCubeRaw
	CapProcessingCubeRef
	CapProcessingCubeDarkSubtract
	CapProcessingCubeFlatFielding
	CapProcessingCubeSpectralRadiance
	CapProcessingSaveFile
	CapProcessingClearRaw
	CapProcessingCalcLive
	CapProcessingAutoExposure
	CapProcessingOrientation
	CapProcessingSetWhite
	CapProcessingSetDark
	CapProcessingSetSpRad
	CapProcessingSetDistanceCalib
	CapProcessingSetDistanceValue

	capCount = iota
)

var capNames = [...]string{
	"AcquisitionCapture",
	"AcquisitionTimelapse",
	"AcquisitionContinuous",
	"AcquisitionSnapshot",
	"AcquisitionSetIntegrationTime",
	"AcquisitionSetGain",
	"AcquisitionAveraging",
	"ProcessingSensorRaw",
	"ProcessingCubeRaw",
	"ProcessingCubeRef",
	"ProcessingCubeDarkSubtract",
	"ProcessingCubeFlatFielding",
	"ProcessingCubeSpectralRadiance",
	"ProcessingSaveFile",
	"ProcessingClearRaw",
	"ProcessingCalcLive",
	"ProcessingAutoExposure",
	"ProcessingOrientation",
	"ProcessingSetWhite",
	"ProcessingSetDark",
	"ProcessingSetSpRad",
	"ProcessingSetDistanceCalib",
	"ProcessingSetDistanceValue",
}

var _ = [1]struct{}{}[len(capNames)-capCount]

// Has reports whether every bit of o is set in c
func (c Capabilities) Has(o Capabilities) bool { return c&o == o }

func (c Capabilities) String() string {
	return bitNames(uint64(c), capNames[:])
}

// Strings lists the names of the set bits
func (c Capabilities) Strings() []string {
	return splitBits(uint64(c), capNames[:])
}

func splitBits(v uint64, names []string) []string {
	out := []string{}
	for i, n := range names {
		if v&(1<<uint(i)) != 0 {
			out = append(out, n)
		}
	}
	return out
}

func bitNames(v uint64, names []string) string {
	if v == 0 {
		return "none"
	}
	return strings.Join(splitBits(v, names), "|")
}
