package sim

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/snksoft/crc"
	yml "gopkg.in/yaml.v2"

	"github.jpl.nasa.gov/bdube/hsicam/cuvis"
)

// CalibrationFile is the descriptor looked for when a calibration is loaded
// from a folder
const CalibrationFile = "calibration.yml"

// SessionExt is the extension of simulated session files
const SessionExt = cuvis.SessionExt

// crcTable computes the CRC-64/XZ checksum used for session hashes and
// calibration ids
var crcTable = crc.NewTable(&crc.Parameters{
	Width:      64,
	Polynomial: 0x42F0E1EBA9EA3693,
	ReflectIn:  true,
	ReflectOut: true,
	Init:       0xFFFFFFFFFFFFFFFF,
	FinalXor:   0xFFFFFFFFFFFFFFFF,
})

func checksum(chunks ...[]byte) uint64 {
	c := crcTable.InitCrc()
	for _, b := range chunks {
		c = crcTable.UpdateCrc(c, b)
	}
	return crcTable.CRC(c)
}

// ComponentDesc describes one simulated hardware component
type ComponentDesc struct {
	Name     string `yaml:"Name"`
	Misc     bool   `yaml:"Misc"`
	Serial   string `yaml:"Serial"`
	Firmware string `yaml:"Firmware"`

	// Temperature in celsius
	Temperature int `yaml:"Temperature"`
}

// CalibrationDesc describes a simulated camera
type CalibrationDesc struct {
	Model       string          `yaml:"Model"`
	Serial      string          `yaml:"Serial"`
	Date        time.Time       `yaml:"Date"`
	Annotation  string          `yaml:"Annotation"`
	Width       int             `yaml:"Width"`
	Height      int             `yaml:"Height"`
	Wavelengths []uint32        `yaml:"Wavelengths"`
	Components  []ComponentDesc `yaml:"Components"`

	path string
}

// DefaultCalibration is a small camera with a spectral and a pan sensor
func DefaultCalibration() CalibrationDesc {
	return CalibrationDesc{
		Model:       "Ultris SIM",
		Serial:      "SIM-0001",
		Date:        time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Width:       8,
		Height:      6,
		Wavelengths: []uint32{450, 500, 550, 600, 650},
		Components: []ComponentDesc{
			{Name: "spectral", Serial: "SIM-0001-S", Firmware: "1.0", Temperature: 35},
			{Name: "pan", Serial: "SIM-0001-P", Firmware: "1.0", Temperature: 33},
		},
	}
}

// fill replaces zero fields with the defaults
func (c *CalibrationDesc) fill() {
	def := DefaultCalibration()
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Serial == "" {
		c.Serial = def.Serial
	}
	if c.Width <= 0 {
		c.Width = def.Width
	}
	if c.Height <= 0 {
		c.Height = def.Height
	}
	if len(c.Wavelengths) == 0 {
		c.Wavelengths = def.Wavelengths
	}
	if len(c.Components) == 0 {
		c.Components = def.Components
	}
}

// UniqueID is a checksum of the identifying fields
func (c CalibrationDesc) UniqueID() string {
	return fmt.Sprintf("%016x", checksum([]byte(c.Model), []byte(c.Serial), []byte(c.Date.Format(time.RFC3339))))
}

func (c *CalibrationDesc) info() cuvis.CalibrationInfo {
	return cuvis.CalibrationInfo{
		ModelName:       c.Model,
		SerialNumber:    c.Serial,
		CalibrationDate: c.Date,
		Annotation:      c.Annotation,
		UniqueID:        c.UniqueID(),
		FilePath:        c.path,
	}
}

// capabilities are the same for every simulated camera except that external
// triggering cannot capture on demand
func (c *CalibrationDesc) capabilities(mode cuvis.OperationMode) cuvis.Capabilities {
	caps := cuvis.CapAcquisitionContinuous |
		cuvis.CapAcquisitionSetIntegrationTime |
		cuvis.CapAcquisitionSetGain |
		cuvis.CapAcquisitionAveraging |
		cuvis.CapProcessingSensorRaw |
		cuvis.CapProcessingCubeRaw |
		cuvis.CapProcessingCubeRef |
		cuvis.CapProcessingCubeDarkSubtract |
		cuvis.CapProcessingCubeSpectralRadiance |
		cuvis.CapProcessingSaveFile |
		cuvis.CapProcessingSetWhite |
		cuvis.CapProcessingSetDark |
		cuvis.CapProcessingSetDistanceValue
	switch mode {
	case cuvis.OperationSoftware:
		caps |= cuvis.CapAcquisitionCapture | cuvis.CapAcquisitionSnapshot
	case cuvis.OperationInternal:
		caps |= cuvis.CapAcquisitionCapture | cuvis.CapAcquisitionTimelapse
	}
	return caps
}

// WriteCalibration writes c as dir/calibration.yml and returns the path
func WriteCalibration(dir string, c CalibrationDesc) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	b, err := yml.Marshal(c)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, CalibrationFile)
	return path, os.WriteFile(path, b, 0644)
}

// LoadCalibrationDesc reads a calibration descriptor from a file or a folder
// holding CalibrationFile
func LoadCalibrationDesc(path string) (CalibrationDesc, error) {
	var c CalibrationDesc
	fi, err := os.Stat(path)
	if err != nil {
		return c, err
	}
	if fi.IsDir() {
		path = filepath.Join(path, CalibrationFile)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err = yml.UnmarshalStrict(b, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	c.fill()
	c.path = path
	return c, nil
}

// SessionDesc describes a simulated recording
type SessionDesc struct {
	Name            string              `yaml:"Name"`
	Calibration     CalibrationDesc     `yaml:"Calibration"`
	OperationMode   cuvis.OperationMode `yaml:"OperationMode"`
	FPS             float64             `yaml:"FPS"`
	IntegrationTime time.Duration       `yaml:"IntegrationTime"`

	// Frames is the number of frames the recording spans, Dropped lists the
	// indices that were lost
	Frames  int   `yaml:"Frames"`
	Dropped []int `yaml:"Dropped"`

	// References names the stored references, "Dark", "White" and so on
	References []string `yaml:"References"`
}

// WriteSession writes s to path
func WriteSession(path string, s SessionDesc) error {
	b, err := yml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

type session struct {
	desc  SessionDesc
	path  string
	hash  string
	refs  []cuvis.ReferenceType
	kept  []int // frame indices present in the recording
	frame map[int]bool
}

func loadSession(path string) (*session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &session{path: path, frame: map[int]bool{}}
	if err = yml.UnmarshalStrict(b, &s.desc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.desc.Calibration.fill()
	s.desc.Calibration.path = path
	if s.desc.Name == "" {
		s.desc.Name = filepath.Base(path)
	}
	if s.desc.Frames < 0 {
		return nil, fmt.Errorf("%s: negative frame count %d", path, s.desc.Frames)
	}
	dropped := map[int]bool{}
	for _, d := range s.desc.Dropped {
		dropped[d] = true
	}
	for i := 0; i < s.desc.Frames; i++ {
		if !dropped[i] {
			s.kept = append(s.kept, i)
			s.frame[i] = true
		}
	}
	for _, name := range s.desc.References {
		ref, err := cuvis.ParseReferenceType(name)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		s.refs = append(s.refs, ref)
	}
	s.hash = fmt.Sprintf("%016x", checksum(b))
	return s, nil
}

func (s *session) size(item cuvis.SessionItemType) (int, bool) {
	switch item {
	case cuvis.ItemAllFrames:
		return s.desc.Frames, true
	case cuvis.ItemNoGaps:
		return len(s.kept), true
	case cuvis.ItemReferences:
		return len(s.refs), true
	}
	return 0, false
}

func (s *session) hasRef(ref cuvis.ReferenceType) bool {
	for _, r := range s.refs {
		if r == ref {
			return true
		}
	}
	return false
}

// measurement materializes an item of the recording, nil when the index
// falls in a gap or past the end
func (s *session) measurement(idx int, item cuvis.SessionItemType) *measurement {
	switch item {
	case cuvis.ItemAllFrames:
		if !s.frame[idx] {
			return nil
		}
		return s.synth(idx)
	case cuvis.ItemNoGaps:
		if idx < 0 || idx >= len(s.kept) {
			return nil
		}
		return s.synth(s.kept[idx])
	case cuvis.ItemReferences:
		if idx < 0 || idx >= len(s.refs) {
			return nil
		}
		return reference(&s.desc.Calibration, s.refs[idx], s.desc.IntegrationTime)
	}
	return nil
}

func (s *session) synth(frame int) *measurement {
	m := synthesize(&s.desc.Calibration, frame, s.desc.IntegrationTime, 1)
	m.meta.Path = s.path
	m.meta.Session = cuvis.SessionInfo{Name: s.desc.Name, SequenceNumber: frame}
	return m
}
