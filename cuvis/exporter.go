package cuvis

import "fmt"

// ExporterKind is the output format of an exporter
type ExporterKind int

const (
	ExportCube ExporterKind = iota
	ExportTiff
	ExportEnvi
	ExportView

	exporterKindCount
)

var exporterKindNames = [...]string{
	ExportCube: "cube",
	ExportTiff: "tiff",
	ExportEnvi: "envi",
	ExportView: "view",
}

var _ = [1]struct{}{}[len(exporterKindNames)-int(exporterKindCount)]

func (k ExporterKind) String() string {
	return enumName(exporterKindNames[:], int(k), "ExporterKind")
}

// ParseExporterKind converts a name such as "tiff" to an ExporterKind
func ParseExporterKind(s string) (ExporterKind, error) {
	i, err := parseEnum(exporterKindNames[:], s, "exporter")
	return ExporterKind(i), err
}

// Exporter writes measurements to disk
type Exporter struct {
	c    core
	h    *handle
	kind ExporterKind
}

func (l *Library) newExporter(kind ExporterKind, id int, st Status) (*Exporter, error) {
	if err := l.check(st, fmt.Sprintf("exporter_create_%s", kind)); err != nil {
		return nil, err
	}
	return &Exporter{c: l.core, h: l.own(KindExporter, id), kind: kind}, nil
}

// NewCubeExporter writes processed cubes
func (l *Library) NewCubeExporter(ge GeneralExportSettings, args SaveArgs) (*Exporter, error) {
	id, st := l.ExporterCreateCube(ge, args)
	return l.newExporter(ExportCube, id, st)
}

// NewTiffExporter writes TIFF images
func (l *Library) NewTiffExporter(ge GeneralExportSettings, ts TiffExportSettings) (*Exporter, error) {
	id, st := l.ExporterCreateTiff(ge, ts)
	return l.newExporter(ExportTiff, id, st)
}

// NewEnviExporter writes ENVI header and binary pairs
func (l *Library) NewEnviExporter(ge GeneralExportSettings) (*Exporter, error) {
	id, st := l.ExporterCreateEnvi(ge)
	return l.newExporter(ExportEnvi, id, st)
}

// NewViewExporter writes rendered views
func (l *Library) NewViewExporter(ge GeneralExportSettings, vs ViewExportSettings) (*Exporter, error) {
	id, st := l.ExporterCreateView(ge, vs)
	return l.newExporter(ExportView, id, st)
}

// Kind is the exporter's output format
func (e *Exporter) Kind() ExporterKind { return e.kind }

// Apply exports m
func (e *Exporter) Apply(m *Measurement) error {
	id, err := e.h.get()
	if err != nil {
		return err
	}
	mesuID, err := m.h.get()
	if err != nil {
		return err
	}
	return e.c.check(e.c.ExporterApply(id, mesuID), "exporter_apply")
}

// QueueUsed is the number of measurements waiting to be written
func (e *Exporter) QueueUsed() (int, error) {
	id, err := e.h.get()
	if err != nil {
		return 0, err
	}
	n, st := e.c.ExporterQueueUsed(id)
	return n, e.c.check(st, "exporter_get_queue_used")
}

// Close flushes and releases the exporter
func (e *Exporter) Close() error {
	return e.h.release()
}
