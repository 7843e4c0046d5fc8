package cuvis

// View is the rendered output of a viewer, keyed by item name
type View struct {
	Images map[string]ImageBuffer
}

// Single returns the only image of a view with one item
func (v *View) Single() (ImageBuffer, bool) {
	if v == nil || len(v.Images) != 1 {
		return ImageBuffer{}, false
	}
	for _, img := range v.Images {
		return img, true
	}
	return ImageBuffer{}, false
}

// viewFromHandle copies the view's data out and frees the view
func (c core) viewFromHandle(id int) (*View, error) {
	h := c.own(KindView, id)
	defer h.release()
	data, st := c.ViewData(id)
	if err := c.check(st, "view_get_data"); err != nil {
		return nil, err
	}
	return &View{Images: data}, nil
}

// Viewer renders measurements into displayable images
type Viewer struct {
	c core
	h *handle
}

// NewViewer creates a viewer
func (l *Library) NewViewer(settings ViewerSettings) (*Viewer, error) {
	id, st := l.ViewerCreate(settings)
	if err := l.check(st, "viewer_create"); err != nil {
		return nil, err
	}
	return &Viewer{c: l.core, h: l.own(KindViewer, id)}, nil
}

// Apply renders m
func (v *Viewer) Apply(m *Measurement) (*View, error) {
	id, err := v.h.get()
	if err != nil {
		return nil, err
	}
	mesuID, err := m.h.get()
	if err != nil {
		return nil, err
	}
	view, st := v.c.ViewerApply(id, mesuID)
	if err = v.c.check(st, "viewer_apply"); err != nil {
		return nil, err
	}
	return v.c.viewFromHandle(view)
}

// Close releases the viewer
func (v *Viewer) Close() error {
	return v.h.release()
}
