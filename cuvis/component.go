package cuvis

// Component is one hardware component of an acquisition context
type Component struct {
	acq *AcquisitionContext
	idx int
}

// Index is the component's position in its acquisition context
func (c *Component) Index() int { return c.idx }

func compOp(f CompFeature, suffix string) string {
	return "comp_" + f.String() + suffix
}

func (c *Component) getInt(f CompFeature) (int, error) {
	id, err := c.acq.h.get()
	if err != nil {
		return 0, err
	}
	v, st := c.acq.c.CompGetInt(id, c.idx, f)
	return v, c.acq.c.check(st, compOp(f, "_get"))
}

func (c *Component) getFloat(f CompFeature) (float64, error) {
	id, err := c.acq.h.get()
	if err != nil {
		return 0, err
	}
	v, st := c.acq.c.CompGetFloat(id, c.idx, f)
	return v, c.acq.c.check(st, compOp(f, "_get"))
}

func (c *Component) setFloat(f CompFeature, v float64) error {
	id, err := c.acq.h.get()
	if err != nil {
		return err
	}
	return c.acq.c.check(c.acq.c.CompSetFloat(id, c.idx, f, v), compOp(f, "_set"))
}

func (c *Component) setFloatAsync(f CompFeature, v float64) (*AsyncCall, error) {
	id, err := c.acq.h.get()
	if err != nil {
		return nil, err
	}
	call, st := c.acq.c.CompSetFloatAsync(id, c.idx, f, v)
	if err = c.acq.c.check(st, compOp(f, "_set_async")); err != nil {
		return nil, err
	}
	return newAsyncCall(c.acq.c, call, compOp(f, "_set_async")), nil
}

// Info describes the component
func (c *Component) Info() (ComponentInfo, error) {
	id, err := c.acq.h.get()
	if err != nil {
		return ComponentInfo{}, err
	}
	info, st := c.acq.c.AcqComponentInfo(id, c.idx)
	return info, c.acq.c.check(st, "acq_cont_get_component_info")
}

// Online reports whether the component is connected and operational
func (c *Component) Online() (bool, error) {
	v, err := c.getInt(CompOnline)
	return v != 0, err
}

// Temperature is the component temperature in Celsius
func (c *Component) Temperature() (int, error) { return c.getInt(CompTemperature) }

// Gain gets the sensor gain
func (c *Component) Gain() (float64, error) { return c.getFloat(CompGain) }

// SetGain sets the sensor gain
func (c *Component) SetGain(g float64) error { return c.setFloat(CompGain, g) }

// SetGainAsync sets the sensor gain without waiting
func (c *Component) SetGainAsync(g float64) (*AsyncCall, error) {
	return c.setFloatAsync(CompGain, g)
}

// IntegrationTimeFactor is this component's integration time relative to
// the acquisition context's
func (c *Component) IntegrationTimeFactor() (float64, error) {
	return c.getFloat(CompIntegrationTimeFactor)
}

// SetIntegrationTimeFactor sets the relative integration time
func (c *Component) SetIntegrationTimeFactor(f float64) error {
	return c.setFloat(CompIntegrationTimeFactor, f)
}

// SetIntegrationTimeFactorAsync sets the relative integration time without waiting
func (c *Component) SetIntegrationTimeFactorAsync(f float64) (*AsyncCall, error) {
	return c.setFloatAsync(CompIntegrationTimeFactor, f)
}

// DriverQueueUsed is the number of frames held by the driver
func (c *Component) DriverQueueUsed() (int, error) { return c.getInt(CompDriverQueueUsed) }

// DriverQueueSize is the driver's frame capacity
func (c *Component) DriverQueueSize() (int, error) { return c.getInt(CompDriverQueueSize) }

// HardwareQueueUsed is the number of frames held by the camera
func (c *Component) HardwareQueueUsed() (int, error) { return c.getInt(CompHardwareQueueUsed) }

// HardwareQueueSize is the camera's frame capacity
func (c *Component) HardwareQueueSize() (int, error) { return c.getInt(CompHardwareQueueSize) }
