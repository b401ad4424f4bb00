//go:build linux
// +build linux

package wlplane

import (
	"fmt"
	"sync"
)

// wl_output mode flags
const (
	OutputModeCurrent   = 0x1
	OutputModePreferred = 0x2
)

const outputVersion = 4

// Output is a bound wl_output. Its mode becomes visible once the
// compositor finishes an update with done.
type Output struct {
	BaseProxy
	version uint32

	mu          sync.Mutex
	name        string
	description string
	maker       string
	model       string
	x, y        int32
	transform   int32
	scale       int32
	pending     ModeInfo
	current     ModeInfo
	hasMode     bool
}

// Dispatch decodes wl_output events
func (o *Output) Dispatch(e *Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch e.Opcode {
	case 0: // geometry
		o.x = e.Int32()
		o.y = e.Int32()
		_ = e.Int32() // physical width, mm
		_ = e.Int32() // physical height, mm
		_ = e.Int32() // subpixel
		o.maker = e.String()
		o.model = e.String()
		o.transform = e.Int32()
	case 1: // mode
		flags := e.Uint32()
		mode := ModeInfo{
			Width:   int(e.Int32()),
			Height:  int(e.Int32()),
			Refresh: int(e.Int32()),
		}
		if flags&OutputModeCurrent == 0 {
			return
		}
		o.pending = mode
		// version 1 outputs never send done
		if o.version < 2 {
			o.current = mode
			o.hasMode = true
		}
	case 2: // done
		if o.pending.Width > 0 {
			o.current = o.pending
			o.hasMode = true
		}
	case 3: // scale
		o.scale = e.Int32()
	case 4: // name
		o.name = e.String()
	case 5: // description
		o.description = e.String()
	}
}

// Mode returns the current mode, false before the first one is complete
func (o *Output) Mode() (ModeInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current, o.hasMode
}

// Name returns the connector name, e.g. "DP-1". Empty before version 4.
func (o *Output) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.name
}

// Description returns the human readable description
func (o *Output) Description() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.description
}

// Model returns the manufacturer and model
func (o *Output) Model() (maker, model string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maker, o.model
}

// Position returns the output's place in the compositor's global space
func (o *Output) Position() (x, y int32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.x, o.y
}

// Transform returns the wl_output transform the compositor applies
func (o *Output) Transform() int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transform
}

// Scale returns the output scale factor
func (o *Output) Scale() int32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scale
}

// OutputModes answers mode queries from the compositor's outputs. Device
// N is the N-th wl_output bound, in announcement order.
type OutputModes struct {
	display *Display

	mu      sync.RWMutex
	outputs []*Output
}

// BindOutputs binds every wl_output of d, including outputs announced
// later, and waits for their initial state.
func BindOutputs(d *Display) (*OutputModes, error) {
	m := &OutputModes{display: d}
	reg := d.Registry()

	var bindErr error
	reg.AddHandler("wl_output", func(r *Registry, g Global) {
		if err := m.bind(r, g); err != nil && bindErr == nil {
			bindErr = err
		}
	})

	// globals, then the events of the outputs bound meanwhile
	if err := d.Roundtrip(); err != nil {
		return nil, fmt.Errorf("fetch globals: %w", err)
	}
	if bindErr != nil {
		return nil, bindErr
	}
	if err := d.Roundtrip(); err != nil {
		return nil, fmt.Errorf("fetch output state: %w", err)
	}
	return m, nil
}

func (m *OutputModes) bind(r *Registry, g Global) error {
	version := g.Version
	if version > outputVersion {
		version = outputVersion
	}
	o := &Output{version: version}
	if err := r.Bind(g, version, o); err != nil {
		return err
	}

	m.mu.Lock()
	m.outputs = append(m.outputs, o)
	m.mu.Unlock()
	return nil
}

// Outputs returns the bound outputs
func (m *OutputModes) Outputs() []*Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Output(nil), m.outputs...)
}

// ModeInfo returns the current mode of output device
func (m *OutputModes) ModeInfo(device int) (ModeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if device < 0 || device >= len(m.outputs) {
		return ModeInfo{}, fmt.Errorf("device %d: %w", device, ErrModeUnavailable)
	}
	mode, ok := m.outputs[device].Mode()
	if !ok {
		return ModeInfo{}, fmt.Errorf("device %d has no mode yet: %w", device, ErrModeUnavailable)
	}
	return mode, nil
}

// Update dispatches pending compositor events so mode changes show up
func (m *OutputModes) Update() error {
	return m.display.Roundtrip()
}
