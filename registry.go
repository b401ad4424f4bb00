//go:build linux
// +build linux

package wlplane

import (
	"fmt"
	"sync"
)

// Global is an object announced by the compositor
type Global struct {
	Name      uint32
	Interface string
	Version   uint32
}

// GlobalHandler is called when a global is announced
type GlobalHandler func(r *Registry, g Global)

// Registry tracks the compositor's globals
type Registry struct {
	BaseProxy
	display *Display

	mu       sync.RWMutex
	globals  map[uint32]Global
	order    []uint32
	handlers map[string][]GlobalHandler
}

func newRegistry(d *Display, id uint32) *Registry {
	return &Registry{
		BaseProxy: BaseProxy{id: id},
		display:   d,
		globals:   make(map[uint32]Global),
		handlers:  make(map[string][]GlobalHandler),
	}
}

// Dispatch handles global and global_remove
func (r *Registry) Dispatch(e *Event) {
	switch e.Opcode {
	case 0: // global
		g := Global{
			Name:      e.Uint32(),
			Interface: e.String(),
			Version:   e.Uint32(),
		}
		r.mu.Lock()
		if _, seen := r.globals[g.Name]; !seen {
			r.order = append(r.order, g.Name)
		}
		r.globals[g.Name] = g
		handlers := append([]GlobalHandler(nil), r.handlers[g.Interface]...)
		r.mu.Unlock()

		Logger().Debug("wayland global", "name", g.Name, "interface", g.Interface, "version", g.Version)
		for _, h := range handlers {
			h(r, g)
		}

	case 1: // global_remove
		name := e.Uint32()
		r.mu.Lock()
		delete(r.globals, name)
		for i, n := range r.order {
			if n == name {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

// AddHandler calls h for every global of the given interface announced
// from now on.
func (r *Registry) AddHandler(iface string, h GlobalHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[iface] = append(r.handlers[iface], h)
}

// Bind creates the client side of a global. p gets a fresh ID when it
// has none.
func (r *Registry) Bind(g Global, version uint32, p Proxy) error {
	if version > g.Version {
		version = g.Version
	}
	r.display.register(p)

	if err := r.display.SendRequest(r.ID(), 0, g.Name, g.Interface, version, p.ID()); err != nil {
		r.display.unregister(p.ID())
		return fmt.Errorf("bind %s: %w", g.Interface, err)
	}
	return nil
}

// Globals returns the live globals in announcement order
func (r *Registry) Globals() []Global {
	r.mu.RLock()
	defer r.mu.RUnlock()

	globals := make([]Global, 0, len(r.order))
	for _, name := range r.order {
		globals = append(globals, r.globals[name])
	}
	return globals
}

// FindGlobal returns the first live global of an interface
func (r *Registry) FindGlobal(iface string) (Global, bool) {
	for _, g := range r.Globals() {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}
