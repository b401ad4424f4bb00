//go:build linux
// +build linux

package wlplane

import (
	"encoding/binary"
	"sync"
)

// Event is a message received from the compositor. Its payload is only
// valid during the handler call it is passed to.
type Event struct {
	ProxyID uint32
	Opcode  uint16
	data    []byte
	offset  int
	display *Display
}

var eventPool = sync.Pool{
	New: func() interface{} {
		return &Event{}
	},
}

func getEvent(d *Display, objectID uint32, opcode uint16, data []byte) *Event {
	e := eventPool.Get().(*Event)
	e.ProxyID = objectID
	e.Opcode = opcode
	e.data = data
	e.offset = 0
	e.display = d
	return e
}

func putEvent(e *Event) {
	e.data = nil
	e.display = nil
	eventPool.Put(e)
}

// Data returns the raw payload
func (e *Event) Data() []byte {
	return e.data
}

// Uint32 reads a uint32 argument, 0 past the end of the payload
func (e *Event) Uint32() uint32 {
	if e.offset+4 > len(e.data) {
		return 0
	}
	v := binary.LittleEndian.Uint32(e.data[e.offset:])
	e.offset += 4
	return v
}

// Int32 reads an int32 argument
func (e *Event) Int32() int32 {
	return int32(e.Uint32())
}

// String reads a string argument
func (e *Event) String() string {
	b := e.Array()
	if len(b) == 0 {
		return ""
	}
	// the length includes the NUL terminator
	return string(b[:len(b)-1])
}

// Array reads an array argument. The result aliases the payload.
func (e *Event) Array() []byte {
	n := int(e.Uint32())
	if n == 0 || e.offset+n > len(e.data) {
		return nil
	}
	b := e.data[e.offset : e.offset+n]
	e.offset += pad4(n)
	return b
}

// Fd returns the next file descriptor received with the message, or -1.
// File descriptors travel out of band and take no payload space.
func (e *Event) Fd() int {
	if e.display == nil {
		return -1
	}
	fd, _ := e.display.nextFD()
	return fd
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

// EventHandler handles one event
type EventHandler func(e *Event)

// EventDispatcher routes events for objects that have no Proxy, such as
// callbacks, by object ID and opcode.
type EventDispatcher struct {
	handlers sync.Map // map[uint64]EventHandler
}

func handlerKey(objectID uint32, opcode uint16) uint64 {
	return uint64(objectID)<<16 | uint64(opcode)
}

// NewEventDispatcher returns an empty dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

// RegisterHandler sets the handler for an object's opcode
func (d *EventDispatcher) RegisterHandler(objectID uint32, opcode uint16, h EventHandler) {
	d.handlers.Store(handlerKey(objectID, opcode), h)
}

// RemoveHandler drops a handler
func (d *EventDispatcher) RemoveHandler(objectID uint32, opcode uint16) {
	d.handlers.Delete(handlerKey(objectID, opcode))
}

// Dispatch calls the handler for e, reporting whether there was one
func (d *EventDispatcher) Dispatch(e *Event) bool {
	h, ok := d.handlers.Load(handlerKey(e.ProxyID, e.Opcode))
	if !ok {
		return false
	}
	h.(EventHandler)(e)
	return true
}
