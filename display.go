//go:build linux
// +build linux

package wlplane

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

const displayID = 1

var bufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// Object is a protocol object
type Object interface {
	ID() uint32
}

// Proxy is a client side protocol object that receives events
type Proxy interface {
	Object
	SetID(uint32)
	Dispatch(*Event)
}

// BaseProxy carries the ID of a proxy
type BaseProxy struct {
	id uint32
}

// ID returns the object ID
func (p *BaseProxy) ID() uint32 { return p.id }

// SetID sets the object ID
func (p *BaseProxy) SetID(id uint32) { p.id = id }

// Dispatch ignores the event
func (p *BaseProxy) Dispatch(*Event) {}

// FD marks a request argument as a file descriptor. It is passed out of
// band and takes no room in the message.
type FD int

// Display is a connection to a Wayland compositor.
type Display struct {
	conn   *net.UnixConn
	nextID atomic.Uint32
	sendMu sync.Mutex
	recvMu sync.Mutex

	objects    sync.Map // map[uint32]Proxy
	dispatcher *EventDispatcher
	registry   *Registry

	// received with SCM_RIGHTS, guarded by recvMu
	fds []int

	errMu     sync.Mutex
	lastError error

	headerBuf [8]byte
	bodyBuf   [4096]byte
}

// Connect opens the compositor socket. An empty path uses
// $WAYLAND_DISPLAY, or wayland-0; relative paths live in $XDG_RUNTIME_DIR.
func Connect(socketPath string) (*Display, error) {
	if socketPath == "" {
		socketPath = os.Getenv("WAYLAND_DISPLAY")
		if socketPath == "" {
			socketPath = "wayland-0"
		}
	}
	if !filepath.IsAbs(socketPath) {
		runDir := os.Getenv("XDG_RUNTIME_DIR")
		if runDir == "" {
			return nil, errors.New("XDG_RUNTIME_DIR not set")
		}
		socketPath = filepath.Join(runDir, socketPath)
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland: %w", err)
	}

	d, err := NewDisplay(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

// NewDisplay starts a session on an open connection and requests the
// registry. Globals arrive with the next Roundtrip.
func NewDisplay(conn *net.UnixConn) (*Display, error) {
	d := &Display{
		conn:       conn,
		dispatcher: NewEventDispatcher(),
	}
	d.nextID.Store(displayID + 1)

	d.registry = newRegistry(d, d.allocateID())
	d.objects.Store(d.registry.ID(), d.registry)

	// get_registry
	if err := d.SendRequest(displayID, 1, d.registry.ID()); err != nil {
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	return d, nil
}

// Close closes the connection and any received file descriptors that
// were never consumed.
func (d *Display) Close() error {
	d.recvMu.Lock()
	for _, fd := range d.fds {
		_ = closeFD(fd)
	}
	d.fds = nil
	d.recvMu.Unlock()
	return d.conn.Close()
}

// ID returns the display's object ID
func (d *Display) ID() uint32 {
	return displayID
}

// Registry returns the global registry
func (d *Display) Registry() *Registry {
	return d.registry
}

// Err returns the last protocol error reported by the compositor
func (d *Display) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastError
}

func (d *Display) allocateID() uint32 {
	return d.nextID.Add(1) - 1
}

// register assigns p a fresh ID and routes its events to it
func (d *Display) register(p Proxy) {
	if p.ID() == 0 {
		p.SetID(d.allocateID())
	}
	d.objects.Store(p.ID(), p)
}

func (d *Display) unregister(id uint32) {
	d.objects.Delete(id)
}

// RegisterEventHandler routes an opcode of an object without a Proxy
func (d *Display) RegisterEventHandler(objectID uint32, opcode uint16, h EventHandler) {
	d.dispatcher.RegisterHandler(objectID, opcode, h)
}

// SendRequest sends a request. FD arguments are passed out of band.
func (d *Display) SendRequest(objectID uint32, opcode uint16, args ...interface{}) error {
	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()

	fds, err := encodeMessage(buf, objectID, opcode, args...)
	if err != nil {
		return err
	}
	Logger().Debug("wayland request", "object", objectID, "opcode", opcode, "size", buf.Len())
	return d.writeMsg(buf.Bytes(), fds)
}

// encodeMessage appends one wire message to buf and returns its fds
func encodeMessage(buf *bytes.Buffer, objectID uint32, opcode uint16, args ...interface{}) ([]int, error) {
	start := buf.Len()
	var header [8]byte
	_, _ = buf.Write(header[:])

	var fds []int
	for _, arg := range args {
		if fd, ok := arg.(FD); ok {
			fds = append(fds, int(fd))
			continue
		}
		if err := appendArg(buf, arg); err != nil {
			return nil, fmt.Errorf("failed to marshal argument: %w", err)
		}
	}

	size := buf.Len() - start
	if size > 0xFFFF {
		return nil, fmt.Errorf("message too large: %d bytes", size)
	}
	b := buf.Bytes()[start:]
	binary.LittleEndian.PutUint32(b[0:4], objectID)
	// size in the upper 16 bits, opcode in the lower
	binary.LittleEndian.PutUint32(b[4:8], uint32(size)<<16|uint32(opcode))
	return fds, nil
}

func appendArg(buf *bytes.Buffer, arg interface{}) error {
	var word [4]byte
	putWord := func(v uint32) {
		binary.LittleEndian.PutUint32(word[:], v)
		_, _ = buf.Write(word[:])
	}

	switch v := arg.(type) {
	case uint32:
		putWord(v)
	case int32:
		putWord(uint32(v))
	case string:
		// length counts the NUL terminator
		putWord(uint32(len(v) + 1))
		_, _ = buf.WriteString(v)
		buf.Write(make([]byte, pad4(len(v)+1)-len(v)))
	case []byte:
		putWord(uint32(len(v)))
		_, _ = buf.Write(v)
		buf.Write(make([]byte, pad4(len(v))-len(v)))
	case Object:
		if v == nil {
			putWord(0)
		} else {
			putWord(v.ID())
		}
	case nil:
		putWord(0)
	default:
		return fmt.Errorf("unsupported argument type: %T", arg)
	}
	return nil
}

// Dispatch reads one message and hands it to its receiver.
func (d *Display) Dispatch() error {
	d.recvMu.Lock()
	defer d.recvMu.Unlock()

	if err := d.readFull(d.headerBuf[:]); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	objectID := binary.LittleEndian.Uint32(d.headerBuf[0:4])
	sizeOpcode := binary.LittleEndian.Uint32(d.headerBuf[4:8])
	size := int(sizeOpcode >> 16)
	opcode := uint16(sizeOpcode & 0xffff)

	if size < 8 {
		return fmt.Errorf("invalid message size %d", size)
	}

	var body []byte
	if size > 8 {
		if size-8 <= len(d.bodyBuf) {
			body = d.bodyBuf[:size-8]
		} else {
			body = make([]byte, size-8)
		}
		if err := d.readFull(body); err != nil {
			return fmt.Errorf("failed to read body: %w", err)
		}
	}

	e := getEvent(d, objectID, opcode, body)
	defer putEvent(e)

	if objectID == displayID {
		return d.handleDisplayEvent(e)
	}
	if p, ok := d.objects.Load(objectID); ok {
		p.(Proxy).Dispatch(e)
		return nil
	}
	if !d.dispatcher.Dispatch(e) {
		Logger().Debug("wayland event for unknown object", "object", objectID, "opcode", opcode)
	}
	return nil
}

func (d *Display) handleDisplayEvent(e *Event) error {
	switch e.Opcode {
	case 0: // error
		objectID := e.Uint32()
		code := e.Uint32()
		msg := e.String()
		err := fmt.Errorf("protocol error: object %d, code %d: %s", objectID, code, msg)
		d.errMu.Lock()
		d.lastError = err
		d.errMu.Unlock()
		return err

	case 1: // delete_id
		id := e.Uint32()
		d.unregister(id)
		d.dispatcher.RemoveHandler(id, 0)
	}
	return nil
}

// Roundtrip blocks until the compositor has handled every request sent
// so far, dispatching the events it sends meanwhile.
func (d *Display) Roundtrip() error {
	callbackID := d.allocateID()
	done := false
	d.dispatcher.RegisterHandler(callbackID, 0, func(*Event) {
		done = true
	})
	defer d.dispatcher.RemoveHandler(callbackID, 0)

	// sync
	if err := d.SendRequest(displayID, 0, callbackID); err != nil {
		return err
	}
	for !done {
		if err := d.Dispatch(); err != nil {
			return err
		}
	}
	return nil
}
