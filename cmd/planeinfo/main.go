//go:build linux
// +build linux

// Command planeinfo connects to a Wayland compositor, lists its outputs
// and drives an overlay plane through a few frames of shm buffers,
// printing what the plane keeps mapped along the way.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/bnema/wlplane"
)

var (
	socket  = flag.String("socket", "", "compositor socket, defaults to $WAYLAND_DISPLAY")
	buffers = flag.Int("buffers", 3, "number of buffers to cycle through")
	cache   = flag.Int("cache", wlplane.MinDataBufferCount, "plane buffer cache size")
	width   = flag.Int("width", 256, "buffer width in pixels")
	height  = flag.Int("height", 256, "buffer height in pixels")
	frames  = flag.Int("frames", 8, "frames to submit")
	device  = flag.Int("device", 0, "output index the plane scans out on")
	verbose = flag.Bool("v", false, "debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	wlplane.SetLogger(logger)

	if err := run(logger); err != nil {
		logger.Error("planeinfo failed", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	if *buffers <= 0 || *width <= 0 || *height <= 0 {
		return fmt.Errorf("buffers, width and height must be positive")
	}

	d, err := wlplane.Connect(*socket)
	if err != nil {
		return err
	}
	defer d.Close()

	modes, err := wlplane.BindOutputs(d)
	if err != nil {
		return err
	}
	for i, o := range modes.Outputs() {
		mode, ok := o.Mode()
		if !ok {
			fmt.Printf("output %d %q: no mode\n", i, o.Name())
			continue
		}
		x, y := o.Position()
		fmt.Printf("output %d %q: %dx%d@%d.%03dHz at %d,%d scale %d\n",
			i, o.Name(), mode.Width, mode.Height, mode.Refresh/1000, mode.Refresh%1000, x, y, o.Scale())
	}

	stride := *width * wlplane.FormatARGB8888.BytesPerPixel()
	pool, err := wlplane.CreateShmPool(poolSize(*buffers, stride, *height))
	if err != nil {
		return err
	}
	defer pool.Close()

	mgr := wlplane.NewShmBufferManager()
	handles := make([]wlplane.BufferHandle, 0, *buffers)
	for i := 0; i < *buffers; i++ {
		buf, err := pool.AllocateBuffer(*width, *height, stride, wlplane.FormatARGB8888)
		if err != nil {
			return err
		}
		paint(buf.Data(), i)
		handles = append(handles, mgr.Register(buf))
	}

	plane := wlplane.NewPlane(0, wlplane.PlaneOverlay, *device, mgr, modes,
		wlplane.WithProtectedClassifier(mgr),
		wlplane.WithDataBufferHook(func(m *wlplane.Mapping) error {
			sm := m.Binding().(*wlplane.ShmMapping)
			logger.Debug("programming plane", "key", m.Key(), "format", sm.TextureFormat(), "stride", sm.Stride())
			return nil
		}))
	plane.Initialize(*cache)
	defer plane.Deinitialize()

	for frame := 0; frame < *frames; frame++ {
		pos := plane.CheckPosition(wlplane.Rect{X: frame * 16, Y: frame * 16, W: *width, H: *height})
		plane.SetPosition(pos.X, pos.Y, pos.W, pos.H)
		plane.SetSourceCrop(0, 0, pos.W, pos.H)

		if err := plane.SetDataBuffer(handles[frame%len(handles)]); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		flip, err := plane.Flip()
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		fmt.Printf("frame %d: updates=%s flip=%v cached=%d/%d active=%d mapped=%d\n",
			frame, plane.Updates(), flip, plane.CacheLen(), plane.CacheCapacity(), plane.ActiveLen(), mgr.Mapped())
		plane.ClearUpdates()

		if err := modes.Update(); err != nil {
			return err
		}
	}
	return nil
}

// poolSize returns the pool size for n buffers of the given geometry.
// Buffers start on 64 byte boundaries, so each slot is rounded up.
func poolSize(n, stride, height int) int {
	slot := (stride*height + 63) &^ 63
	return n * slot
}

// paint fills a buffer with a solid color that differs per index
func paint(data []byte, i int) {
	colors := [][4]byte{
		{0x00, 0x00, 0xff, 0xff},
		{0x00, 0xff, 0x00, 0xff},
		{0xff, 0x00, 0x00, 0xff},
	}
	c := colors[i%len(colors)]
	for off := 0; off+4 <= len(data); off += 4 {
		copy(data[off:off+4], c[:])
	}
}
