//go:build linux
// +build linux

package wlplane

import (
	"fmt"
	"io"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// maxFDsPerMessage bounds the file descriptors accepted with one message
const maxFDsPerMessage = 28

var controlBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, unix.CmsgSpace(maxFDsPerMessage*4))
		return &b
	},
}

// readFull fills buf from the connection, queueing any file descriptors
// that arrive alongside. Callers hold recvMu.
func (d *Display) readFull(buf []byte) error {
	oobp := controlBufferPool.Get().(*[]byte)
	defer controlBufferPool.Put(oobp)
	oob := *oobp

	for read := 0; read < len(buf); {
		n, oobn, _, _, err := d.conn.ReadMsgUnix(buf[read:], oob)
		if err != nil {
			return err
		}
		if n == 0 && oobn == 0 {
			if read == 0 {
				return io.EOF
			}
			return io.ErrUnexpectedEOF
		}
		read += n

		if oobn > 0 {
			fds, err := parseRights(oob[:oobn])
			if err != nil {
				return err
			}
			d.fds = append(d.fds, fds...)
		}
	}
	return nil
}

func parseRights(oob []byte) ([]int, error) {
	scms, err := syscall.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}

	var fds []int
	for i := range scms {
		if scms[i].Header.Level != syscall.SOL_SOCKET || scms[i].Header.Type != syscall.SCM_RIGHTS {
			continue
		}
		rights, err := syscall.ParseUnixRights(&scms[i])
		if err != nil {
			return nil, fmt.Errorf("parse unix rights: %w", err)
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// nextFD pops the oldest received file descriptor
func (d *Display) nextFD() (int, bool) {
	if len(d.fds) == 0 {
		return -1, false
	}
	fd := d.fds[0]
	d.fds = d.fds[1:]
	return fd, true
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// writeMsg sends one message, passing fds out of band
func (d *Display) writeMsg(buf []byte, fds []int) error {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	if len(fds) == 0 {
		_, err := d.conn.Write(buf)
		return err
	}
	_, _, err := d.conn.WriteMsgUnix(buf, syscall.UnixRights(fds...), nil)
	return err
}

// CreateAnonymousFile creates a sealed, size-locked memory file
func CreateAnonymousFile(size int64) (fd int, err error) {
	fd, err = unix.MemfdCreate("wlplane-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err == nil {
		if err = unix.Ftruncate(fd, size); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		_, err = unix.FcntlInt(uintptr(fd), unix.F_ADD_SEALS,
			unix.F_SEAL_SHRINK|unix.F_SEAL_GROW|unix.F_SEAL_SEAL)
		if err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
		return fd, nil
	}

	// kernels without memfd_create
	fd, err = unix.Open("/dev/shm", unix.O_TMPFILE|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return -1, fmt.Errorf("create anonymous file: %w", err)
	}
	if err = unix.Ftruncate(fd, size); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// MapMemory maps size bytes of fd shared, with the given protection
func MapMemory(fd int, size int, prot int) ([]byte, error) {
	return unix.Mmap(fd, 0, size, prot, unix.MAP_SHARED)
}

// UnmapMemory unmaps memory returned by MapMemory
func UnmapMemory(data []byte) error {
	return unix.Munmap(data)
}
