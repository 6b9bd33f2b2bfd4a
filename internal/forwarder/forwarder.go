// Package forwarder implements spec.md §4.4's packet forwarder: a worker
// goroutine per direction bridging a host character device and a guest
// TAP, with prefixed or raw framing depending on direction. Per the
// Design Note in spec.md §9, the stop signal is a channel close, not a
// shared boolean.
package forwarder

import (
	"encoding/binary"
	"errors"
	"sync"
	"syscall"

	"github.com/vmguest/agent/internal/agentlog"
)

// Forwarder moves frames from srcFD to dstFD until Stop is called or
// either fd reports an unrecoverable error (spec.md §4.4).
type Forwarder struct {
	srcFD, dstFD     int
	capacity         int
	readPrefixed     bool
	writePrefixed    bool

	snooper *Snooper

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// SetSnooper attaches a passive ARP/NDP decoder that inspects every frame
// read raw off the TAP (never the host-prefixed side, which carries the
// same payload already decoded once by the other direction). Must be
// called before Start.
func (f *Forwarder) SetSnooper(s *Snooper) {
	f.snooper = s
}

// New builds a forwarder for one direction. readPrefixed/writePrefixed
// select two-byte little-endian length-prefixed framing vs. raw framing
// (spec.md §4.4): the host-VM channel is always prefixed (it does not
// preserve frame boundaries); the TAP is always raw (it does).
func New(srcFD, dstFD, capacity int, readPrefixed, writePrefixed bool) *Forwarder {
	return &Forwarder{
		srcFD:         srcFD,
		dstFD:         dstFD,
		capacity:      capacity,
		readPrefixed:  readPrefixed,
		writePrefixed: writePrefixed,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the worker loop in its own goroutine.
func (f *Forwarder) Start() {
	go f.run()
}

// Stop signals the worker to exit and blocks until it has (joinable
// synchronously, spec.md §4.4).
func (f *Forwarder) Stop() {
	f.once.Do(func() { close(f.stop) })
	<-f.done
}

func (f *Forwarder) stopped() bool {
	select {
	case <-f.stop:
		return true
	default:
		return false
	}
}

func (f *Forwarder) run() {
	defer close(f.done)

	for !f.stopped() {
		frame, err := f.readFrame()
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				continue
			}
			if !f.stopped() {
				agentlog.Error("forwarder: read: %v", err)
			}
			return
		}
		if frame == nil {
			// EOF
			return
		}

		if f.snooper != nil && !f.readPrefixed {
			f.snooper.Decode(frame)
		}

		if err := f.writeFrame(frame); err != nil {
			if !f.stopped() {
				agentlog.Error("forwarder: write: %v", err)
			}
			return
		}
	}
}

func (f *Forwarder) readFrame() ([]byte, error) {
	if !f.readPrefixed {
		buf := make([]byte, f.capacity)
		n, err := syscall.Read(f.srcFD, buf)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
		return buf[:n], nil
	}

	var lenBuf [2]byte
	if err := readFull(f.srcFD, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if err := readFull(f.srcFD, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *Forwarder) writeFrame(frame []byte) error {
	if !f.writePrefixed {
		return writeFull(f.dstFD, frame)
	}

	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(frame)))
	if err := writeFull(f.dstFD, lenBuf[:]); err != nil {
		return err
	}
	return writeFull(f.dstFD, frame)
}

func readFull(fd int, buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := syscall.Read(fd, buf[off:])
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				continue
			}
			return err
		}
		if n == 0 {
			return errShortRead
		}
		off += n
	}
	return nil
}

func writeFull(fd int, buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := syscall.Write(fd, buf[off:])
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				continue
			}
			return err
		}
		off += n
	}
	return nil
}

var errShortRead = errors.New("forwarder: short read (peer closed mid-frame)")
