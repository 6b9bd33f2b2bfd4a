package netsetup

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifNameSize = 16
	tunPath    = "/dev/net/tun"

	// from linux/if_tun.h
	iffTap   = 0x0002
	iffNoPI  = 0x1000
	tunSetIFF = 0x400454ca // _IOW('T', 202, int)
)

// ifreqFlags is the subset of struct ifreq used by TUNSETIFF: a 16-byte
// interface name followed by a short flags field, matching linux/if.h.
type ifreqFlags struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte // pad to sizeof(struct ifreq)
}

// CreateTAP opens /dev/net/tun and attaches a new TAP interface named
// name (or kernel-chosen if name is empty), returning the backing file
// descriptor the forwarder reads/writes raw Ethernet frames on. Grounded
// on original_source/runtime/init-container/src/init.c's tap_open, which
// does the identical TUNSETIFF dance.
func CreateTAP(name string) (*os.File, string, error) {
	f, err := os.OpenFile(tunPath, os.O_RDWR, 0)
	if err != nil {
		return nil, "", fmt.Errorf("netsetup: open %s: %w", tunPath, err)
	}

	var req ifreqFlags
	copy(req.Name[:], name)
	req.Flags = iffTap | iffNoPI

	if err := ioctl(f.Fd(), tunSetIFF, &req); err != nil {
		f.Close()
		return nil, "", fmt.Errorf("netsetup: TUNSETIFF: %w", err)
	}

	actual := cstr(req.Name[:])
	return f, actual, nil
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func ioctl(fd uintptr, req uintptr, arg *ifreqFlags) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(arg)))
	if errno != 0 {
		return errno
	}
	return nil
}
