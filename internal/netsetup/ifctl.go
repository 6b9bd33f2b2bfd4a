package netsetup

import (
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request numbers from linux/sockios.h.
const (
	siocSIFADDR    = 0x8916
	siocSIFNETMASK = 0x891b
	siocSIFHWADDR  = 0x8924
	siocSIFMTU     = 0x8922
	siocSIFFLAGS   = 0x8914
	siocGIFFLAGS   = 0x8913

	arphrdEther = 1

	iffUp      = 0x1
	iffRunning = 0x40
)

// ifreqAddr mirrors the `struct ifreq` overlay used by SIOCSIFADDR /
// SIOCSIFNETMASK: a 16-byte name followed by a struct sockaddr.
type ifreqAddr struct {
	Name   [ifNameSize]byte
	Family uint16
	Port   uint16
	Addr   [4]byte
	_      [8]byte
}

type ifreqHWAddr struct {
	Name   [ifNameSize]byte
	Family uint16
	Data   [14]byte
}

type ifreqInt struct {
	Name  [ifNameSize]byte
	Value int32
	_     [12]byte
}

func withSocket(fn func(fd int) error) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)
	return fn(fd)
}

func setMTU(name string, mtu int) error {
	return withSocket(func(fd int) error {
		var req ifreqInt
		copy(req.Name[:], name)
		req.Value = int32(mtu)
		return rawIoctl(uintptr(fd), siocSIFMTU, unsafe.Pointer(&req))
	})
}

func setHWAddr(name string, mac net.HardwareAddr) error {
	return withSocket(func(fd int) error {
		var req ifreqHWAddr
		copy(req.Name[:], name)
		req.Family = arphrdEther
		copy(req.Data[:], mac)
		return rawIoctl(uintptr(fd), siocSIFHWADDR, unsafe.Pointer(&req))
	})
}

func setFlagsUp(name string) error {
	return withSocket(func(fd int) error {
		var req ifreqInt
		copy(req.Name[:], name)
		// best-effort: set UP|RUNNING without first reading existing
		// flags, matching the reference agent's minimal bring-up.
		req.Value = iffUp | iffRunning
		return rawIoctl(uintptr(fd), siocSIFFLAGS, unsafe.Pointer(&req))
	})
}

// setAddr assigns ip/mask to name, brings it up, and installs gw as the
// default route if non-nil. IPv6 addressing and routes are applied via
// the same rtnetlink path used for IPv4, simplified to the single-address
// case this agent needs (spec.md §4.5 never configures more than one
// address per interface per call).
func setAddr(name string, ip net.IP, mask net.IPMask, gw net.IP) error {
	v4 := ip.To4()
	if v4 == nil {
		// IPv6: address assignment goes through rtnetlink (no classic
		// ioctl exists for AF_INET6 addresses).
		return nlAddAddr6(name, ip, mask)
	}

	if err := withSocket(func(fd int) error {
		var req ifreqAddr
		copy(req.Name[:], name)
		req.Family = unix.AF_INET
		copy(req.Addr[:], v4)
		if err := rawIoctl(uintptr(fd), siocSIFADDR, unsafe.Pointer(&req)); err != nil {
			return err
		}

		var maskReq ifreqAddr
		copy(maskReq.Name[:], name)
		maskReq.Family = unix.AF_INET
		copy(maskReq.Addr[:], []byte(mask))
		if err := rawIoctl(uintptr(fd), siocSIFNETMASK, unsafe.Pointer(&maskReq)); err != nil {
			return err
		}

		return nil
	}); err != nil {
		return err
	}

	if err := setFlagsUp(name); err != nil {
		return err
	}

	if gw != nil {
		return nlAddDefaultRoute4(name, gw)
	}
	return nil
}

func rawIoctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
