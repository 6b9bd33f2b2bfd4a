package agent

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/wire"
)

// handleMountVolume implements both modes of SPEC_FULL.md §10.2. The
// primary mode matches original_source's do_mount exactly: a direct
// virtio-9p kernel mount. The "ufs" tag enters the supplemental
// tunneled-9P continuation instead of returning immediately.
func (a *Agent) handleMountVolume(msgID uint64) error {
	var tag, path string

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read MOUNT_VOLUME sub-type: %w", err)
		}

		switch sub {
		case wire.SubTag:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read TAG: %w", err)
			}
			tag = s

		case wire.SubPath:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read PATH: %w", err)
			}
			path = s

		case wire.SubMountEnd:
			if tag == "" || path == "" {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			if tag == "ufs" {
				return a.runUFSTunnel(msgID, path)
			}
			if err := unix.Mount(tag, path, "9p", 0, "trans=virtio,version=9p2000.L"); err != nil {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			return a.writer.WriteOK(msgID)

		default:
			return a.fatalProtocol(msgID)
		}
	}
}

// runUFSTunnel relays 9P traffic between the host and a vfsbridge.Bridge
// serving path, using DATA/CLOSE continuation sub-messages that keep
// reusing msgID (SPEC_FULL.md §10.2). It blocks the event loop for the
// tunnel's lifetime, acceptable since this mode is a host-introspection
// convenience, not a core-contract path.
func (a *Agent) runUFSTunnel(msgID uint64, path string) error {
	conn, err := a.vfs.Open(path)
	if err != nil {
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}

	if err := a.writer.WriteOK(msgID); err != nil {
		a.vfs.Close()
		return err
	}

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			a.vfs.Close()
			return fmt.Errorf("agent: read UFS continuation sub-type: %w", err)
		}

		switch sub {
		case wire.SubUFSData:
			in, err := a.reader.ReadBytes()
			if err != nil {
				a.vfs.Close()
				return fmt.Errorf("agent: read UFS_DATA: %w", err)
			}
			if len(in) > 0 {
				if _, err := conn.Write(in); err != nil {
					a.vfs.Close()
					return a.writer.WriteErr(msgID, uint32(unix.EIO))
				}
			}

			conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			reply := make([]byte, 65536)
			n, _ := conn.Read(reply)
			if err := a.writer.WriteOKBytes(msgID, reply[:n]); err != nil {
				a.vfs.Close()
				return err
			}

		case wire.SubUFSClose:
			a.vfs.Close()
			return a.writer.WriteOK(msgID)

		default:
			a.vfs.Close()
			return a.fatalProtocol(msgID)
		}
	}
}
