package agent

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/netsetup"
	"github.com/vmguest/agent/internal/wire"
)

// handleNetCtl decodes FLAGS/ADDR/MASK/GATEWAY/IF_ADDR/IF/END (spec.md §6)
// and applies them via netsetup.Manager.ApplyNetCtl.
func (a *Agent) handleNetCtl(msgID uint64) error {
	var req netsetup.NetCtlRequest

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read NET_CTL sub-type: %w", err)
		}

		switch sub {
		case wire.SubFlags:
			if _, err := a.reader.ReadU16(); err != nil {
				return fmt.Errorf("agent: read FLAGS: %w", err)
			}
		case wire.SubAddr:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read ADDR: %w", err)
			}
			req.Addr = s
		case wire.SubMask:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read MASK: %w", err)
			}
			req.Mask = s
		case wire.SubGateway:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read GATEWAY: %w", err)
			}
			req.Gateway = s
		case wire.SubIfAddr:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read IF_ADDR: %w", err)
			}
			req.IfAddr = s
		case wire.SubIf:
			v, err := a.reader.ReadU16()
			if err != nil {
				return fmt.Errorf("agent: read IF: %w", err)
			}
			req.If = netsetup.Interface(v)
		case wire.SubNetEnd:
			if err := a.netMgr.ApplyNetCtl(req); err != nil {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			return a.writer.WriteOK(msgID)
		default:
			return a.fatalProtocol(msgID)
		}
	}
}

// handleNetHost decodes a sequence of ENTRY(ip,hostname) pairs terminated
// by END and appends exactly that many lines to the hosts file (spec.md
// §4.5, §8 "N entries → N lines").
func (a *Agent) handleNetHost(msgID uint64) error {
	var pairs [][2]string

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read NET_HOST sub-type: %w", err)
		}

		switch sub {
		case wire.SubEntry:
			ip, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read ENTRY ip: %w", err)
			}
			host, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read ENTRY hostname: %w", err)
			}
			pairs = append(pairs, [2]string{ip, host})
		case wire.SubHostEnd:
			if err := netsetup.AppendHosts(pairs); err != nil {
				return a.writer.WriteErr(msgID, uint32(unix.EIO))
			}
			return a.writer.WriteOK(msgID)
		default:
			return a.fatalProtocol(msgID)
		}
	}
}
