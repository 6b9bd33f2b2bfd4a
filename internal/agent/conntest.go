package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/conntest"
	"github.com/vmguest/agent/internal/wire"
)

// handleConnTest implements MSG_CONN_TEST (SPEC_FULL.md §10.3): the one
// dispatcher handler with an explicit timeout, since it performs real
// network I/O.
func (a *Agent) handleConnTest(msgID uint64) error {
	var proto wire.ConnProto
	var host string
	var port uint16
	var timeoutMS uint32
	var haveHost bool

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read CONN_TEST sub-type: %w", err)
		}

		switch sub {
		case wire.SubProto:
			v, err := a.reader.ReadU8()
			if err != nil {
				return fmt.Errorf("agent: read PROTO: %w", err)
			}
			proto = wire.ConnProto(v)
		case wire.SubHost:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read HOST: %w", err)
			}
			host, haveHost = s, true
		case wire.SubPort:
			v, err := a.reader.ReadU16()
			if err != nil {
				return fmt.Errorf("agent: read PORT: %w", err)
			}
			port = v
		case wire.SubTimeout:
			v, err := a.reader.ReadU32()
			if err != nil {
				return fmt.Errorf("agent: read TIMEOUT: %w", err)
			}
			timeoutMS = v
		case wire.SubConnEnd:
			if !haveHost {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			return a.finishConnTest(msgID, proto, host, port, timeoutMS)
		default:
			return a.fatalProtocol(msgID)
		}
	}
}

func (a *Agent) finishConnTest(msgID uint64, wp wire.ConnProto, host string, port uint16, timeoutMS uint32) error {
	var cp conntest.Proto
	switch wp {
	case wire.ConnTCP:
		cp = conntest.TCP
	case wire.ConnUDP:
		cp = conntest.UDP
	case wire.ConnICMP:
		cp = conntest.ICMP
	case wire.ConnDNS:
		cp = conntest.DNS
	default:
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}

	if timeoutMS == 0 {
		timeoutMS = 5000
	}

	rtt, err := conntest.Probe(context.Background(), cp, host, port, time.Duration(timeoutMS)*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return a.writer.WriteErr(msgID, uint32(unix.ETIMEDOUT))
		}
		return a.writer.WriteErr(msgID, uint32(unix.EHOSTUNREACH))
	}

	return a.writer.WriteOKU64(msgID, uint64(rtt.Microseconds()))
}
