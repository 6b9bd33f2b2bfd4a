package agent

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/wire"
)

// handleKillProcess decodes ID/END and calls Supervisor.Kill. The worked
// example in spec.md §8 scenario 5 returns EINVAL (not ESRCH) for an
// unknown id, which this follows literally.
func (a *Agent) handleKillProcess(msgID uint64) error {
	var id uint64
	var haveID bool

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read KILL_PROCESS sub-type: %w", err)
		}

		switch sub {
		case wire.SubKillID:
			v, err := a.reader.ReadU64()
			if err != nil {
				return fmt.Errorf("agent: read KILL ID: %w", err)
			}
			id, haveID = v, true

		case wire.SubKillEnd:
			if !haveID {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			if err := a.sup.Kill(id); err != nil {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			return a.writer.WriteOK(msgID)

		default:
			return a.fatalProtocol(msgID)
		}
	}
}
