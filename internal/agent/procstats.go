package agent

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/wire"
)

// handleQueryProcStats implements MSG_QUERY_PROC_STATS (SPEC_FULL.md
// §10.1): ID, END, returning the fixed stat record or ESRCH.
func (a *Agent) handleQueryProcStats(msgID uint64) error {
	var id uint64
	var haveID bool

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read QUERY_PROC_STATS sub-type: %w", err)
		}

		switch sub {
		case wire.SubStatID:
			v, err := a.reader.ReadU64()
			if err != nil {
				return fmt.Errorf("agent: read stat ID: %w", err)
			}
			id, haveID = v, true
		case wire.SubStatEnd:
			if !haveID {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			st, err := a.sup.QueryStats(id)
			if err != nil {
				return a.writer.WriteErr(msgID, uint32(unix.ESRCH))
			}
			return a.writer.WriteOKBytes(msgID, st.Encode())
		default:
			return a.fatalProtocol(msgID)
		}
	}
}
