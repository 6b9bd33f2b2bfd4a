package agent

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/wire"
)

// handleCommand implements spec.md §4.7's "Command channel (readable)"
// bullet: parse one header, dispatch by type, let the handler read the
// rest of the message and emit the response itself. A returned error is
// always treated by the caller as unrecoverable I/O (regime 3, spec.md
// §7) and triggers shutdown; protocol violations (regime 2) are handled
// inline by each dispatch case via fatalProtocol.
func (a *Agent) handleCommand() error {
	hdr, err := a.reader.ReadHeader()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("agent: command channel closed")
		}
		return fmt.Errorf("agent: read header: %w", err)
	}

	switch hdr.Type {
	case wire.MsgQuit:
		if err := a.writer.WriteOK(hdr.MsgID); err != nil {
			return err
		}
		agentlog.Info("agent: MSG_QUIT received")
		a.Shutdown()
		return nil

	case wire.MsgRunProcess:
		return a.handleRunProcess(hdr.MsgID)
	case wire.MsgKillProcess:
		return a.handleKillProcess(hdr.MsgID)
	case wire.MsgMountVolume:
		return a.handleMountVolume(hdr.MsgID)
	case wire.MsgQueryOutput:
		return a.handleQueryOutput(hdr.MsgID)
	case wire.MsgNetCtl:
		return a.handleNetCtl(hdr.MsgID)
	case wire.MsgNetHost:
		return a.handleNetHost(hdr.MsgID)
	case wire.MsgQueryProcStats:
		return a.handleQueryProcStats(hdr.MsgID)
	case wire.MsgConnTest:
		return a.handleConnTest(hdr.MsgID)

	case wire.MsgUploadFile, wire.MsgPutInput, wire.MsgSyncFS:
		// Fatal-unsupported by design (spec.md §9 Open Question d): these
		// three remain request-level EPROTONOSUPPORT errors followed by
		// power-off, rather than promoted to ordinary request errors.
		a.writer.WriteErr(hdr.MsgID, uint32(unix.EPROTONOSUPPORT))
		agentlog.Error("agent: unsupported message type %d", hdr.Type)
		a.Shutdown()
		return nil

	default:
		return a.fatalProtocol(hdr.MsgID)
	}
}

// fatalProtocol implements regime 2 of spec.md §7: an unknown top-level
// type or sub-type desynchronizes the framing, so the only safe move is
// to report ENOPROTOOPT and power off rather than guess how many bytes
// to skip.
func (a *Agent) fatalProtocol(msgID uint64) error {
	a.writer.WriteErr(msgID, uint32(unix.ENOPROTOOPT))
	agentlog.Error("agent: protocol violation on msg %d", msgID)
	a.Shutdown()
	return nil
}
