package agent

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/process"
	"github.com/vmguest/agent/internal/wire"
)

// handleQueryOutput decodes ID/FD/OFF/LEN/END and pulls bytes from the
// named redirection (spec.md §4.7's "pull interface").
func (a *Agent) handleQueryOutput(msgID uint64) error {
	var id uint64
	var fd uint8
	var off, length uint64
	var haveID, haveFD bool

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read QUERY_OUTPUT sub-type: %w", err)
		}

		switch sub {
		case wire.SubQID:
			v, err := a.reader.ReadU64()
			if err != nil {
				return fmt.Errorf("agent: read QID: %w", err)
			}
			id, haveID = v, true
		case wire.SubQFD:
			v, err := a.reader.ReadU8()
			if err != nil {
				return fmt.Errorf("agent: read QFD: %w", err)
			}
			fd, haveFD = v, true
		case wire.SubQOff:
			v, err := a.reader.ReadU64()
			if err != nil {
				return fmt.Errorf("agent: read QOFF: %w", err)
			}
			off = v
		case wire.SubQLen:
			v, err := a.reader.ReadU64()
			if err != nil {
				return fmt.Errorf("agent: read QLEN: %w", err)
			}
			length = v
		case wire.SubQEnd:
			if !haveID || !haveFD {
				return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
			}
			return a.finishQueryOutput(msgID, id, fd, off, length)
		default:
			return a.fatalProtocol(msgID)
		}
	}
}

func (a *Agent) finishQueryOutput(msgID uint64, id uint64, fd uint8, off, length uint64) error {
	if fd < 1 || fd > 2 {
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}

	d, ok := a.sup.Registry.ByID(id)
	if !ok {
		return a.writer.WriteErr(msgID, uint32(unix.ESRCH))
	}
	proc := d.(*process.Process)
	r := proc.Redir[fd]
	if r == nil {
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}

	out, err := r.ReadOutput(int64(off), int(length))
	if err != nil {
		if errors.Is(err, process.ErrNoData) {
			return a.writer.WriteErr(msgID, uint32(unix.ENXIO))
		}
		return a.writer.WriteErr(msgID, uint32(unix.EIO))
	}

	if err := a.writer.WriteOKBytes(msgID, out); err != nil {
		return err
	}

	if r.Kind != process.RedirFile {
		fdKey := r.ParentFD()
		if fdKey >= 0 {
			a.rearm(fdKey, &watchedFD{kind: epollFDIn, procID: id, fdIndex: int(fd)})
		}
	}

	a.maybeFreeProcess(proc)
	return nil
}

// handlePipeReadable implements spec.md §4.7's "pipe read ends from
// children" bullet: drain into the ring buffer, emit the 0→non-empty
// NOTIFY_OUTPUT_AVAILABLE transition, and deregister once full.
func (a *Agent) handlePipeReadable(fd int, w *watchedFD) {
	d, ok := a.sup.Registry.ByID(w.procID)
	if !ok {
		a.disarm(fd)
		return
	}
	proc := d.(*process.Process)
	r := proc.Redir[w.fdIndex]
	if r == nil || r.Buf == nil {
		a.disarm(fd)
		return
	}

	wasEmpty := r.Buf.DataSize() == 0

	// Capacity() is an upper bound for one read; ReadFromFD clips it to
	// FreeSize() in Blocking mode and admits it regardless in Cyclic mode
	// (internal/ringbuf.Buffer.ReadFromFD).
	n, err := r.Buf.ReadFromFD(fd, r.Buf.Capacity())
	if err != nil {
		agentlog.Warn("agent: read pipe fd %d (process %d): %v", fd, w.procID, err)
		return
	}
	if n == 0 {
		a.disarm(fd)
		return
	}

	if wasEmpty {
		if err := a.writer.WriteNotifyOutputAvailable(w.procID, uint32(w.fdIndex)); err != nil {
			agentlog.Error("agent: notify output available: %v", err)
		}
	}

	if r.Buf.FreeSize() == 0 {
		a.disarm(fd)
	}
}

// maybeFreeProcess implements the descriptor-freed invariant of spec.md
// §3/§8: !alive && every redirection buffer empty.
func (a *Agent) maybeFreeProcess(proc *process.Process) {
	if !proc.Freeable() {
		return
	}
	a.sup.Registry.RemoveByID(proc.ID())
	delete(a.liveIDs, proc.ID())
}
