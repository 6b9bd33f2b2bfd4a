package agent

import (
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/process"
)

// handleSignal implements spec.md §4.7's "Signal channel (readable)"
// bullet. The signalfd's own records are drained but not individually
// trusted for which pid died -- POSIX coalesces repeated standard
// signals, so the reliable recovery is the classic "wake up, then
// WNOHANG-reap every exited child" loop.
func (a *Agent) handleSignal() {
	var buf [128]byte
	for {
		if _, err := unix.Read(a.sigfd, buf[:]); err != nil {
			break
		}
	}

	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			break
		}
		a.reapProcess(pid, ws)
	}
}

func (a *Agent) reapProcess(pid int, ws syscall.WaitStatus) {
	d, ok := a.sup.Registry.ByPid(pid)
	if !ok {
		return
	}
	proc := d.(*process.Process)

	var status uint8
	var typeCode uint8
	switch {
	case ws.Exited():
		status, typeCode = uint8(ws.ExitStatus()), 0
	case ws.Signaled():
		status, typeCode = uint8(ws.Signal()), 1
		if ws.CoreDump() {
			typeCode = 2
		}
	default:
		return
	}

	proc.SetAlive(false)

	if err := a.writer.WriteNotifyProcessDied(proc.ID(), status, typeCode); err != nil {
		agentlog.Error("agent: notify process died: %v", err)
	}

	if proc.IsEntrypoint {
		agentlog.Info("agent: entrypoint (id %d) died, killing remaining processes", proc.ID())
		a.killAllExcept(proc.ID())
		a.Shutdown()
		return
	}

	a.maybeFreeProcess(proc)
}

// killAllExcept sends SIGKILL to every tracked process but except,
// matching spec.md §4.7's "kills every other process with a signal that
// cannot be caught". internal/registry deliberately has no iteration
// (spec.md §4.3), so the event loop keeps its own liveIDs set for this.
func (a *Agent) killAllExcept(except uint64) {
	for id := range a.liveIDs {
		if id == except {
			continue
		}
		if err := a.sup.Kill(id); err != nil {
			agentlog.Warn("agent: kill %d during shutdown: %v", id, err)
		}
	}
}
