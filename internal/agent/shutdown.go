package agent

import (
	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/agentlog"
)

// Shutdown implements spec.md §4.8/§9's "init-phase vs. steady state"
// ordering in reverse: stop every forwarder, close the fds this agent
// owns, and power off. It is idempotent; the event loop checks
// shuttingDown after every dispatched event and exits Run promptly.
func (a *Agent) Shutdown() {
	if a.shuttingDown {
		return
	}
	a.shuttingDown = true

	if a.netMgr != nil {
		a.netMgr.Stop()
	}

	unix.Close(a.sigfd)
	unix.Close(a.epfd)
	a.cmdFile.Close()

	agentlog.Info("agent: shutting down, powering off")
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_POWER_OFF); err != nil {
		agentlog.Error("agent: reboot(POWER_OFF): %v", err)
	}
}
