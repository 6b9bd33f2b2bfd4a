// Package agent implements spec.md §4.7/§4.8: the single readiness-driven
// event loop multiplexing the command channel, the signal channel, and
// the read ends of child pipes, dispatching every MSG_* request and
// emitting NOTIFY_* messages. Grounded on
// original_source/runtime/init-container/src/init.c's epoll-based main
// loop and, stylistically, on cmd/miniccc/mux.go's
// (single-goroutine "read one frame, dispatch by type" shape).
package agent

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/netsetup"
	"github.com/vmguest/agent/internal/process"
	"github.com/vmguest/agent/internal/vfsbridge"
	"github.com/vmguest/agent/internal/wire"
)

// epollFDKind tags a watched fd (spec.md §3 "Epoll descriptor").
type epollFDKind int

const (
	epollCmdChannel epollFDKind = iota
	epollSigChannel
	epollFDIn  // pipe/PTY read end from a child (fd 1 or 2)
	epollFDOut // reserved, never armed (spec.md §4.7, §9 Open Question b)
)

type watchedFD struct {
	kind    epollFDKind
	procID  uint64
	fdIndex int
}

// Agent is the global agent state of spec.md §3.
type Agent struct {
	mu sync.Mutex

	cmdFile *os.File
	reader  *wire.Reader
	writer  *wire.Writer

	sup    *process.Supervisor
	netMgr *netsetup.Manager
	vfs    *vfsbridge.Bridge

	epfd int
	sigfd int

	watched map[int]*watchedFD

	// liveIDs tracks every non-freed process id, since internal/registry
	// deliberately offers no iteration (spec.md §4.3); the event loop
	// needs this set only to kill everyone else when the entrypoint dies
	// (spec.md §4.7).
	liveIDs map[uint64]bool

	shuttingDown bool
}

func New(cmdFile *os.File, sup *process.Supervisor, netMgr *netsetup.Manager) (*Agent, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("agent: epoll_create1: %w", err)
	}

	sigfd, err := makeSignalFD()
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	a := &Agent{
		cmdFile: cmdFile,
		reader:  wire.NewReader(cmdFile),
		writer:  wire.NewWriter(cmdFile),
		sup:     sup,
		netMgr:  netMgr,
		vfs:     vfsbridge.New(),
		epfd:    epfd,
		sigfd:   sigfd,
		watched: make(map[int]*watchedFD),
		liveIDs: make(map[uint64]bool),
	}

	if err := a.arm(int(cmdFile.Fd()), &watchedFD{kind: epollCmdChannel}); err != nil {
		return nil, err
	}
	if err := a.arm(sigfd, &watchedFD{kind: epollSigChannel}); err != nil {
		return nil, err
	}

	return a, nil
}

// makeSignalFD blocks SIGCHLD on this thread and returns a signalfd that
// reads structured signal records instead of relying on a Go signal
// channel, matching the reference agent's signalfd(2) usage exactly
// (spec.md §4.7 "Signal channel").
func makeSignalFD() (int, error) {
	var set unix.Sigset_t
	set.Val[0] |= 1 << (uint(unix.SIGCHLD) - 1)

	if err := unix.SigprocmaskSigsetsize(unix.SIG_BLOCK, &set, nil, 8); err != nil {
		return -1, fmt.Errorf("agent: sigprocmask: %w", err)
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return -1, fmt.Errorf("agent: signalfd: %w", err)
	}
	return fd, nil
}

func (a *Agent) arm(fd int, w *watchedFD) error {
	a.watched[fd] = w
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	return unix.EpollCtl(a.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (a *Agent) disarm(fd int) {
	delete(a.watched, fd)
	unix.EpollCtl(a.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// rearm re-registers a previously disarmed pipe read end, used when
// MSG_QUERY_OUTPUT drains a full buffer (spec.md §4.7).
func (a *Agent) rearm(fd int, w *watchedFD) {
	if _, ok := a.watched[fd]; ok {
		return
	}
	if err := a.arm(fd, w); err != nil {
		agentlog.Error("agent: rearm fd %d: %v", fd, err)
	}
}

// Run is the single suspension point of spec.md §5: it blocks in
// EpollWait and dispatches everything synchronously per wake-up.
func (a *Agent) Run() error {
	events := make([]unix.EpollEvent, 16)

	for !a.shuttingDown {
		n, err := unix.EpollWait(a.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("agent: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			w, ok := a.watched[fd]
			if !ok {
				continue
			}

			switch w.kind {
			case epollCmdChannel:
				if err := a.handleCommand(); err != nil {
					agentlog.Fatal("agent: command channel: %v", err)
					a.Shutdown()
					return nil
				}
			case epollSigChannel:
				a.handleSignal()
			case epollFDIn:
				a.handlePipeReadable(fd, w)
			case epollFDOut:
				// reserved, never armed
			}

			if a.shuttingDown {
				break
			}
		}
	}

	return nil
}
