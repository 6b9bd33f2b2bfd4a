package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/registry"
)

var (
	ErrAlreadyEntrypoint = errors.New("process: an entrypoint is already running")
	ErrInvalidFD         = errors.New("process: fd must be 0, 1, or 2")
)

// RedirSpec describes one requested child-fd redirection, decoded from an
// RFD sub-message (spec.md §6).
type RedirSpec struct {
	Kind     RedirKind
	Path     string // RedirFile; empty means synthesize under the output prefix
	Capacity int    // RedirPipeBlocking / RedirPipeCyclic / RedirPTY
}

// SpawnRequest collects the fields spec.md §4.6 takes as input.
type SpawnRequest struct {
	Bin          string
	Argv         []string
	Env          []string // nil means inherit the agent's environment
	UID, GID     uint32
	Cwd          string
	IsEntrypoint bool
	Redir        [3]RedirSpec
}

// Supervisor owns the process registry, the entrypoint pointer, and the
// fixed output-directory prefix new file redirections are synthesized
// under (spec.md §6 "Persisted state layout").
type Supervisor struct {
	mu           sync.Mutex
	Registry     *registry.Registry
	OutputPrefix string
	entrypoint   *Process
}

func NewSupervisor(outputPrefix string) *Supervisor {
	return &Supervisor{
		Registry:     registry.New(),
		OutputPrefix: outputPrefix,
	}
}

func (s *Supervisor) Entrypoint() *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entrypoint
}

// Spawn implements the algorithm of spec.md §4.6, steps 4-6. The
// fork/exec step itself is delegated to syscall.ForkExec:
// the Go runtime's fork-exec helper already performs the exact
// "close-on-exec status pipe, EOF means exec succeeded" technique
// described by hand in spec.md §4.6 (see
// runtime/syscall_linux.go's forkAndExecInChild),
// so re-implementing a second status pipe on top of it would just
// duplicate what the standard library already guarantees: ForkExec
// returns nil only once execve has actually replaced the child image,
// and a descriptive error otherwise, with the child reaped internally.
func (s *Supervisor) Spawn(req SpawnRequest) (*Process, error) {
	if req.IsEntrypoint {
		s.mu.Lock()
		exists := s.entrypoint != nil
		s.mu.Unlock()
		if exists {
			return nil, ErrAlreadyEntrypoint
		}
	}

	id := s.Registry.NextID()
	outDir := filepath.Join(s.OutputPrefix, strconv.FormatUint(id, 10))
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return nil, fmt.Errorf("process: mkdir %s: %w", outDir, err)
	}

	proc := &Process{id: id, IsEntrypoint: req.IsEntrypoint}

	// Build each of the three redirections; roll every one of them back
	// on any failure (spec.md §4.6 "Failure semantics").
	rollback := func() {
		for _, r := range proc.Redir {
			if r != nil {
				r.Teardown()
			}
		}
	}

	for fd := 0; fd < 3; fd++ {
		spec := req.Redir[fd]
		var r *Redirection
		var err error

		switch spec.Kind {
		case RedirFile:
			path := spec.Path
			if path == "" {
				path = filepath.Join(outDir, strconv.Itoa(fd))
			}
			r, err = NewFileRedirection(path, fd)
		case RedirPipeBlocking:
			r, err = NewPipeRedirection(false, spec.Capacity, fd)
		case RedirPipeCyclic:
			r, err = NewPipeRedirection(true, spec.Capacity, fd)
		case RedirPTY:
			r, err = NewPTYRedirection(spec.Capacity, fd)
		default:
			err = fmt.Errorf("process: fd %d: %w", fd, ErrInvalidFD)
		}

		if err != nil {
			rollback()
			return nil, err
		}
		r.ProcessID = id
		proc.Redir[fd] = r
	}

	argv := req.Argv
	if len(argv) == 0 {
		argv = []string{req.Bin}
	}
	env := req.Env
	if env == nil {
		env = os.Environ()
	}

	files := []uintptr{
		proc.Redir[0].ChildFile().Fd(),
		proc.Redir[1].ChildFile().Fd(),
		proc.Redir[2].ChildFile().Fd(),
	}

	attr := &syscall.ProcAttr{
		Dir:   req.Cwd,
		Env:   env,
		Files: files,
		Sys: &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: req.UID, Gid: req.GID},
			Setsid:     req.IsEntrypoint,
		},
	}

	pid, err := syscall.ForkExec(req.Bin, argv, attr)
	if err != nil {
		rollback()
		return nil, fmt.Errorf("process: exec %s: %w", req.Bin, err)
	}

	proc.pid = pid
	proc.SetAlive(true)

	for _, r := range proc.Redir {
		r.CloseChildSide()
		if fd := r.ParentFD(); fd >= 0 {
			if err := syscall.SetNonblock(fd, true); err != nil {
				agentlog.Warn("process %d: set nonblocking fd %d: %v", id, fd, err)
			}
		}
	}

	s.Registry.Insert(proc)

	if req.IsEntrypoint {
		s.mu.Lock()
		s.entrypoint = proc
		s.mu.Unlock()
	}

	return proc, nil
}

// Kill sends an uncatchable signal to the process and marks it for reaping
// by the SIGCHLD handler in the event loop; it does not itself wait on
// the child (that belongs to internal/agent's signal-channel handler,
// spec.md §4.7).
func (s *Supervisor) Kill(id uint64) error {
	d, ok := s.Registry.ByID(id)
	if !ok {
		return fmt.Errorf("process: %w", ErrUnknownProcess)
	}
	proc := d.(*Process)
	if !proc.Alive() {
		return fmt.Errorf("process: %w", ErrUnknownProcess)
	}
	return syscall.Kill(proc.Pid(), syscall.SIGKILL)
}

var ErrUnknownProcess = errors.New("process: unknown process id")
