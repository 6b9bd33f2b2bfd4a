package agent

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/process"
	"github.com/vmguest/agent/internal/wire"
)

// handleRunProcess decodes the BIN/ARG/ENV/UID/GID/RFD/CWD/ENT sub-message
// sequence of spec.md §6 and drives process.Supervisor.Spawn. A parse
// error on one RFD is recoverable (spec.md §7): every remaining
// sub-message is still consumed so the framing stays aligned, and only
// the first recorded error is returned.
func (a *Agent) handleRunProcess(msgID uint64) error {
	var req process.SpawnRequest
	var firstErr error

	for {
		sub, err := a.reader.ReadU8()
		if err != nil {
			return fmt.Errorf("agent: read RUN_PROCESS sub-type: %w", err)
		}

		switch sub {
		case wire.SubBin:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read BIN: %w", err)
			}
			req.Bin = s

		case wire.SubArg:
			ss, err := a.reader.ReadStringArray()
			if err != nil {
				return fmt.Errorf("agent: read ARG: %w", err)
			}
			req.Argv = ss

		case wire.SubEnv:
			ss, err := a.reader.ReadStringArray()
			if err != nil {
				return fmt.Errorf("agent: read ENV: %w", err)
			}
			req.Env = ss

		case wire.SubUID:
			v, err := a.reader.ReadU32()
			if err != nil {
				return fmt.Errorf("agent: read UID: %w", err)
			}
			req.UID = v

		case wire.SubGID:
			v, err := a.reader.ReadU32()
			if err != nil {
				return fmt.Errorf("agent: read GID: %w", err)
			}
			req.GID = v

		case wire.SubCWD:
			s, err := a.reader.ReadCString()
			if err != nil {
				return fmt.Errorf("agent: read CWD: %w", err)
			}
			req.Cwd = s

		case wire.SubEnt:
			req.IsEntrypoint = true

		case wire.SubRFD:
			if err := a.readRFD(&req, &firstErr); err != nil {
				if errors.Is(err, errUnknownRedirType) {
					return a.fatalProtocol(msgID)
				}
				return err
			}

		case wire.SubEnd:
			return a.finishRunProcess(msgID, req, firstErr)

		default:
			return a.fatalProtocol(msgID)
		}
	}
}

// readRFD decodes one RFD sub-message: u32 fd, u8 redir_type, then a
// type-shaped payload. An unrecognized redir_type desynchronizes framing
// (its payload shape is unknown) and is therefore escalated by the
// caller to fatalProtocol; every other problem (fd out of range, bad
// capacity) is recorded into *firstErr and parsing continues.
func (a *Agent) readRFD(req *process.SpawnRequest, firstErr *error) error {
	fd, err := a.reader.ReadU32()
	if err != nil {
		return fmt.Errorf("agent: read RFD fd: %w", err)
	}
	redirType, err := a.reader.ReadU8()
	if err != nil {
		return fmt.Errorf("agent: read RFD redir_type: %w", err)
	}

	var spec process.RedirSpec
	switch wire.RedirType(redirType) {
	case wire.RedirFile:
		path, err := a.reader.ReadCString()
		if err != nil {
			return fmt.Errorf("agent: read RFD path: %w", err)
		}
		spec = process.RedirSpec{Kind: process.RedirFile, Path: path}

	case wire.RedirPipeBlocking, wire.RedirPipeCyclic, wire.RedirPTY:
		cap, err := a.reader.ReadU64()
		if err != nil {
			return fmt.Errorf("agent: read RFD capacity: %w", err)
		}
		kind := process.RedirPipeBlocking
		switch wire.RedirType(redirType) {
		case wire.RedirPipeCyclic:
			kind = process.RedirPipeCyclic
		case wire.RedirPTY:
			kind = process.RedirPTY
		}
		spec = process.RedirSpec{Kind: kind, Capacity: int(cap)}

	default:
		// framing is now unrecoverable: we cannot know this sub-message's
		// payload width.
		return errUnknownRedirType
	}

	if fd >= 3 {
		if *firstErr == nil {
			*firstErr = fmt.Errorf("agent: %w: fd %d", process.ErrInvalidFD, fd)
		}
		return nil
	}

	req.Redir[fd] = spec
	return nil
}

var errUnknownRedirType = errors.New("agent: unknown redir_type")

func (a *Agent) finishRunProcess(msgID uint64, req process.SpawnRequest, firstErr error) error {
	if firstErr != nil {
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}
	if req.Bin == "" {
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}

	// Any fd never given an explicit RFD defaults to File with a
	// synthesized path (spec.md §4.6 step 3's "otherwise synthesize").
	for fd := 0; fd < 3; fd++ {
		if req.Redir[fd].Kind == process.RedirInvalid {
			req.Redir[fd] = process.RedirSpec{Kind: process.RedirFile}
		}
	}

	proc, err := a.sup.Spawn(req)
	if err != nil {
		if errors.Is(err, process.ErrAlreadyEntrypoint) {
			return a.writer.WriteErr(msgID, uint32(unix.EEXIST))
		}
		return a.writer.WriteErr(msgID, uint32(unix.EINVAL))
	}

	a.mu.Lock()
	a.liveIDs[proc.ID()] = true
	for fd, r := range proc.Redir {
		// Only fd 1/2 (stdout/stderr) have a readable parent side worth
		// multiplexing; fd 0's parent side is the write end the agent
		// would use for MSG_PUT_INPUT, which is fatal-unsupported.
		if pfd := r.ParentFD(); pfd >= 0 && fd != 0 {
			a.rearm(pfd, &watchedFD{kind: epollFDIn, procID: proc.ID(), fdIndex: fd})
		}
	}
	a.mu.Unlock()

	return a.writer.WriteOKU64(msgID, proc.ID())
}
