package process

import (
	"fmt"
	"os"

	"github.com/kr/pty"

	"github.com/vmguest/agent/internal/ringbuf"
)

// RedirKind is the tagged variant over a redirection descriptor's four
// live cases plus Invalid (spec.md §3). PTY is the expansion added by
// SPEC_FULL.md §10.4, grounded on the go.mod kr/pty dependency.
type RedirKind int

const (
	RedirInvalid RedirKind = iota
	RedirFile
	RedirPipeBlocking
	RedirPipeCyclic
	RedirPTY
)

// Redirection owns everything needed to materialize one child fd (0, 1,
// or 2): either a plain file, or a ring-buffer-backed pipe/PTY pair. Per
// the Design Note in spec.md §9, a pipe-backed redirection strictly owns
// its ring buffer and both pipe fds; nothing else may close them.
type Redirection struct {
	Kind RedirKind

	// File mode.
	Path string
	file *os.File

	// Pipe/PTY mode.
	Buf        *ringbuf.Buffer
	parentSide *os.File // kept open by the agent, registered with epoll for fd 1/2; the write side for fd 0
	childSide  *os.File // duplicated into the child, closed in the parent after fork

	// back-pointer set at registration (Design Note, spec.md §9): which
	// process and which child fd this redirection belongs to.
	ProcessID uint64
	FDIndex   int
}

// NewFileRedirection opens (or creates) the backing file for child fd
// fdIndex. fd 0 is opened read-only; fd 1/2 are created exclusively,
// matching spec.md §4.6 step 3.
func NewFileRedirection(path string, fdIndex int) (*Redirection, error) {
	var f *os.File
	var err error

	if fdIndex == 0 {
		f, err = os.OpenFile(path, os.O_RDONLY, 0)
	} else {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0700)
	}
	if err != nil {
		return nil, fmt.Errorf("redirect: open %s: %w", path, err)
	}

	return &Redirection{Kind: RedirFile, Path: path, file: f, FDIndex: fdIndex}, nil
}

// NewPipeRedirection allocates the ring buffer and a close-on-exec pipe
// pair (spec.md §4.6 step 3, Pipe case). fd 0 hands the read end to the
// child and keeps the write end in the agent; fd 1/2 hand the write end
// to the child and keep the read end in the agent.
func NewPipeRedirection(cyclic bool, capacity int, fdIndex int) (*Redirection, error) {
	mode := ringbuf.Blocking
	kind := RedirPipeBlocking
	if cyclic {
		mode = ringbuf.Cyclic
		kind = RedirPipeCyclic
	}

	buf, err := ringbuf.New(mode, capacity)
	if err != nil {
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("redirect: pipe: %w", err)
	}

	red := &Redirection{Kind: kind, Buf: buf, FDIndex: fdIndex}
	if fdIndex == 0 {
		red.childSide, red.parentSide = r, w
	} else {
		red.parentSide, red.childSide = r, w
	}
	return red, nil
}

// NewPTYRedirection allocates the ring buffer and a PTY pair instead of a
// plain pipe (SPEC_FULL.md §10.4): the slave side becomes the child's
// controlling terminal, the master side is the agent's non-blocking end.
func NewPTYRedirection(capacity int, fdIndex int) (*Redirection, error) {
	buf, err := ringbuf.New(ringbuf.Blocking, capacity)
	if err != nil {
		return nil, err
	}

	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("redirect: pty open: %w", err)
	}

	return &Redirection{
		Kind:       RedirPTY,
		Buf:        buf,
		parentSide: master,
		childSide:  slave,
		FDIndex:    fdIndex,
	}, nil
}

// ChildFile returns the *os.File to duplicate into the child's fd slot.
func (r *Redirection) ChildFile() *os.File {
	if r.Kind == RedirFile {
		return r.file
	}
	return r.childSide
}

// CloseChildSide closes the side handed to the child, called in the
// parent right after fork/exec succeeds (spec.md §4.6 step 7).
func (r *Redirection) CloseChildSide() {
	switch r.Kind {
	case RedirFile:
		r.file.Close()
	case RedirPipeBlocking, RedirPipeCyclic, RedirPTY:
		r.childSide.Close()
	}
}

// ParentFD returns the agent-side fd to register with the event loop, or
// -1 for file redirections (which are not multiplexed).
func (r *Redirection) ParentFD() int {
	if r.parentSide == nil {
		return -1
	}
	return int(r.parentSide.Fd())
}

// Teardown releases every fd this redirection owns, used when a spawn is
// rolled back (spec.md §4.6 "Failure semantics").
func (r *Redirection) Teardown() {
	switch r.Kind {
	case RedirFile:
		if r.file != nil {
			r.file.Close()
		}
	case RedirPipeBlocking, RedirPipeCyclic, RedirPTY:
		if r.parentSide != nil {
			r.parentSide.Close()
		}
		if r.childSide != nil {
			r.childSide.Close()
		}
	}
}

// Empty reports whether this redirection has no buffered output left,
// used by the "descriptor freed iff !alive && all redir buffers empty"
// invariant (spec.md §3, §8).
func (r *Redirection) Empty() bool {
	if r.Buf == nil {
		return true
	}
	return r.Buf.DataSize() == 0
}

// ErrNoData mirrors spec.md §8's boundary case "off = file_size returns
// no-data (ENXIO)", generalized to the ring-buffer case as "off is not
// the buffer's current head" (this is a pull/drain interface, not
// random access: once bytes are drained or overwritten they are gone).
var ErrNoData = fmt.Errorf("redirect: no data at requested offset")

// ReadOutput implements MSG_QUERY_OUTPUT for either backing: a File
// redirection supports true random access via ReadAt; a Pipe/PTY
// redirection only supports reading forward from its current absolute
// head offset, draining what it returns.
func (r *Redirection) ReadOutput(off int64, n int) ([]byte, error) {
	if r.Kind == RedirFile {
		// r.file is the O_WRONLY handle used while the child was alive and
		// is closed by CloseChildSide right after spawn; queries arrive
		// afterward, so re-open the path read-only here rather than reuse it.
		f, err := os.Open(r.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if off >= info.Size() {
			return nil, ErrNoData
		}
		buf := make([]byte, n)
		got, err := f.ReadAt(buf, off)
		if err != nil && got == 0 {
			return nil, err
		}
		return buf[:got], nil
	}

	if off != int64(r.Buf.Head()) {
		return nil, ErrNoData
	}
	return r.Buf.DrainTo(n), nil
}
