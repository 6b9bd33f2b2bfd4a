// Package vfsbridge implements the tunneled-9P mode of MSG_MOUNT_VOLUME
// (SPEC_FULL.md §10.2), adapted from cmd/miniccc/ufs.go:
// the same ufs.NewServer + protocol.NewServer + net.Pipe() shape, but
// relayed over this agent's own framed command channel instead of a
// second gob-encoded ron.Message tunnel field.
package vfsbridge

import (
	"errors"
	"fmt"
	"net"
	"sync"

	ufs "github.com/Harvey-OS/ninep/filesystem"
	"github.com/Harvey-OS/ninep/protocol"

	"github.com/vmguest/agent/internal/agentlog"
)

var ErrAlreadyRunning = errors.New("vfsbridge: a tunnel is already running")
var ErrNotRunning = errors.New("vfsbridge: no tunnel is running")

// Bridge serves one directory over 9P2000.L to a single tunneled peer at
// a time -- mirroring ufs.go's rootFS singleton, since this agent
// only ever has one command channel to relay the tunnel across.
type Bridge struct {
	mu      sync.Mutex
	server  *protocol.Server
	remote  net.Conn // agent side: relayed to/from the command channel
	local   net.Conn // ninep server side
	running bool
}

func New() *Bridge {
	return &Bridge{}
}

// Open starts serving root over a fresh net.Pipe() and returns the
// agent-side end; the caller (internal/agent's MSG_MOUNT_VOLUME handler)
// pumps bytes between this conn and the command channel's tunnel
// sub-messages.
func (b *Bridge) Open(root string) (net.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil, ErrAlreadyRunning
	}

	fs, err := ufs.NewServer(ufs.Root(root), ufs.Trace(agentlog.Debug))
	if err != nil {
		return nil, fmt.Errorf("vfsbridge: new ufs server: %w", err)
	}
	ps, err := protocol.NewServer(fs, protocol.Trace(agentlog.Debug))
	if err != nil {
		return nil, fmt.Errorf("vfsbridge: new protocol server: %w", err)
	}
	b.server = ps

	b.remote, b.local = net.Pipe()
	b.running = true

	go func() {
		if err := b.server.Accept(b.local); err != nil {
			agentlog.Error("vfsbridge: accept: %v", err)
		}
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	return b.remote, nil
}

// Close tears down the tunnel, matching ufs.go's UFS_CLOSE path.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return ErrNotRunning
	}
	b.running = false
	return b.remote.Close()
}
