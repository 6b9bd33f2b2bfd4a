// Package process implements the supervisor half of spec.md: process
// descriptors, the spawn algorithm (§4.6), and the redirection variants
// (§3) including the PTY expansion (SPEC_FULL.md §10.4).
package process

import "sync"

// Process is one supervised child (spec.md §3 "Process descriptor"). It
// satisfies registry.Descriptor so it can live in internal/registry's
// dual-keyed index directly.
type Process struct {
	mu sync.Mutex

	id    uint64
	pid   int
	alive bool

	IsEntrypoint bool

	// Redir[0], Redir[1], Redir[2] are indexed by child-side fd.
	Redir [3]*Redirection
}

func (p *Process) ID() uint64 { return p.id }
func (p *Process) Pid() int   { return p.pid }

func (p *Process) SetAlive(alive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive = alive
}

func (p *Process) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive
}

// Freeable reports the invariant from spec.md §3/§8: a descriptor is
// destroyed only when it is dead and every redirection buffer is empty.
func (p *Process) Freeable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alive {
		return false
	}
	for _, r := range p.Redir {
		if r != nil && !r.Empty() {
			return false
		}
	}
	return true
}
