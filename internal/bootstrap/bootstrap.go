// Package bootstrap implements the one-shot early boot sequence treated
// as an external collaborator by spec.md §1/§7 and pinned concretely by
// SPEC_FULL.md §10.6, grounded byte-exact on
// original_source/runtime/init-container/src/init.c's boot sequence. It
// never returns into the event loop's state (Design Note, spec.md §9):
// cmd/guestagent/main.go calls Run once, synchronously, before
// constructing the dispatcher.
package bootstrap

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/netsetup"
)

// OutputPrefix is the fixed per-process output directory root (spec.md §6).
const OutputPrefix = "/var/tmp/guest_agent_private/fds"

type mountSpec struct {
	source, target, fstype string
	flags                  uintptr
	data                    string
}

// earlyMounts is the exact sequence of standard mounts the reference
// agent performs before anything else can run (SPEC_FULL.md §10.6).
var earlyMounts = []mountSpec{
	{"proc", "/proc", "proc", 0, ""},
	{"sysfs", "/sys", "sysfs", 0, ""},
	{"devtmpfs", "/dev", "devtmpfs", 0, ""},
	{"devpts", "/dev/pts", "devpts", 0, ""},
	{"tmpfs", "/dev/shm", "tmpfs", 0, ""},
}

// Config carries the handful of overridable boot parameters the
// flag-based entrypoint (SPEC_FULL.md §10.6) exposes for test harnesses.
type Config struct {
	CmdDevPath  string
	VPNDevPath  string
	InetDevPath string
	OutputPrefix string

	// SkipMounts lets tests exercise hosts/resolv/loopback/sysctls and
	// network bring-up without requiring root or a real early-boot
	// environment (mounting /proc etc. over an already-booted test
	// machine would be both wrong and unprivileged).
	SkipMounts bool
}

// Run performs the boot sequence once: standard mounts, device nodes,
// then delegates hosts/resolver/loopback/sysctls/TAP bring-up to
// netsetup.Manager.Bootstrap (spec.md §4.5).
func Run(cfg Config) (*netsetup.Manager, error) {
	if !cfg.SkipMounts {
		if err := mountAll(); err != nil {
			return nil, err
		}
		if err := makeDeviceNodes(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(cfg.OutputPrefix, 0700); err != nil {
		return nil, fmt.Errorf("bootstrap: mkdir %s: %w", cfg.OutputPrefix, err)
	}

	mgr := netsetup.NewManager()
	if err := mgr.Bootstrap(cfg.VPNDevPath, cfg.InetDevPath); err != nil {
		return nil, err
	}

	agentlog.Info("bootstrap: complete")
	return mgr, nil
}

func mountAll() error {
	for _, m := range earlyMounts {
		if err := unix.Mount(m.source, m.target, m.fstype, m.flags, m.data); err != nil {
			return fmt.Errorf("bootstrap: mount %s on %s: %w", m.fstype, m.target, err)
		}
	}
	return nil
}

// makeDeviceNodes creates /dev/null and /dev/ptmx if devtmpfs did not
// already provide them, matching the reference agent's fallback.
func makeDeviceNodes() error {
	nodes := []struct {
		path  string
		major uint32
		minor uint32
		mode  uint32
	}{
		{"/dev/null", 1, 3, 0666},
		{"/dev/ptmx", 5, 2, 0666},
	}

	for _, n := range nodes {
		if _, err := os.Stat(n.path); err == nil {
			continue
		}
		dev := int(unix.Mkdev(n.major, n.minor))
		if err := unix.Mknod(n.path, unix.S_IFCHR|n.mode, dev); err != nil {
			return fmt.Errorf("bootstrap: mknod %s: %w", n.path, err)
		}
	}
	return nil
}
