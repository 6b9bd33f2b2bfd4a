// guestagent is the PID-1 init and supervisor process of spec.md §1: it
// brings the guest VM up to a minimal running state, then services the
// host controller's command channel until told to power off. Grounded
// on cmd/miniccc and cmd/minirouter's main()/flag idiom.
package main

import (
	"flag"
	"os"

	"github.com/vmguest/agent/internal/agent"
	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/bootstrap"
	"github.com/vmguest/agent/internal/process"
)

var (
	fCmdDev  = flag.String("cmd-dev", "/dev/vport0p1", "command channel character device")
	fVPNDev  = flag.String("vpn-dev", "/dev/vport0p2", "VPN packet channel character device")
	fInetDev = flag.String("inet-dev", "/dev/vport0p3", "INET packet channel character device")
	fOutput  = flag.String("output-prefix", bootstrap.OutputPrefix, "per-process output directory root")
	fSkipBoot = flag.Bool("skip-boot-mounts", false, "skip the early mount sequence (for running outside a fresh VM)")
	fVerbose = flag.Bool("v", false, "enable debug logging")
)

func main() {
	flag.Parse()

	if *fVerbose {
		agentlog.SetLevel(agentlog.DEBUG)
	}

	netMgr, err := bootstrap.Run(bootstrap.Config{
		CmdDevPath:   *fCmdDev,
		VPNDevPath:   *fVPNDev,
		InetDevPath:  *fInetDev,
		OutputPrefix: *fOutput,
		SkipMounts:   *fSkipBoot,
	})
	if err != nil {
		agentlog.Fatal("guestagent: bootstrap: %v", err)
		os.Exit(1)
	}

	cmdFile, err := os.OpenFile(*fCmdDev, os.O_RDWR, 0)
	if err != nil {
		agentlog.Fatal("guestagent: open command channel %s: %v", *fCmdDev, err)
		os.Exit(1)
	}

	sup := process.NewSupervisor(*fOutput)

	a, err := agent.New(cmdFile, sup, netMgr)
	if err != nil {
		agentlog.Fatal("guestagent: %v", err)
		os.Exit(1)
	}

	agentlog.Info("guestagent: entering event loop")
	if err := a.Run(); err != nil {
		agentlog.Fatal("guestagent: event loop: %v", err)
		os.Exit(1)
	}
}
