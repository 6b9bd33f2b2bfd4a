package agent

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/vmguest/agent/internal/netsetup"
	"github.com/vmguest/agent/internal/process"
	"github.com/vmguest/agent/internal/wire"
)

// newTestAgent wires a real Agent to one end of a socketpair, handing the
// test the other end to act as the host controller. handleCommand (not
// the full epoll Run loop) is exercised directly, matching spec.md §4.7's
// per-wake-up unit of work.
func newTestAgent(t *testing.T) (*Agent, *os.File) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatal(err)
	}
	agentFile := os.NewFile(uintptr(fds[0]), "cmd-agent-side")
	hostFile := os.NewFile(uintptr(fds[1]), "cmd-host-side")

	sup := process.NewSupervisor(t.TempDir())
	a, err := New(agentFile, sup, netsetup.NewManager())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hostFile.Close() })
	return a, hostFile
}

func TestHandleRunProcessEchoesID(t *testing.T) {
	a, host := newTestAgent(t)

	w := wire.NewWriter(host)
	w.WriteHeader(1, uint8(wire.MsgRunProcess))
	w.WriteU8(wire.SubBin)
	w.WriteCString("/bin/true")
	w.WriteU8(wire.SubRFD)
	w.WriteU32(1)
	w.WriteU8(uint8(wire.RedirFile))
	w.WriteCString("")
	w.WriteU8(wire.SubRFD)
	w.WriteU32(2)
	w.WriteU8(uint8(wire.RedirFile))
	w.WriteCString("")
	w.WriteU8(wire.SubEnd)

	if err := a.handleCommand(); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}

	r := wire.NewReader(host)
	hdr, err := r.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}
	if hdr.MsgID != 1 || wire.RespType(hdr.Type) != wire.RespOKU64 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	id, err := r.ReadU64()
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Fatalf("expected process id 1, got %d", id)
	}
}

func TestHandleKillProcessUnknownReturnsEinval(t *testing.T) {
	a, host := newTestAgent(t)

	w := wire.NewWriter(host)
	w.WriteHeader(7, uint8(wire.MsgKillProcess))
	w.WriteU8(wire.SubKillID)
	w.WriteU64(999)
	w.WriteU8(wire.SubKillEnd)

	if err := a.handleCommand(); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}

	r := wire.NewReader(host)
	hdr, err := r.ReadHeader()
	if err != nil {
		t.Fatal(err)
	}
	if wire.RespType(hdr.Type) != wire.RespErr {
		t.Fatalf("expected RESP_ERR, got type %d", hdr.Type)
	}
	errno, err := r.ReadU32()
	if err != nil {
		t.Fatal(err)
	}
	if errno != uint32(unix.EINVAL) {
		t.Fatalf("expected EINVAL, got %d", errno)
	}
}

func TestHandleUnknownMessageTypeIsFatalProtocol(t *testing.T) {
	a, host := newTestAgent(t)

	w := wire.NewWriter(host)
	w.WriteHeader(2, 0xFE)

	if err := a.handleCommand(); err != nil {
		t.Fatalf("handleCommand: %v", err)
	}
	if !a.shuttingDown {
		t.Fatal("expected shutdown after protocol violation")
	}
}
