// Package netsetup implements spec.md §4.5: startup network bring-up and
// the MSG_NET_CTL / MSG_NET_HOST handlers, byte-exact on the constants in
// original_source/runtime/init-container/src/init.c (SPEC_FULL.md §10.6).
package netsetup

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/vmguest/agent/internal/agentlog"
	"github.com/vmguest/agent/internal/forwarder"
)

const (
	HostsPath   = "/etc/hosts"
	ResolvPath  = "/etc/resolv.conf"
	MTUVPN      = 1220
	MTUInet     = 65521
	devEth0     = "eth0"
	devEth1     = "eth1"
	sysctlDir   = "/proc/sys/net/core"
	sockBufDef  = 1048576
	sockBufMax  = 2097152
)

// fixedHostsEntries mirrors init.c's six-line /etc/hosts bootstrap
// exactly (SPEC_FULL.md §10.6).
var fixedHostsEntries = []string{
	"127.0.0.1\tlocalhost",
	"::1\tlocalhost ip6-localhost ip6-loopback",
	"fe00::0\tip6-localnet",
	"ff00::0\tip6-mcastprefix",
	"ff02::1\tip6-allnodes",
	"ff02::2\tip6-allrouters",
}

// Interface selects VPN vs INET for MSG_NET_CTL (spec.md §6 IF field).
type Interface uint16

const (
	IfVPN Interface = iota
	IfInet
)

func (i Interface) String() string {
	if i == IfInet {
		return "inet"
	}
	return "vpn"
}

// Manager owns the VPN/INET character devices, their TAPs (if created),
// and the resulting forwarders (spec.md §3 "Global agent state" subset
// relevant to networking).
type Manager struct {
	vpnChar, inetChar *os.File
	vpnTap, inetTap   *os.File
	vpnName, inetName string
	forwarders        []*forwarder.Forwarder
}

func NewManager() *Manager {
	return &Manager{}
}

// Bootstrap performs the one-shot startup sequence of spec.md §4.5:
// hosts/resolver files, loopback, sysctls, then VPN/INET bring-up if the
// corresponding character device is present.
func (m *Manager) Bootstrap(vpnDevPath, inetDevPath string) error {
	if err := writeHosts(fixedHostsEntries); err != nil {
		return err
	}
	if err := writeResolv(); err != nil {
		return err
	}
	if err := bringUpLoopback(); err != nil {
		return err
	}
	if err := applySysctls(); err != nil {
		return err
	}

	if err := m.bringUpChannel(IfVPN, vpnDevPath); err != nil {
		return err
	}
	if err := m.bringUpChannel(IfInet, inetDevPath); err != nil {
		return err
	}

	return nil
}

func writeHosts(entries []string) error {
	f, err := os.OpenFile(HostsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("netsetup: open %s: %w", HostsPath, err)
	}
	defer f.Close()

	for _, e := range entries {
		if _, err := fmt.Fprintln(f, e); err != nil {
			return err
		}
	}
	return nil
}

// AppendHosts implements MSG_NET_HOST: append N (ip, hostname) pairs,
// exactly N lines (spec.md §8 round-trip law).
func AppendHosts(pairs [][2]string) error {
	f, err := os.OpenFile(HostsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("netsetup: open %s: %w", HostsPath, err)
	}
	defer f.Close()

	for _, p := range pairs {
		if _, err := fmt.Fprintf(f, "%s\t%s\n", p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

func writeResolv() error {
	content := "search example.com\nnameserver 1.1.1.1\nnameserver 8.8.8.8\n"
	return os.WriteFile(ResolvPath, []byte(content), 0644)
}

func bringUpLoopback() error {
	return setAddr("lo", net.ParseIP("127.0.0.1"), net.CIDRMask(8, 32), nil)
}

func applySysctls() error {
	vals := map[string]int{
		"rmem_default": sockBufDef,
		"rmem_max":     sockBufMax,
		"wmem_default": sockBufDef,
		"wmem_max":     sockBufMax,
	}
	for name, v := range vals {
		path := sysctlDir + "/" + name
		if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", v)), 0644); err != nil {
			return fmt.Errorf("netsetup: sysctl %s: %w", name, err)
		}
	}
	return nil
}

func (m *Manager) bringUpChannel(iface Interface, devPath string) error {
	char, err := os.OpenFile(devPath, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// absent: only set the MTU of the pre-existing interface.
			name := devEth0
			mtu := MTUVPN
			if iface == IfInet {
				name = devEth1
				mtu = MTUInet
			}
			return setMTU(name, mtu)
		}
		return fmt.Errorf("netsetup: open %s: %w", devPath, err)
	}

	wantName := "vpn%d"
	mtu := MTUVPN
	mult := 4
	if iface == IfInet {
		wantName = "inet%d"
		mtu = MTUInet
		mult = 1
	}

	tap, actualName, err := CreateTAP(wantName)
	if err != nil {
		char.Close()
		return err
	}
	if err := setMTU(actualName, mtu); err != nil {
		tap.Close()
		char.Close()
		return err
	}

	bufCap := mult * (mtu + 14)

	// host -> TAP: length-prefixed in, raw out (spec.md §4.4).
	f1 := forwarder.New(int(char.Fd()), int(tap.Fd()), bufCap, true, false)
	// TAP -> host: raw in, length-prefixed out.
	f2 := forwarder.New(int(tap.Fd()), int(char.Fd()), bufCap, false, true)
	f2.SetSnooper(&forwarder.Snooper{
		OnUpdate: func(mac string, ip net.IP) {
			agentlog.Debug("netsetup: %v snoop: %s -> %s", iface, mac, ip)
		},
	})
	f1.Start()
	f2.Start()

	if iface == IfVPN {
		m.vpnChar, m.vpnTap, m.vpnName = char, tap, actualName
	} else {
		m.inetChar, m.inetTap, m.inetName = char, tap, actualName
	}
	m.forwarders = append(m.forwarders, f1, f2)

	agentlog.Info("netsetup: %v channel up on %s (mtu=%d)", iface, actualName, mtu)
	return nil
}

// Stop stops every forwarder, best-effort (spec.md §4.8).
func (m *Manager) Stop() {
	for _, f := range m.forwarders {
		f.Stop()
	}
}

// NetCtlRequest decodes MSG_NET_CTL's sub-messages (spec.md §6).
type NetCtlRequest struct {
	If      Interface
	Addr    string // empty means "no address change"
	Mask    string
	Gateway string
	IfAddr  string // unused beyond validation; reserved field per wire spec
}

// ApplyNetCtl implements spec.md §4.5's MSG_NET_CTL semantics: family
// classified by ':', mandatory netmask for IPv4, MAC derived from the
// address, optional default route via the gateway.
func (m *Manager) ApplyNetCtl(req NetCtlRequest) error {
	name := m.vpnName
	if name == "" {
		name = devEth0
	}
	if req.If == IfInet {
		name = m.inetName
		if name == "" {
			name = devEth1
		}
	}

	if req.Addr == "" {
		return nil
	}

	isV6 := strings.Contains(req.Addr, ":")
	ip := net.ParseIP(req.Addr)
	if ip == nil {
		return fmt.Errorf("netsetup: invalid address %q", req.Addr)
	}

	var mask net.IPMask
	if !isV6 {
		if req.Mask == "" {
			return fmt.Errorf("netsetup: IPv4 address requires a netmask")
		}
		maskIP := net.ParseIP(req.Mask)
		if maskIP == nil || maskIP.To4() == nil {
			return fmt.Errorf("netsetup: invalid netmask %q", req.Mask)
		}
		mask = net.IPMask(maskIP.To4())
	} else {
		mask = net.CIDRMask(64, 128)
	}

	var gw net.IP
	if req.Gateway != "" {
		gw = net.ParseIP(req.Gateway)
		if gw == nil {
			return fmt.Errorf("netsetup: invalid gateway %q", req.Gateway)
		}
	}

	if err := setAddr(name, ip, mask, gw); err != nil {
		return err
	}

	mac := MACFromIP(ip)
	return setHWAddr(name, mac)
}

// setMTU, setAddr, and setHWAddr are implemented in ifctl.go/netlink.go
// via ioctls and rtnetlink, matching the low-level style of
// original_source/runtime/init-container/src/init.c rather than shelling
// out to the `ip` binary.
