package forwarder

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/vmguest/agent/internal/agentlog"
)

// Snooper passively decodes ARP/NDP traffic crossing a TAP to learn the
// guest-assigned IP for the interface's MAC, for debug logging only --
// it never influences forwarding decisions. Adapted from
// internal/bridge/ipmac.go's snooper/updateIP (same decode loop shape,
// same layer set), trimmed from the Bridge/Tap aggregate struct it was
// methods on down to a single callback since this agent tracks exactly
// one TAP per channel rather than an arbitrary bridge of taps.
type Snooper struct {
	OnUpdate func(mac string, ip net.IP)
}

// Decode runs the DecodingLayerParser over one already-read frame (the
// forwarder's own readFrame result), so this shares the TAP's fd instead
// of opening a second pcap handle.
func (s *Snooper) Decode(data []byte) {
	var (
		eth layers.Ethernet
		ip4 layers.IPv4
		ip6 layers.IPv6
		arp layers.ARP
	)

	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &ip4, &ip6, &arp)
	decoded := []gopacket.LayerType{}

	if err := parser.DecodeLayers(data, &decoded); err != nil {
		if _, ok := err.(gopacket.UnsupportedLayerType); !ok {
			agentlog.Debug("forwarder: snoop decode: %v", err)
			return
		}
	}

	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeARP:
			s.update(eth.SrcMAC.String(), net.IP(arp.SourceProtAddress))
		case layers.LayerTypeIPv6:
			s.update(eth.SrcMAC.String(), ip6.SrcIP)
		}
	}
}

func (s *Snooper) update(mac string, ip net.IP) {
	if ip == nil || ip.IsLinkLocalUnicast() || s.OnUpdate == nil {
		return
	}
	s.OnUpdate(mac, ip)
}
