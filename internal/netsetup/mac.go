package netsetup

import "net"

// localAdminPrefix is prepended to every derived MAC so the result is
// always a locally-administered, unicast address (low bit of the first
// octet clear, second-lowest bit set) regardless of the IP's value.
var localAdminPrefix = [2]byte{0x02, 0x00}

// MACFromIP implements the deterministic, reversible IP->MAC mapping left
// open by spec.md §9 Open Question (c): the low 4 bytes of the MAC are
// the IPv4 address's 4 octets (or, for IPv6, the low 4 bytes of the
// 16-byte address), and the top 2 bytes are the fixed prefix above. The
// mapping is injective over all valid IPv4 inputs, and trivially
// reversible by stripping the prefix, per SPEC_FULL.md §9 (c).
func MACFromIP(ip net.IP) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	mac[0], mac[1] = localAdminPrefix[0], localAdminPrefix[1]

	if v4 := ip.To4(); v4 != nil {
		copy(mac[2:], v4)
		return mac
	}

	v6 := ip.To16()
	copy(mac[2:], v6[12:16])
	return mac
}

// IPFromMAC inverts MACFromIP for MACs it produced, returning the IPv4
// address embedded in the low 4 octets.
func IPFromMAC(mac net.HardwareAddr) net.IP {
	if len(mac) != 6 {
		return nil
	}
	return net.IPv4(mac[2], mac[3], mac[4], mac[5])
}
