// Package conntest implements MSG_CONN_TEST (SPEC_FULL.md §10.3), a host
// reachability self-test. Grounded on
// cmd/miniccc/commands.go:testConnect and internal/ron/command.go's
// ConnTest struct (TCP/UDP net.DialTimeout probe), extended with ICMP
// (golang.org/x/net/icmp + golang.org/x/net/ipv4) and DNS (miekg/dns)
// probes so both pack dependencies get a genuine home.
package conntest

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

type Proto int

const (
	TCP Proto = iota
	UDP
	ICMP
	DNS
)

// Probe dials (tcp/udp), pings (icmp), or queries (dns) host within
// timeout, returning the round trip in microseconds. This is the one
// dispatcher handler with an explicit timeout (spec.md §5 / SPEC_FULL.md
// §10.3), since it performs real network I/O that must not stall the
// single-threaded event loop.
func Probe(ctx context.Context, proto Proto, host string, port uint16, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	var err error
	switch proto {
	case TCP:
		err = dialProbe(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	case UDP:
		err = dialProbe(ctx, "udp", net.JoinHostPort(host, fmt.Sprint(port)))
	case ICMP:
		err = icmpProbe(ctx, host)
	case DNS:
		err = dnsProbe(ctx, host)
	default:
		err = fmt.Errorf("conntest: unknown proto %d", proto)
	}

	if err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func dialProbe(ctx context.Context, network, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return fmt.Errorf("conntest: dial %s %s: %w", network, addr, err)
	}
	return conn.Close()
}

// icmpProbe sends a single echo request and waits for the reply, the
// same shape as the reference agent's connectivity checks but over raw
// ICMP rather than a TCP/UDP handshake -- useful against hosts that
// firewall every port but still answer ping.
func icmpProbe(ctx context.Context, host string) error {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return fmt.Errorf("conntest: icmp listen: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return fmt.Errorf("conntest: resolve %s: %w", host, err)
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: int(time.Now().UnixNano() & 0xffff), Seq: 1, Data: []byte("guestagent-conntest")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return fmt.Errorf("conntest: marshal icmp: %w", err)
	}

	if _, err := conn.WriteTo(wb, dst); err != nil {
		return fmt.Errorf("conntest: icmp write: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(dl)
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return fmt.Errorf("conntest: icmp read: %w", err)
		}
		reply, err := icmp.ParseMessage(1, rb[:n])
		if err != nil {
			continue
		}
		if reply.Type == ipv4.ICMPTypeEchoReply {
			return nil
		}
	}
}

// dnsProbe issues a single A-record query for "." against host acting as
// the resolver address, confirming the resolver path is reachable.
func dnsProbe(ctx context.Context, host string) error {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("example.com"), dns.TypeA)

	c := new(dns.Client)
	addr := net.JoinHostPort(host, "53")

	_, _, err := c.ExchangeContext(ctx, m, addr)
	if err != nil {
		return fmt.Errorf("conntest: dns query %s: %w", addr, err)
	}
	return nil
}
