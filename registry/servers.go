// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"bufio"
	"net"
	"net/netip"
	"os"
	"strings"
)

// resolvConfPath is the Unix convention this module reads as the OS
// default Do53 server list. The Go standard library doesn't expose
// per-interface resolver configuration on any platform, so — per the
// open-question decision recorded in DESIGN.md — DefaultDo53 uses the
// interface walk only to decide whether any usable (up, non-loopback)
// network interface exists at all, and falls back to this file for the
// actual addresses, preserving duplicates as the spec requires.
var resolvConfPath = "/etc/resolv.conf"

// DefaultDo53 derives the OS default Do53 server list: it returns nil
// (no servers) when no network interface is up and non-loopback, and
// otherwise the nameservers configured in the platform resolver file, in
// file order, duplicates preserved.
func DefaultDo53() []PlainEndpoint {
	if !hasUsableInterface() {
		return nil
	}
	return parseResolvConf(resolvConfPath)
}

// hasUsableInterface reports whether at least one network interface is
// operationally up and not the loopback interface.
func hasUsableInterface() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

// parseResolvConf extracts "nameserver <addr>" lines from a resolv.conf
// style file, preserving duplicates and file order.
func parseResolvConf(path string) []PlainEndpoint {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []PlainEndpoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "nameserver" {
			continue
		}
		addr, err := netip.ParseAddr(fields[1])
		if err != nil {
			continue
		}
		out = append(out, NewPlainEndpoint(addr))
	}
	return out
}

// DefaultDoT returns the small built-in list of well-known public DoT
// servers: Cloudflare, Google, Quad9, and a pinned securedns.eu entry.
func DefaultDoT() []DotEndpoint {
	return []DotEndpoint{
		NewDotEndpoint(netip.MustParseAddr("1.1.1.1"), "cloudflare-dns.com", 853, nil),
		NewDotEndpoint(netip.MustParseAddr("2606:4700:4700::1111"), "cloudflare-dns.com", 853, nil),
		NewDotEndpoint(netip.MustParseAddr("8.8.8.8"), "dns.google", 853, nil),
		NewDotEndpoint(netip.MustParseAddr("2001:4860:4860::8888"), "dns.google", 853, nil),
		NewDotEndpoint(netip.MustParseAddr("9.9.9.9"), "dns.quad9.net", 853, nil),
		NewDotEndpoint(netip.MustParseAddr("2620:fe::fe"), "dns.quad9.net", 853, nil),
		NewDotEndpoint(netip.MustParseAddr("146.185.167.43"), "securedns.eu", 853,
			[]string{"h0ztd/HbkpbIOEfIP/dXnJgHuaZkQ4joEdzW7KYxtTE="}),
	}
}

// DefaultDoH returns the single built-in DoH URL.
func DefaultDoH() DohEndpoint {
	return NewDohEndpoint("https://cloudflare-dns.com/dns-query")
}

// Available filters endpoints down to the address families the host
// actually supports, then orders IPv4 entries before IPv6 (field
// experience: consumer routers frequently mis-handle IPv6).
func Available(endpoints []PlainEndpoint) []PlainEndpoint {
	haveV4, haveV6 := probeFamily("udp4"), probeFamily("udp6")

	var v4, v6 []PlainEndpoint
	for _, e := range endpoints {
		switch {
		case e.Addr().Is4() || e.Addr().Is4In6():
			if haveV4 {
				v4 = append(v4, e)
			}
		default:
			if haveV6 {
				v6 = append(v6, e)
			}
		}
	}
	return append(v4, v6...)
}

// probeFamily reports whether the host can create a socket of the given
// network family ("udp4" or "udp6"), used as a cheap stand-in for "has an
// IPv4/IPv6 stack".
func probeFamily(network string) bool {
	conn, err := net.ListenPacket(network, "")
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
