package tool

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Hostnames that always refer to the local machine.
var blockedHostnames = map[string]bool{
	"localhost":             true,
	"localhost.localdomain": true,
	"ip6-localhost":         true,
	"ip6-loopback":          true,
}

// Suffixes reserved for internal naming.
var blockedSuffixes = []string{
	".local",
	".localhost",
	".internal",
	".lan",
	".home",
	".corp",
	".intranet",
}

// IPv4 ranges disallowed beyond what net.IP classifies directly.
var reservedV4 = mustCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
)

// Swappable for tests; resolves a hostname to all of its address records.
var lookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

// validateURL rejects URLs that could reach internal infrastructure: bad
// schemes, blocked hostnames and suffixes, disallowed IP literals, and
// hostnames any of whose DNS records resolve to a disallowed address
// (rebinding defense).
func validateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https (got %q)", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no hostname")
	}
	lower := strings.ToLower(strings.TrimSuffix(host, "."))

	if ip := net.ParseIP(lower); ip != nil {
		if reason := disallowedIP(ip); reason != "" {
			return fmt.Errorf("IP address %s is blocked: %s", lower, reason)
		}
		return nil
	}

	if blockedHostnames[lower] {
		return fmt.Errorf("hostname %q is blocked", lower)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("hostname %q matches blocked suffix %q", lower, suffix)
		}
	}

	ips, err := lookupIP(ctx, lower)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", lower, err)
	}
	for _, ip := range ips {
		if reason := disallowedIP(ip); reason != "" {
			return fmt.Errorf("hostname %q resolves to blocked address %s: %s", lower, ip, reason)
		}
	}
	return nil
}

// disallowedIP classifies an address, returning a non-empty reason when it
// must not be contacted. IPv6 forms embedding an IPv4 address are unwrapped
// and the embedded address re-checked.
func disallowedIP(ip net.IP) string {
	switch {
	case ip.IsUnspecified():
		return "unspecified"
	case ip.IsLoopback():
		return "loopback"
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return "link-local"
	case ip.IsMulticast():
		return "multicast"
	case ip.IsPrivate():
		return "private"
	}
	if v4 := ip.To4(); v4 != nil {
		for _, block := range reservedV4 {
			if block.Contains(v4) {
				return "reserved"
			}
		}
		return ""
	}
	for _, embedded := range embeddedV4(ip) {
		if reason := disallowedIP(embedded); reason != "" {
			return "embeds " + reason + " IPv4 address " + embedded.String()
		}
	}
	return ""
}

// embeddedV4 extracts IPv4 addresses carried inside 6to4 (2002::/16) and
// Teredo (2001::/32) IPv6 addresses. IPv4-mapped addresses are already
// normalized by To4 before this is reached.
func embeddedV4(ip net.IP) []net.IP {
	v6 := ip.To16()
	if v6 == nil {
		return nil
	}
	var out []net.IP
	// 6to4: 2002:aabb:ccdd::/48 embeds aa.bb.cc.dd.
	if v6[0] == 0x20 && v6[1] == 0x02 {
		out = append(out, net.IPv4(v6[2], v6[3], v6[4], v6[5]))
	}
	// Teredo: 2001:0000::/32; server at bytes 4-7, client XOR-ed in bytes 12-15.
	if v6[0] == 0x20 && v6[1] == 0x01 && v6[2] == 0x00 && v6[3] == 0x00 {
		out = append(out, net.IPv4(v6[4], v6[5], v6[6], v6[7]))
		out = append(out, net.IPv4(v6[12]^0xff, v6[13]^0xff, v6[14]^0xff, v6[15]^0xff))
	}
	return out
}

func mustCIDRs(blocks ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blocks))
	for _, b := range blocks {
		_, n, err := net.ParseCIDR(b)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
