package condition

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// addrRange is an inclusive range of addresses of one family.
type addrRange struct {
	first netip.Addr
	last  netip.Addr
}

func (r addrRange) contains(ip netip.Addr) bool {
	return ip.BitLen() == r.first.BitLen() && ip.Compare(r.first) >= 0 && ip.Compare(r.last) <= 0
}

// IPRange matches the request IP against a list of networks.
// Each comma-separated entry is a CIDR ("10.0.0.0/8"), a single address
// ("10.0.0.1") or an explicit inclusive range ("10.0.0.1-10.0.0.50").
type IPRange struct {
	prefixes []netip.Prefix
	ranges   []addrRange
}

// ParseIPRange parses an ip_range condition value.
func ParseIPRange(raw string) (IPRange, error) {
	var r IPRange
	for _, part := range strings.Split(raw, ",") {
		entry := strings.TrimSpace(part)
		if entry == "" {
			continue
		}
		switch {
		case strings.Contains(entry, "/"):
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return IPRange{}, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			r.prefixes = append(r.prefixes, p.Masked())
		case strings.Contains(entry, "-"):
			ar, err := parseAddrRange(entry)
			if err != nil {
				return IPRange{}, err
			}
			r.ranges = append(r.ranges, ar)
		default:
			a, err := netip.ParseAddr(entry)
			if err != nil {
				return IPRange{}, fmt.Errorf("invalid address %q: %w", entry, err)
			}
			a = a.Unmap()
			r.prefixes = append(r.prefixes, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	if len(r.prefixes) == 0 && len(r.ranges) == 0 {
		return IPRange{}, errors.New("no networks given")
	}
	return r, nil
}

func parseAddrRange(entry string) (addrRange, error) {
	lo, hi, _ := strings.Cut(entry, "-")
	first, err := netip.ParseAddr(strings.TrimSpace(lo))
	if err != nil {
		return addrRange{}, fmt.Errorf("invalid range start in %q: %w", entry, err)
	}
	last, err := netip.ParseAddr(strings.TrimSpace(hi))
	if err != nil {
		return addrRange{}, fmt.Errorf("invalid range end in %q: %w", entry, err)
	}
	first, last = first.Unmap(), last.Unmap()
	if first.BitLen() != last.BitLen() {
		return addrRange{}, fmt.Errorf("range %q mixes address families", entry)
	}
	if first.Compare(last) > 0 {
		return addrRange{}, fmt.Errorf("range %q ends before it starts", entry)
	}
	return addrRange{first: first, last: last}, nil
}

// Type implements Condition.
func (IPRange) Type() Type { return TypeIPRange }

// Match implements Condition. A request without a valid IP never matches.
func (r IPRange) Match(attrs Attributes) bool {
	if !attrs.IP.IsValid() {
		return false
	}
	ip := attrs.IP.Unmap()
	for _, p := range r.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	for _, ar := range r.ranges {
		if ar.contains(ip) {
			return true
		}
	}
	return false
}
