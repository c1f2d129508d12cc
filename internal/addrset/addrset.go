// Package addrset does set arithmetic on lists of CIDR prefixes and reduces
// include/exclude address lists to early-return rule plans.
package addrset

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

type Family int

const (
	IPv4 Family = 4
	IPv6 Family = 6
)

func (f Family) Bits() int {
	if f == IPv6 {
		return 128
	}
	return 32
}

// All returns the prefix covering every address of the family.
func (f Family) All() *net.IPNet {
	if f == IPv6 {
		return &net.IPNet{IP: make(net.IP, net.IPv6len), Mask: net.CIDRMask(0, 128)}
	}
	return &net.IPNet{IP: make(net.IP, net.IPv4len), Mask: net.CIDRMask(0, 32)}
}

func (f Family) String() string {
	if f == IPv6 {
		return "IPv6"
	}
	return "IPv4"
}

// FamilyOf reports the address family of n.
func FamilyOf(n *net.IPNet) Family {
	if _, bits := n.Mask.Size(); bits == 128 {
		return IPv6
	}
	return IPv4
}

// IsAll reports whether n is a zero-length prefix.
func IsAll(n *net.IPNet) bool {
	ones, _ := n.Mask.Size()
	return ones == 0
}

// ParsePrefix parses a CIDR prefix or a bare address. Host bits are cleared.
func ParsePrefix(s string) (*net.IPNet, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		if ip4 := ip.To4(); ip4 != nil {
			return &net.IPNet{IP: ip4, Mask: net.CIDRMask(32, 32)}, nil
		}
		return &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}, nil
	}
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix %q: %v", s, err)
	}
	return normalize(n), nil
}

// MustParse is ParsePrefix for literals known to be valid.
func MustParse(s string) *net.IPNet {
	n, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return n
}

func normalize(n *net.IPNet) *net.IPNet {
	ones, bits := n.Mask.Size()
	ip := n.IP
	if bits == 32 {
		ip = ip.To4()
	} else {
		ip = ip.To16()
	}
	mask := net.CIDRMask(ones, bits)
	return &net.IPNet{IP: ip.Mask(mask), Mask: mask}
}

// Filter keeps the prefixes of family f.
func Filter(nets []*net.IPNet, f Family) []*net.IPNet {
	var out []*net.IPNet
	for _, n := range nets {
		if FamilyOf(n) == f {
			out = append(out, n)
		}
	}
	return out
}

func toPrefix(n *net.IPNet) netip.Prefix {
	n = normalize(n)
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr, ones)
}

func build(nets []*net.IPNet) *netipx.IPSetBuilder {
	var b netipx.IPSetBuilder
	for _, n := range nets {
		b.AddPrefix(toPrefix(n))
	}
	return &b
}

// cover returns the minimal sorted prefix cover of b. Invalid prefixes
// added to b are skipped.
func cover(b *netipx.IPSetBuilder) []*net.IPNet {
	set, _ := b.IPSet()
	var out []*net.IPNet
	for _, p := range set.Prefixes() {
		out = append(out, netipx.PrefixIPNet(p))
	}
	return out
}

// Collapse returns the smallest sorted prefix list covering exactly the
// addresses of nets.
func Collapse(nets []*net.IPNet) []*net.IPNet {
	return cover(build(nets))
}

// Subtract returns the minimal prefixes covering include minus exclude.
func Subtract(include, exclude []*net.IPNet) []*net.IPNet {
	b := build(include)
	for _, n := range exclude {
		b.RemovePrefix(toPrefix(n))
	}
	return cover(b)
}

// Complement returns every address of family f not covered by nets.
func Complement(nets []*net.IPNet, f Family) []*net.IPNet {
	return Subtract([]*net.IPNet{f.All()}, Filter(nets, f))
}

// Intersect returns the parts of a that fall inside b.
func Intersect(a, b []*net.IPNet) []*net.IPNet {
	other, _ := build(b).IPSet()
	ab := build(a)
	ab.Intersect(other)
	return cover(ab)
}
