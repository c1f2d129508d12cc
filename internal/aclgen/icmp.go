package aclgen

import (
	"fmt"
	"strings"

	"github.com/pettai/capirca/internal/addrset"
)

var icmpTypes = map[string]int{
	"echo-reply":           0,
	"unreachable":          3,
	"source-quench":        4,
	"redirect":             5,
	"alternate-address":    6,
	"echo-request":         8,
	"router-advertisement": 9,
	"router-solicitation":  10,
	"time-exceeded":        11,
	"parameter-problem":    12,
	"timestamp-request":    13,
	"timestamp-reply":      14,
	"information-request":  15,
	"information-reply":    16,
	"mask-request":         17,
	"mask-reply":           18,
	"conversion-error":     31,
	"mobile-redirect":      32,
}

var icmpv6Types = map[string]int{
	"destination-unreachable":                  1,
	"packet-too-big":                           2,
	"time-exceeded":                            3,
	"parameter-problem":                        4,
	"echo-request":                             128,
	"echo-reply":                               129,
	"multicast-listener-query":                 130,
	"multicast-listener-report":                131,
	"multicast-listener-done":                  132,
	"router-solicit":                           133,
	"router-advertisement":                     134,
	"neighbor-solicit":                         135,
	"neighbor-advertisement":                   136,
	"redirect-message":                         137,
	"router-renumbering":                       138,
	"icmp-node-information-query":              139,
	"icmp-node-information-response":           140,
	"inverse-neighbor-discovery-solicitation":  141,
	"inverse-neighbor-discovery-advertisement": 142,
	"version-2-multicast-listener-report":      143,
	"home-agent-address-discovery-request":     144,
	"home-agent-address-discovery-reply":       145,
	"mobile-prefix-solicitation":               146,
	"mobile-prefix-advertisement":              147,
	"certification-path-solicitation":          148,
	"certification-path-advertisement":         149,
	"multicast-router-advertisement":           151,
	"multicast-router-solicitation":            152,
	"multicast-router-termination":             153,
}

// IcmpProtocol is the protocol keyword carrying ICMP for the family.
func IcmpProtocol(f addrset.Family) string {
	if f == addrset.IPv6 {
		return "icmpv6"
	}
	return "icmp"
}

// IsIcmp reports whether proto is either ICMP keyword.
func IsIcmp(proto string) bool {
	return proto == "icmp" || proto == "icmpv6"
}

// FamilyMismatch returns the ICMP protocol of the term foreign to family f,
// or "" when the term has none. A term is mismatched only when a foreign
// ICMP protocol is listed.
func FamilyMismatch(protocols []string, f addrset.Family) string {
	foreign := IcmpProtocol(addrset.IPv6)
	if f == addrset.IPv6 {
		foreign = IcmpProtocol(addrset.IPv4)
	}
	for _, p := range protocols {
		if p == foreign {
			return p
		}
	}
	return ""
}

// ProtocolList formats protocols the way family diagnostics quote them,
// e.g. ['tcp', 'icmp'].
func ProtocolList(protocols []string) string {
	quoted := make([]string, 0, len(protocols))
	for _, p := range protocols {
		quoted = append(quoted, "'"+p+"'")
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// NormalizeIcmpTypes maps icmp-type names to numeric codes for family f.
// Types require exactly one protocol, the family's ICMP.
func NormalizeIcmpTypes(types, protocols []string, f addrset.Family) ([]int, error) {
	if len(types) == 0 {
		return nil, nil
	}
	want := IcmpProtocol(f)
	if len(protocols) != 1 || protocols[0] != want {
		return nil, &Error{
			Kind:    KindUnsupportedFilter,
			Feature: "icmp-type",
			Detail:  fmt.Sprintf("icmp-type requires protocol %s alone, got %v", want, protocols),
		}
	}
	table := icmpTypes
	if f == addrset.IPv6 {
		table = icmpv6Types
	}
	codes := make([]int, 0, len(types))
	for _, t := range types {
		code, ok := table[t]
		if !ok {
			return nil, &Error{
				Kind:    KindUnsupportedFilter,
				Feature: "icmp-type " + t,
				Detail:  fmt.Sprintf("not a %s type", want),
			}
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// ParseFamily maps the "inet" / "inet6" target option to a family.
func ParseFamily(option string) (addrset.Family, bool) {
	switch option {
	case "inet":
		return addrset.IPv4, true
	case "inet6":
		return addrset.IPv6, true
	}
	return 0, false
}

// FamilyName is the inverse of ParseFamily.
func FamilyName(f addrset.Family) string {
	if f == addrset.IPv6 {
		return "inet6"
	}
	return "inet"
}
