//go:build linux

package rules

import (
	"fmt"

	"github.com/coreos/go-iptables/iptables"

	"github.com/pettai/capirca/internal/addrset"
)

var IPTV4 *iptables.IPTables
var IPTV6 *iptables.IPTables

// OpenHost opens the host's iptables or ip6tables, once per family.
func OpenHost(f addrset.Family) (Tables, error) {
	switch f {
	case addrset.IPv4:
		if IPTV4 != nil {
			return IPTV4, nil
		}
		ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
		if err == nil {
			IPTV4 = ipt
		}
		return ipt, err
	case addrset.IPv6:
		if IPTV6 != nil {
			return IPTV6, nil
		}
		ipt, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
		if err == nil {
			IPTV6 = ipt
		}
		return ipt, err
	default:
		return nil, fmt.Errorf("invalid family: %v", f)
	}
}
