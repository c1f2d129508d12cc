package iptables

import (
	"fmt"
	"net"
	"strings"

	"github.com/pettai/capirca/internal/addrset"
)

// match accumulates the fragments of one rule line in emission order.
type match []string

func (m match) render() string {
	return strings.Join([]string(m), " ")
}

func (m match) copy() match {
	return append(match(nil), m...)
}

func (m match) protocol(p string) match {
	if p == "" || p == "all" {
		return m
	}
	return append(m, "-p "+p)
}

func (m match) tcpFlags(mask, set string) match {
	return append(m, fmt.Sprintf("--tcp-flags %s %s", mask, set))
}

func (m match) syn() match {
	return append(m, "--syn")
}

// ports appends an already rendered port clause, which may be empty.
func (m match) ports(clause string) match {
	if clause == "" {
		return m
	}
	return append(m, clause)
}

func (m match) source(n *net.IPNet) match {
	if n == nil || addrset.IsAll(n) {
		return m
	}
	return append(m, "-s "+n.String())
}

func (m match) destination(n *net.IPNet) match {
	if n == nil || addrset.IsAll(n) {
		return m
	}
	return append(m, "-d "+n.String())
}

func (m match) icmpType(code int) match {
	return append(m, fmt.Sprintf("-p icmp --icmp-type %d", code))
}

func (m match) icmpv6Type(code int) match {
	return append(m, fmt.Sprintf("-p ipv6-icmp -m icmp6 --icmpv6-type %d", code))
}

func (m match) u32(expr string) match {
	return append(m, "-m u32 --u32 "+expr)
}

func (m match) length(spec string) match {
	return append(m, "-m length --length "+spec)
}

func (m match) state(states string) match {
	return append(m, "-m state --state "+states)
}

func (m match) inInterface(iface string) match {
	if iface == "" {
		return m
	}
	return append(m, "-i "+iface)
}

func (m match) outInterface(iface string) match {
	if iface == "" {
		return m
	}
	return append(m, "-o "+iface)
}

func (m match) comment(text string) match {
	return append(m, fmt.Sprintf(`-m comment --comment "%s"`, text))
}

func (m match) jump(target string) match {
	return append(m, "-j "+target)
}
