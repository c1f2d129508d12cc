package iptables

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/addrset"
	"github.com/pettai/capirca/internal/policy"
	"github.com/pettai/capirca/internal/ports"
)

const PLATFORM = "iptables"

// MAX_TERM_NAME_LENGTH leaves room for the two byte chain tag under the
// kernel's chain name limit.
const MAX_TERM_NAME_LENGTH = 24

var HIGH_PORTS = ports.Range{Low: 1024, High: 65535}

var supportedKeywords = map[string]bool{
	"logging":               true,
	"owner":                 true,
	"source_interface":      true,
	"destination_interface": true,
	"packet_length":         true,
	"fragment_offset":       true,
}

var tcpFlags = map[string]string{
	"syn":  "SYN",
	"ack":  "ACK",
	"fin":  "FIN",
	"rst":  "RST",
	"urg":  "URG",
	"psh":  "PSH",
	"all":  "ALL",
	"none": "NONE",
}

var otherOptions = map[string]bool{
	"initial":         true,
	"first-fragment":  true,
	"established":     true,
	"tcp-established": true,
}

// ipv6Headers match extension headers by next-header value, since they are
// not protocols ip6tables can name.
var ipv6Headers = map[string]string{
	"hop-by-hop": `"0x3&0xff=0x0"`,
	"fragment":   `"0x3&0xff=0x2c"`,
}

// Stateless approximation of an established tcp session: ack set, or a
// bare rst.
var statelessTCPEstablished = [][2]string{
	{"ACK", "ACK"},
	{"ACK,FIN,RST,SYN", "RST"},
}

// Term renders one policy term into its own chain.
type Term struct {
	term     *policy.Term
	name     string
	chain    string
	family   addrset.Family
	stateful bool

	icmpCodes   []int
	flags       []string
	established bool
	length      string
	fragOffset  string
}

// NewTerm validates t for a filter named filterName and fixes its name.
func NewTerm(t *policy.Term, filterName string, family addrset.Family, stateful, abbreviate, truncate bool) (*Term, error) {
	term, err := validateTerm(t, family, stateful)
	if err != nil {
		return nil, err
	}
	if err := term.finish(filterName, abbreviate, truncate); err != nil {
		return nil, err
	}
	return term, nil
}

// finish maps icmp types and fixes the name. It runs after the family and
// expiration checks, which may drop the term first.
func (t *Term) finish(filterName string, abbreviate, truncate bool) error {
	if len(t.term.Verbatim) > 0 {
		return nil
	}
	codes, err := aclgen.NormalizeIcmpTypes(t.term.IcmpType, t.term.Protocol, t.family)
	if err != nil {
		return withTerm(err, t.term.Name)
	}
	t.icmpCodes = codes

	name, err := aclgen.FixTermLength(t.term.Name, MAX_TERM_NAME_LENGTH, abbreviate, truncate)
	if err != nil {
		return err
	}
	t.name = name
	t.chain = fmt.Sprintf("%s_%s", filterName[:1], name)
	return nil
}

func validateTerm(t *policy.Term, family addrset.Family, stateful bool) (*Term, error) {
	term := &Term{term: t, family: family, stateful: stateful, name: t.Name}
	if len(t.Verbatim) > 0 {
		return term, nil
	}

	if len(t.ProtocolExcept) > 0 {
		detail := "protocol-except is not supported"
		if len(t.Protocol) > 0 {
			detail = "protocol and protocol-except cannot be combined"
		}
		return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "protocol-except", detail)
	}
	if err := aclgen.CheckKeywords(t, supportedKeywords); err != nil {
		return nil, err
	}
	if _, ok := actions[t.Action]; !ok {
		return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "action "+string(t.Action), "unknown action")
	}

	for _, opt := range t.Option {
		if flag, ok := tcpFlags[opt]; ok {
			term.flags = append(term.flags, flag)
			continue
		}
		if !otherOptions[opt] {
			return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "option "+opt, "unknown option")
		}
	}
	sort.Strings(term.flags)
	term.established = t.HasOption("established") || t.HasOption("tcp-established")

	if t.PacketLength != "" {
		r, err := ports.ParseRange(t.PacketLength)
		if err != nil {
			return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "packet-length", "%v", err)
		}
		term.length = r.Format(":")
	}
	if t.FragmentOffset != "" {
		r, err := ports.ParseRange(t.FragmentOffset)
		if err != nil {
			return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "fragment-offset", "%v", err)
		}
		term.fragOffset = r.Format(":")
	}

	if term.established && !stateful {
		if len(t.Protocol) == 0 || !onlyTCPUDP(t.Protocol) {
			return nil, aclgen.Errorf(aclgen.KindEstablished, PLATFORM, t.Name, "established",
				"stateless filters only support established for tcp and udp, got %v", t.Protocol)
		}
		if len(term.flags) > 0 {
			return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "tcp flags",
				"tcp flags cannot be combined with established in a stateless filter")
		}
	}
	return term, nil
}

func withTerm(err error, term string) error {
	if e, ok := err.(*aclgen.Error); ok {
		c := *e
		c.Term = term
		return &c
	}
	return err
}

func onlyTCPUDP(protocols []string) bool {
	for _, p := range protocols {
		if p != "tcp" && p != "udp" {
			return false
		}
	}
	return true
}

// Name is the term name after abbreviation and truncation.
func (t *Term) Name() string {
	return t.name
}

// Chain is the term's own chain.
func (t *Term) Chain() string {
	return t.chain
}

var actions = map[policy.Action]func(addrset.Family) string{
	policy.ActionAccept: func(addrset.Family) string { return "ACCEPT" },
	policy.ActionDeny:   func(addrset.Family) string { return "DROP" },
	policy.ActionReject: func(f addrset.Family) string {
		if f == addrset.IPv6 {
			return "REJECT --reject-with icmp6-adm-prohibited"
		}
		return "REJECT --reject-with icmp-host-prohibited"
	},
	policy.ActionRejectWithTCPRst: func(addrset.Family) string { return "REJECT --reject-with tcp-reset" },
	policy.ActionNext:             func(addrset.Family) string { return "RETURN" },
}

// Lines renders the term block linked from the parent chain. A term whose
// addresses reduce to nothing for the family renders no lines.
func (t *Term) Lines(parent string) ([]string, error) {
	if len(t.term.Verbatim) > 0 {
		return t.term.VerbatimFor(PLATFORM), nil
	}

	plan := t.plan()
	if plan.Empty() {
		return nil, nil
	}

	out := []string{
		"-N " + t.chain,
		fmt.Sprintf("-A %s -j %s", parent, t.chain),
	}
	head := match{"-A " + t.chain}
	for _, c := range aclgen.SanitizeComments(t.term.Comment, t.term.Owner) {
		out = append(out, head.copy().comment(c).render())
	}
	for _, n := range plan.SourceReturn {
		out = append(out, head.copy().source(n).jump("RETURN").render())
	}
	for _, n := range plan.DestinationReturn {
		out = append(out, head.copy().destination(n).jump("RETURN").render())
	}

	protocols := t.term.Protocol
	if len(protocols) == 0 {
		protocols = []string{""}
	}
	action := actions[t.term.Action](t.family)
	for _, proto := range protocols {
		clauses, err := t.portClauses(proto)
		if err != nil {
			return nil, err
		}
		for _, flags := range t.flagVariants(proto) {
			for _, pc := range clauses {
				for _, icmp := range t.icmpClauses(proto) {
					for _, s := range plan.Source {
						for _, d := range plan.Destination {
							m := t.protocolClause(head.copy(), proto)
							m = append(m, flags...)
							m = m.ports(pc).source(s).destination(d)
							if icmp != "" {
								m = append(m, icmp)
							}
							m = t.options(m)
							m = m.inInterface(t.term.SourceInterface).outInterface(t.term.DestinationInterface)
							if t.term.Logging {
								out = append(out, m.copy().jump("LOG --log-prefix "+t.name).render())
							}
							out = append(out, m.jump(action).render())
						}
					}
				}
			}
		}
	}
	return out, nil
}

func (t *Term) plan() addrset.Plan {
	return addrset.Optimize(t.family, addrset.Request{
		Source:             t.term.SourceAddress,
		SourceExclude:      t.term.SourceAddressExclude,
		Destination:        t.term.DestinationAddress,
		DestinationExclude: t.term.DestinationAddressExclude,
	})
}

func (t *Term) protocolClause(m match, proto string) match {
	if aclgen.IsIcmp(proto) {
		return m
	}
	if expr, ok := ipv6Headers[proto]; ok && t.family == addrset.IPv6 {
		return m.u32(expr)
	}
	return m.protocol(proto)
}

func (t *Term) flagVariants(proto string) [][]string {
	if proto != "tcp" {
		return [][]string{nil}
	}
	var base []string
	if len(t.flags) > 0 {
		joined := strings.Join(t.flags, ",")
		base = match(base).tcpFlags(joined, joined)
	}
	if t.term.HasOption("initial") {
		base = match(base).syn()
	}
	if t.established && !t.stateful {
		var variants [][]string
		for _, v := range statelessTCPEstablished {
			variants = append(variants, match(base).copy().tcpFlags(v[0], v[1]))
		}
		return variants
	}
	return [][]string{base}
}

func (t *Term) icmpClauses(proto string) []string {
	if !aclgen.IsIcmp(proto) {
		return []string{""}
	}
	if len(t.icmpCodes) == 0 {
		if proto == "icmpv6" {
			return []string{"-p ipv6-icmp"}
		}
		return []string{"-p icmp"}
	}
	var out []string
	for _, code := range t.icmpCodes {
		if proto == "icmpv6" {
			out = append(out, match(nil).icmpv6Type(code).render())
		} else {
			out = append(out, match(nil).icmpType(code).render())
		}
	}
	return out
}

func (t *Term) portClauses(proto string) ([]string, error) {
	if proto != "tcp" && proto != "udp" {
		return []string{""}, nil
	}
	sports := t.term.SourcePort
	dports := t.term.DestinationPort
	if t.established && len(dports) == 0 && onlyTCPUDP(t.term.Protocol) {
		dports = []ports.Range{HIGH_PORTS}
	}

	src := []string{""}
	if len(sports) > 0 {
		var err error
		if src, err = portStatement(sports, true, false); err != nil {
			return nil, err
		}
	}
	dst := []string{""}
	if len(dports) > 0 {
		var err error
		if dst, err = portStatement(dports, false, true); err != nil {
			return nil, err
		}
	}

	var out []string
	for _, s := range src {
		for _, d := range dst {
			// A single value clause precedes a multiport one.
			if len(sports) > 1 && len(dports) == 1 {
				out = append(out, strings.TrimSpace(d+" "+s))
			} else {
				out = append(out, strings.TrimSpace(s+" "+d))
			}
		}
	}
	return out, nil
}

// portStatement renders the port clauses for exactly one direction. More
// than one entry uses the multiport module, one clause per chunk.
func portStatement(rs []ports.Range, source, dest bool) ([]string, error) {
	if source && dest {
		return nil, &aclgen.Error{Kind: aclgen.KindBadPorts, Platform: PLATFORM, Detail: "cannot render source and destination ports in one statement"}
	}
	if !source && !dest {
		return nil, &aclgen.Error{Kind: aclgen.KindNotImplemented, Platform: PLATFORM, Detail: "port statement needs a direction"}
	}
	flag, multi := "--dport", "--dports"
	if source {
		flag, multi = "--sport", "--sports"
	}
	if len(rs) == 1 {
		return []string{fmt.Sprintf("%s %s", flag, rs[0].Format(":"))}, nil
	}
	var out []string
	for _, chunk := range ports.Chunk(rs, ports.MaxMultiportEntries) {
		out = append(out, fmt.Sprintf("-m multiport %s %s", multi, ports.Join(chunk, ":")))
	}
	return out, nil
}

func (t *Term) options(m match) match {
	if t.term.HasOption("first-fragment") {
		m = m.u32("4&0x3FFF=0x2000")
	}
	if t.length != "" {
		m = m.length(t.length)
	}
	if t.fragOffset != "" {
		m = m.u32("4&0x1FFF=" + t.fragOffset)
	}
	switch {
	case t.established && t.stateful:
		m = m.state("ESTABLISHED,RELATED")
	case t.stateful && t.term.Action == policy.ActionAccept:
		m = m.state("NEW,ESTABLISHED,RELATED")
	}
	return m
}
