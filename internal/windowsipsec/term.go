package windowsipsec

import (
	"fmt"
	"net"
	"strings"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/addrset"
	"github.com/pettai/capirca/internal/policy"
	"github.com/pettai/capirca/internal/ports"
)

const PLATFORM = "windows_ipsec"

const MAX_TERM_NAME_LENGTH = 32

// PREFIX starts every netsh statement of a document.
const PREFIX = "netsh ipsec static add "

var supportedKeywords = map[string]bool{
	"owner": true,
}

var actions = map[policy.Action]string{
	policy.ActionAccept: "permit",
	policy.ActionDeny:   "block",
	policy.ActionReject: "block",
}

// Term renders one policy term as a filter list, filter action and rule.
type Term struct {
	term   *policy.Term
	name   string
	family addrset.Family
}

// NewTerm validates t for a filter named filterName and fixes its name.
func NewTerm(t *policy.Term, filterName string, family addrset.Family, abbreviate, truncate bool) (*Term, error) {
	term, err := validateTerm(t, family)
	if err != nil {
		return nil, err
	}
	if err := term.finish(filterName, abbreviate, truncate); err != nil {
		return nil, err
	}
	return term, nil
}

func validateTerm(t *policy.Term, family addrset.Family) (*Term, error) {
	term := &Term{term: t, family: family, name: t.Name}
	if len(t.Verbatim) > 0 {
		return term, nil
	}
	if len(t.ProtocolExcept) > 0 {
		return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "protocol-except", "protocol-except is not supported")
	}
	if err := aclgen.CheckKeywords(t, supportedKeywords); err != nil {
		return nil, err
	}
	if _, ok := actions[t.Action]; !ok {
		return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "action "+string(t.Action), "netsh filter actions are permit and block")
	}
	if len(t.Option) > 0 {
		return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "option", "options %v are not supported", t.Option)
	}
	if len(t.SourcePort) > 0 || len(t.DestinationPort) > 0 {
		for _, p := range t.Protocol {
			if p != "tcp" && p != "udp" {
				return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "ports",
					"ports are only supported for tcp and udp, got %s", p)
			}
		}
	}
	for _, rs := range [][]ports.Range{t.SourcePort, t.DestinationPort} {
		for _, r := range rs {
			if !r.IsSingle() {
				return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.Name, "port range "+r.Format("-"),
					"netsh filters take single ports")
			}
		}
	}
	return term, nil
}

func (t *Term) finish(filterName string, abbreviate, truncate bool) error {
	name, err := aclgen.FixTermLength(t.term.Name, MAX_TERM_NAME_LENGTH, abbreviate, truncate)
	if err != nil {
		return err
	}
	t.name = fmt.Sprintf("%s_%s", filterName[:1], name)
	return nil
}

// Name is the prefixed term name used for the netsh objects.
func (t *Term) Name() string {
	return t.name
}

// addresses returns the term's prefixes of one side with exclusions
// subtracted. A nil result with ok set matches any address.
func (t *Term) addresses(include, exclude []*net.IPNet) (nets []*net.IPNet, ok bool) {
	ex := addrset.Collapse(addrset.Filter(exclude, t.family))
	if include == nil {
		if len(ex) == 0 {
			return nil, true
		}
		include = []*net.IPNet{t.family.All()}
	}
	nets = addrset.Subtract(addrset.Collapse(addrset.Filter(include, t.family)), ex)
	if len(nets) == 1 && addrset.IsAll(nets[0]) {
		return nil, true
	}
	return nets, len(nets) > 0
}

// empty reports the side, if any, left with no address of the family.
func (t *Term) empty() string {
	if _, ok := t.addresses(t.term.SourceAddress, t.term.SourceAddressExclude); !ok {
		return "source"
	}
	if _, ok := t.addresses(t.term.DestinationAddress, t.term.DestinationAddressExclude); !ok {
		return "destination"
	}
	return ""
}

// endpoint returns the address column and the mask and port column of one
// side of a filter statement.
func endpoint(side string, n *net.IPNet, port string) (addr, extra string) {
	var cols []string
	if n == nil {
		addr = "any"
	} else {
		ones, _ := n.Mask.Size()
		addr = n.IP.String()
		cols = append(cols, fmt.Sprintf("%smask=%d", side, ones))
	}
	if port != "" {
		cols = append(cols, fmt.Sprintf("%sport=%s", side, port))
	}
	return addr, strings.Join(cols, " ")
}

func singlePorts(rs []ports.Range) []string {
	if len(rs) == 0 {
		return []string{""}
	}
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.String())
	}
	return out
}

// Lines renders the term statements for the policy named policyName.
func (t *Term) Lines(policyName string) ([]string, error) {
	if len(t.term.Verbatim) > 0 {
		return t.term.VerbatimFor(PLATFORM), nil
	}
	if len(t.term.IcmpType) > 0 {
		return nil, aclgen.Errorf(aclgen.KindUnsupportedFilter, PLATFORM, t.term.Name, "icmp-type", "netsh filters cannot match icmp types")
	}
	src, ok := t.addresses(t.term.SourceAddress, t.term.SourceAddressExclude)
	if !ok {
		return nil, nil
	}
	dst, ok := t.addresses(t.term.DestinationAddress, t.term.DestinationAddressExclude)
	if !ok {
		return nil, nil
	}
	if src == nil {
		src = []*net.IPNet{nil}
	}
	if dst == nil {
		dst = []*net.IPNet{nil}
	}
	protocols := t.term.Protocol
	if len(protocols) == 0 {
		protocols = []string{""}
	}

	list := t.name + "-list"
	action := t.name + "-action"
	var out []string
	for _, c := range aclgen.SanitizeComments(t.term.Comment, t.term.Owner) {
		out = append(out, ": "+c)
	}
	out = append(out,
		PREFIX+"filterlist name="+list,
		fmt.Sprintf("%sfilteraction name=%s action=%s", PREFIX, action, actions[t.term.Action]),
	)
	for _, s := range src {
		for _, d := range dst {
			for _, proto := range protocols {
				for _, sp := range singlePorts(t.term.SourcePort) {
					for _, dp := range singlePorts(t.term.DestinationPort) {
						sa, sx := endpoint("src", s, sp)
						da, dx := endpoint("dst", d, dp)
						line := fmt.Sprintf("%sfilter filterlist=%s mirrored=yes srcaddr=%s %s dstaddr=%s %s %s",
							PREFIX, list, sa, sx, da, dx, protocolClause(proto))
						out = append(out, strings.TrimRight(line, " "))
					}
				}
			}
		}
	}
	out = append(out, fmt.Sprintf("%srule name=%s-rule policy=%s filterlist=%s filteraction=%s",
		PREFIX, t.name, policyName, list, action))
	return out, nil
}

func protocolClause(proto string) string {
	if proto == "" {
		return ""
	}
	return "protocol=" + proto
}
