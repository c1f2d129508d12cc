// Package iptables renders policies as iptables-restore style rule text.
// Every term lives in its own chain, linked from the filter's chain.
package iptables

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/addrset"
	"github.com/pettai/capirca/internal/policy"
)

const SUFFIX = ".ipt"

var builtinChains = map[string]bool{
	"INPUT":   true,
	"OUTPUT":  true,
	"FORWARD": true,
}

var defaultActions = map[string]bool{
	"ACCEPT": true,
	"DROP":   true,
}

type filter struct {
	chain         string
	defaultAction string
	family        addrset.Family
	stateful      bool
	comment       []string
	terms         []*Term
}

// Iptables is the rendered document of every iptables filter of a policy.
type Iptables struct {
	filters []*filter
	log     logrus.FieldLogger
}

func init() {
	aclgen.Register(PLATFORM, func(pol *policy.Policy, expInfoWeeks int, opts ...aclgen.Option) (aclgen.Generator, error) {
		ipt, err := New(pol, expInfoWeeks, opts...)
		if err != nil {
			return nil, err
		}
		return ipt, nil
	})
}

type filterOptions struct {
	defaultAction string
	family        addrset.Family
	stateful      bool
	abbreviate    bool
	truncate      bool
}

func parseFilterOptions(chain string, opts []string) (filterOptions, error) {
	fo := filterOptions{family: addrset.IPv4, stateful: true}
	families := 0
	for _, o := range opts {
		switch {
		case defaultActions[o]:
			fo.defaultAction = o
		case o == "nostate":
			fo.stateful = false
		case o == "abbreviateterms":
			fo.abbreviate = true
		case o == "truncateterms":
			fo.truncate = true
		default:
			f, ok := aclgen.ParseFamily(o)
			if !ok {
				return fo, &aclgen.Error{Kind: aclgen.KindUnsupportedTargetOption, Platform: PLATFORM, Filter: chain, Feature: o}
			}
			fo.family = f
			families++
		}
	}
	if families > 1 {
		return fo, &aclgen.Error{
			Kind:     aclgen.KindUnsupportedFilter,
			Platform: PLATFORM,
			Filter:   chain,
			Feature:  "address family",
			Detail:   "only one of inet and inet6 may be given",
		}
	}
	return fo, nil
}

// New validates every iptables filter of pol. Expired and family
// mismatched terms are reported to the logger and dropped here.
func New(pol *policy.Policy, expInfoWeeks int, opts ...aclgen.Option) (*Iptables, error) {
	o := aclgen.NewOptions(opts...)
	ipt := &Iptables{log: o.Log}
	now := o.Now()

	for _, pf := range pol.Filters {
		if _, ok := pf.Header.Target(PLATFORM); !ok {
			continue
		}
		chain := pf.Header.FilterName(PLATFORM)
		if chain == "" {
			return nil, &aclgen.Error{Kind: aclgen.KindUnsupportedTargetOption, Platform: PLATFORM, Detail: "target has no chain"}
		}
		fo, err := parseFilterOptions(chain, pf.Header.FilterOptions(PLATFORM))
		if err != nil {
			return nil, err
		}
		f := &filter{
			chain:         chain,
			defaultAction: fo.defaultAction,
			family:        fo.family,
			stateful:      fo.stateful,
			comment:       pf.Header.Comment,
		}
		ipt.warnCustomChain(chain)

		seen := map[string]bool{}
		for _, pt := range pf.Terms {
			if !pt.AppliesTo(PLATFORM) {
				continue
			}
			log := ipt.log.WithFields(logrus.Fields{"platform": PLATFORM, "filter": chain, "term": pt.Name})

			term, err := validateTerm(pt, f.family, f.stateful)
			if err != nil {
				return nil, aclgen.Annotate(err, PLATFORM, chain)
			}
			if aclgen.FamilyMismatch(pt.Protocol, f.family) != "" {
				log.Debugf("Term %s will not be rendered, as it has %s match specified but the ACL is of %s address family.",
					pt.Name, aclgen.ProtocolList(pt.Protocol), aclgen.FamilyName(f.family))
				continue
			}
			if !aclgen.ReportExpiration(log, pt.Name, chain, pt.Expiration, now, expInfoWeeks) {
				continue
			}
			if err := term.finish(chain, fo.abbreviate, fo.truncate); err != nil {
				return nil, aclgen.Annotate(err, PLATFORM, chain)
			}
			if seen[term.Name()] {
				return nil, &aclgen.Error{Kind: aclgen.KindDuplicateTerm, Platform: PLATFORM, Filter: chain, Term: term.Name()}
			}
			seen[term.Name()] = true

			if len(pt.Verbatim) == 0 {
				if p := term.plan(); p.Empty() {
					log.Debugf("Term %s will not be rendered, as it has no %s %s addresses.",
						pt.Name, aclgen.FamilyName(f.family), p.EmptySide)
				}
			}
			// Surface rendering errors now rather than on first Render.
			if _, err := term.Lines(chain); err != nil {
				return nil, aclgen.Annotate(err, PLATFORM, chain)
			}
			f.terms = append(f.terms, term)
		}
		ipt.filters = append(ipt.filters, f)
	}
	return ipt, nil
}

func (ipt *Iptables) warnCustomChain(chain string) {
	if builtinChains[chain] {
		return
	}
	ipt.log.WithFields(logrus.Fields{"platform": PLATFORM, "filter": chain}).
		Warnf("Filter is generating a non-standard chain that will not apply to traffic unless linked from INPUT, OUTPUT or FORWARD filters. New chain name is: %s", chain)
}

func (ipt *Iptables) Platform() string {
	return PLATFORM
}

func (ipt *Iptables) Suffix() string {
	return SUFFIX
}

// SetTarget moves every filter to chain and, when action is not empty,
// sets its default action. Term chains keep their names.
func (ipt *Iptables) SetTarget(chain, action string) {
	for _, f := range ipt.filters {
		if chain != "" && chain != f.chain {
			f.chain = chain
			ipt.warnCustomChain(chain)
		}
		if action != "" {
			f.defaultAction = strings.ToUpper(action)
		}
	}
}

// Render produces the document text. It does not modify the document.
func (ipt *Iptables) Render() (string, error) {
	var b strings.Builder
	for _, f := range ipt.filters {
		fmt.Fprintf(&b, "# Iptables %s Policy\n", f.chain)
		for _, c := range f.comment {
			fmt.Fprintf(&b, "# %s\n", strings.Join(strings.Fields(c), " "))
		}
		fmt.Fprintf(&b, "# %s\n", aclgen.FamilyName(f.family))

		if builtinChains[f.chain] {
			if f.defaultAction != "" {
				if !defaultActions[f.defaultAction] {
					return "", &aclgen.Error{Kind: aclgen.KindUnsupportedTargetOption, Platform: PLATFORM, Filter: f.chain, Feature: f.defaultAction}
				}
				fmt.Fprintf(&b, "-P %s %s\n", f.chain, f.defaultAction)
			}
		} else {
			fmt.Fprintf(&b, "-N %s\n", f.chain)
		}

		for _, t := range f.terms {
			lines, err := t.Lines(f.chain)
			if err != nil {
				return "", aclgen.Annotate(err, PLATFORM, f.chain)
			}
			for _, l := range lines {
				b.WriteString(l)
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}

func (ipt *Iptables) String() string {
	s, err := ipt.Render()
	if err != nil {
		return fmt.Sprintf("# %v\n", err)
	}
	return s
}
