// Package windowsipsec renders policies as a batch file of netsh ipsec
// static statements.
package windowsipsec

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/addrset"
	"github.com/pettai/capirca/internal/policy"
)

const SUFFIX = ".bat"

type filter struct {
	name    string
	family  addrset.Family
	comment []string
	terms   []*Term
}

// WindowsIPSec is the rendered document of every windows_ipsec filter of a
// policy.
type WindowsIPSec struct {
	filters []*filter
	log     logrus.FieldLogger
}

func init() {
	aclgen.Register(PLATFORM, func(pol *policy.Policy, expInfoWeeks int, opts ...aclgen.Option) (aclgen.Generator, error) {
		w, err := New(pol, expInfoWeeks, opts...)
		if err != nil {
			return nil, err
		}
		return w, nil
	})
}

func parseFilterOptions(name string, opts []string) (family addrset.Family, abbreviate, truncate bool, err error) {
	family = addrset.IPv4
	families := 0
	for _, o := range opts {
		switch o {
		case "abbreviateterms":
			abbreviate = true
		case "truncateterms":
			truncate = true
		default:
			f, ok := aclgen.ParseFamily(o)
			if !ok {
				return family, false, false, &aclgen.Error{Kind: aclgen.KindUnsupportedTargetOption, Platform: PLATFORM, Filter: name, Feature: o}
			}
			family = f
			families++
		}
	}
	if families > 1 {
		return family, false, false, &aclgen.Error{
			Kind:     aclgen.KindUnsupportedFilter,
			Platform: PLATFORM,
			Filter:   name,
			Feature:  "address family",
			Detail:   "only one of inet and inet6 may be given",
		}
	}
	return family, abbreviate, truncate, nil
}

// New validates every windows_ipsec filter of pol. Unsupported icmp types
// are only reported by Render.
func New(pol *policy.Policy, expInfoWeeks int, opts ...aclgen.Option) (*WindowsIPSec, error) {
	o := aclgen.NewOptions(opts...)
	w := &WindowsIPSec{log: o.Log}
	now := o.Now()

	for _, pf := range pol.Filters {
		if _, ok := pf.Header.Target(PLATFORM); !ok {
			continue
		}
		name := pf.Header.FilterName(PLATFORM)
		if name == "" {
			return nil, &aclgen.Error{Kind: aclgen.KindUnsupportedTargetOption, Platform: PLATFORM, Detail: "target has no policy name"}
		}
		family, abbreviate, truncate, err := parseFilterOptions(name, pf.Header.FilterOptions(PLATFORM))
		if err != nil {
			return nil, err
		}
		f := &filter{name: name, family: family, comment: pf.Header.Comment}

		seen := map[string]bool{}
		for _, pt := range pf.Terms {
			if !pt.AppliesTo(PLATFORM) {
				continue
			}
			log := w.log.WithFields(logrus.Fields{"platform": PLATFORM, "filter": name, "term": pt.Name})

			term, err := validateTerm(pt, family)
			if err != nil {
				return nil, aclgen.Annotate(err, PLATFORM, name)
			}
			if aclgen.FamilyMismatch(pt.Protocol, family) != "" {
				log.Debugf("Term %s will not be rendered, as it has %s match specified but the ACL is of %s address family.",
					pt.Name, aclgen.ProtocolList(pt.Protocol), aclgen.FamilyName(family))
				continue
			}
			if !aclgen.ReportExpiration(log, pt.Name, name, pt.Expiration, now, expInfoWeeks) {
				continue
			}
			if err := term.finish(name, abbreviate, truncate); err != nil {
				return nil, aclgen.Annotate(err, PLATFORM, name)
			}
			if seen[term.Name()] {
				return nil, &aclgen.Error{Kind: aclgen.KindDuplicateTerm, Platform: PLATFORM, Filter: name, Term: term.Name()}
			}
			seen[term.Name()] = true

			if len(pt.Verbatim) == 0 {
				if side := term.empty(); side != "" {
					log.Debugf("Term %s will not be rendered, as it has no %s %s addresses.",
						pt.Name, aclgen.FamilyName(family), side)
				}
			}
			f.terms = append(f.terms, term)
		}
		w.filters = append(w.filters, f)
	}
	return w, nil
}

func (w *WindowsIPSec) Platform() string {
	return PLATFORM
}

func (w *WindowsIPSec) Suffix() string {
	return SUFFIX
}

// SetTarget renames every policy of the document. netsh policies carry no
// default action, so action is ignored.
func (w *WindowsIPSec) SetTarget(name, action string) {
	if name == "" {
		return
	}
	for _, f := range w.filters {
		f.name = name
	}
}

// Render produces the batch file text. It does not modify the document.
func (w *WindowsIPSec) Render() (string, error) {
	var b strings.Builder
	for _, f := range w.filters {
		fmt.Fprintf(&b, ": Windows IPSec %s Policy\n", f.name)
		for _, c := range f.comment {
			fmt.Fprintf(&b, ": %s\n", strings.Join(strings.Fields(c), " "))
		}
		fmt.Fprintf(&b, ": %s\n", aclgen.FamilyName(f.family))
		fmt.Fprintf(&b, "%spolicy name=%s-policy assign=yes\n", PREFIX, f.name)

		for _, t := range f.terms {
			lines, err := t.Lines(f.name)
			if err != nil {
				return "", aclgen.Annotate(err, PLATFORM, f.name)
			}
			for _, l := range lines {
				b.WriteString(l)
				b.WriteByte('\n')
			}
		}
	}
	return b.String(), nil
}

func (w *WindowsIPSec) String() string {
	s, err := w.Render()
	if err != nil {
		return fmt.Sprintf(": %v\n", err)
	}
	return s
}
