// Package policy holds the vendor-neutral filter model handed to renderers.
// Values are resolved by the loader and treated as read-only afterwards.
package policy

import (
	"net"
	"sort"
	"time"

	"github.com/pettai/capirca/internal/ports"
)

type Action string

const (
	ActionAccept           Action = "accept"
	ActionDeny             Action = "deny"
	ActionReject           Action = "reject"
	ActionRejectWithTCPRst Action = "reject-with-tcp-rst"
	ActionNext             Action = "next"
)

var validActions = map[Action]bool{
	ActionAccept:           true,
	ActionDeny:             true,
	ActionReject:           true,
	ActionRejectWithTCPRst: true,
	ActionNext:             true,
}

// Target is one "target:" line of a header: the platform followed by the
// arguments that platform interprets.
type Target struct {
	Platform string
	Options  []string
}

type Header struct {
	Comment []string
	Targets []Target
}

// Target returns the first target of the header naming platform.
func (h *Header) Target(platform string) (Target, bool) {
	for _, t := range h.Targets {
		if t.Platform == platform {
			return t, true
		}
	}
	return Target{}, false
}

// FilterName is the first argument of the platform's target.
func (h *Header) FilterName(platform string) string {
	t, ok := h.Target(platform)
	if !ok || len(t.Options) == 0 {
		return ""
	}
	return t.Options[0]
}

// FilterOptions are the target arguments after the filter name.
func (h *Header) FilterOptions(platform string) []string {
	t, ok := h.Target(platform)
	if !ok || len(t.Options) < 2 {
		return nil
	}
	return t.Options[1:]
}

type Verbatim struct {
	Platform string
	Text     string
}

// Term is a single resolved policy term. A nil address list means the term
// does not restrict that side; a non-nil empty one resolved to nothing.
type Term struct {
	Name           string
	Protocol       []string
	ProtocolExcept []string

	SourceAddress             []*net.IPNet
	SourceAddressExclude      []*net.IPNet
	DestinationAddress        []*net.IPNet
	DestinationAddressExclude []*net.IPNet

	SourcePort      []ports.Range
	DestinationPort []ports.Range

	Option   []string
	IcmpType []string
	Action   Action

	Logging  bool
	Owner    string
	Comment  []string
	Verbatim []Verbatim

	// Expiration is the zero time when the term never expires.
	Expiration time.Time

	SourceInterface      string
	DestinationInterface string
	PacketLength         string
	FragmentOffset       string
	EtherType            []string

	Platform        []string
	PlatformExclude []string

	// Extensions holds keywords the loader accepted but no field models.
	Extensions map[string]string
}

// OptionalKeywords lists the populated keywords that renderers may or may
// not support, sorted.
func (t *Term) OptionalKeywords() []string {
	var out []string
	if t.Logging {
		out = append(out, "logging")
	}
	if t.Owner != "" {
		out = append(out, "owner")
	}
	if t.SourceInterface != "" {
		out = append(out, "source_interface")
	}
	if t.DestinationInterface != "" {
		out = append(out, "destination_interface")
	}
	if t.PacketLength != "" {
		out = append(out, "packet_length")
	}
	if t.FragmentOffset != "" {
		out = append(out, "fragment_offset")
	}
	if len(t.EtherType) > 0 {
		out = append(out, "ether_type")
	}
	for k := range t.Extensions {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// AppliesTo reports whether the term's platform restrictions allow
// rendering it for platform.
func (t *Term) AppliesTo(platform string) bool {
	for _, p := range t.PlatformExclude {
		if p == platform {
			return false
		}
	}
	if len(t.Platform) == 0 {
		return true
	}
	for _, p := range t.Platform {
		if p == platform {
			return true
		}
	}
	return false
}

// VerbatimFor returns the verbatim texts tagged for platform.
func (t *Term) VerbatimFor(platform string) []string {
	var out []string
	for _, v := range t.Verbatim {
		if v.Platform == platform {
			out = append(out, v.Text)
		}
	}
	return out
}

// HasOption reports whether opt is among the term's options.
func (t *Term) HasOption(opt string) bool {
	for _, o := range t.Option {
		if o == opt {
			return true
		}
	}
	return false
}

type Filter struct {
	Header Header
	Terms  []*Term
}

type Policy struct {
	// Source is the file the policy was loaded from, if any.
	Source  string
	Filters []*Filter
}

// Platforms lists every platform targeted by any filter, in first-seen order.
func (p *Policy) Platforms() []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range p.Filters {
		for _, t := range f.Header.Targets {
			if !seen[t.Platform] {
				seen[t.Platform] = true
				out = append(out, t.Platform)
			}
		}
	}
	return out
}
