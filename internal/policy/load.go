package policy

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pettai/capirca/internal/naming"
	"github.com/pettai/capirca/internal/ports"
)

const EXPIRATION_LAYOUT = "2006-1-2"

// StringList accepts either a scalar or a sequence. Scalars are split on
// whitespace, so "tcp udp" and [tcp, udp] are equivalent.
type StringList []string

func (l *StringList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seq []interface{}
	if err := unmarshal(&seq); err == nil {
		out := make([]string, 0, len(seq))
		for _, v := range seq {
			out = append(out, scalarString(v))
		}
		*l = out
		return nil
	}
	var scalar interface{}
	if err := unmarshal(&scalar); err != nil {
		return err
	}
	if scalar == nil {
		*l = nil
		return nil
	}
	*l = strings.Fields(scalarString(scalar))
	return nil
}

func scalarString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

type marshalledHeader struct {
	Comment yamlText   `yaml:"comment"`
	Target  yamlTarget `yaml:"target"`
}

// yamlText keeps scalar comments intact rather than splitting them.
type yamlText []string

func (l *yamlText) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seq []interface{}
	if err := unmarshal(&seq); err == nil {
		for _, v := range seq {
			*l = append(*l, scalarString(v))
		}
		return nil
	}
	var scalar interface{}
	if err := unmarshal(&scalar); err != nil {
		return err
	}
	if scalar != nil {
		*l = []string{scalarString(scalar)}
	}
	return nil
}

// yamlTarget is one target line or a list of them.
type yamlTarget []string

func (l *yamlTarget) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var t yamlText
	if err := unmarshal(&t); err != nil {
		return err
	}
	*l = yamlTarget(t)
	return nil
}

type marshalledVerbatim struct {
	Platform string `yaml:"platform"`
	Text     string `yaml:"text"`
}

type marshalledTerm struct {
	Name                 string               `yaml:"name"`
	Protocol             StringList           `yaml:"protocol"`
	ProtocolExcept       StringList           `yaml:"protocol-except"`
	SourceAddress        StringList           `yaml:"source-address"`
	SourceExclude        StringList           `yaml:"source-exclude"`
	DestinationAddress   StringList           `yaml:"destination-address"`
	DestinationExclude   StringList           `yaml:"destination-exclude"`
	SourcePort           StringList           `yaml:"source-port"`
	DestinationPort      StringList           `yaml:"destination-port"`
	Option               StringList           `yaml:"option"`
	IcmpType             StringList           `yaml:"icmp-type"`
	Action               string               `yaml:"action"`
	Logging              interface{}          `yaml:"logging"`
	Owner                string               `yaml:"owner"`
	Comment              yamlText             `yaml:"comment"`
	Verbatim             []marshalledVerbatim `yaml:"verbatim"`
	Expiration           string               `yaml:"expiration"`
	SourceInterface      string               `yaml:"source-interface"`
	DestinationInterface string               `yaml:"destination-interface"`
	PacketLength         string               `yaml:"packet-length"`
	FragmentOffset       string               `yaml:"fragment-offset"`
	EtherType            StringList           `yaml:"ether-type"`
	Platform             StringList           `yaml:"platform"`
	PlatformExclude      StringList           `yaml:"platform-exclude"`

	Extensions map[string]interface{} `yaml:",inline"`
}

type marshalledFilter struct {
	Header marshalledHeader `yaml:"header"`
	Terms  []marshalledTerm `yaml:"terms"`
}

type marshalledPolicy struct {
	Filters []marshalledFilter `yaml:"filters"`
}

// Parse decodes a policy document and resolves every token through r.
func Parse(data []byte, r naming.Resolver) (*Policy, error) {
	var m marshalledPolicy
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal policy")
	}
	if len(m.Filters) == 0 {
		return nil, fmt.Errorf("policy has no filters")
	}

	pol := &Policy{}
	for i, mf := range m.Filters {
		f, err := buildFilter(mf, r)
		if err != nil {
			return nil, errors.Wrapf(err, "filter %d", i)
		}
		pol.Filters = append(pol.Filters, f)
	}
	return pol, nil
}

// LoadFile reads and parses a policy file.
func LoadFile(path string, r naming.Resolver) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read policy %s", path)
	}
	pol, err := Parse(data, r)
	if err != nil {
		return nil, errors.Wrapf(err, "policy %s", path)
	}
	pol.Source = path
	return pol, nil
}

func buildFilter(mf marshalledFilter, r naming.Resolver) (*Filter, error) {
	f := &Filter{Header: Header{Comment: mf.Header.Comment}}
	if len(mf.Header.Target) == 0 {
		return nil, fmt.Errorf("header has no target")
	}
	for _, line := range mf.Header.Target {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, fmt.Errorf("empty target")
		}
		f.Header.Targets = append(f.Header.Targets, Target{Platform: fields[0], Options: fields[1:]})
	}
	for _, mt := range mf.Terms {
		t, err := buildTerm(mt, r)
		if err != nil {
			return nil, errors.Wrapf(err, "term %s", mt.Name)
		}
		f.Terms = append(f.Terms, t)
	}
	return f, nil
}

func buildTerm(mt marshalledTerm, r naming.Resolver) (*Term, error) {
	if mt.Name == "" {
		return nil, fmt.Errorf("term without a name")
	}
	t := &Term{
		Name:                 mt.Name,
		Protocol:             mt.Protocol,
		ProtocolExcept:       mt.ProtocolExcept,
		Option:               mt.Option,
		IcmpType:             mt.IcmpType,
		Action:               Action(mt.Action),
		Logging:              loggingEnabled(mt.Logging),
		Owner:                mt.Owner,
		Comment:              mt.Comment,
		SourceInterface:      mt.SourceInterface,
		DestinationInterface: mt.DestinationInterface,
		PacketLength:         mt.PacketLength,
		FragmentOffset:       mt.FragmentOffset,
		EtherType:            mt.EtherType,
		Platform:             mt.Platform,
		PlatformExclude:      mt.PlatformExclude,
	}
	for _, v := range mt.Verbatim {
		t.Verbatim = append(t.Verbatim, Verbatim{Platform: v.Platform, Text: v.Text})
	}

	if t.Action == "" && len(t.Verbatim) == 0 {
		return nil, fmt.Errorf("no action")
	}
	if t.Action != "" && !validActions[t.Action] {
		return nil, fmt.Errorf("invalid action %q", t.Action)
	}

	if mt.Expiration != "" {
		exp, err := time.ParseInLocation(EXPIRATION_LAYOUT, mt.Expiration, time.Local)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid expiration %q", mt.Expiration)
		}
		t.Expiration = exp
	}

	if len(mt.Extensions) > 0 {
		t.Extensions = map[string]string{}
		for k, v := range mt.Extensions {
			t.Extensions[k] = scalarString(v)
		}
	}

	var err error
	if t.SourceAddress, err = resolveAddresses(mt.SourceAddress, r); err != nil {
		return nil, err
	}
	if t.SourceAddressExclude, err = resolveAddresses(mt.SourceExclude, r); err != nil {
		return nil, err
	}
	if t.DestinationAddress, err = resolveAddresses(mt.DestinationAddress, r); err != nil {
		return nil, err
	}
	if t.DestinationAddressExclude, err = resolveAddresses(mt.DestinationExclude, r); err != nil {
		return nil, err
	}

	if (len(mt.SourcePort) > 0 || len(mt.DestinationPort) > 0) && len(t.Protocol) == 0 {
		return nil, fmt.Errorf("ports specified without a protocol")
	}
	if t.SourcePort, err = resolvePorts(mt.SourcePort, t.Protocol, r); err != nil {
		return nil, err
	}
	if t.DestinationPort, err = resolvePorts(mt.DestinationPort, t.Protocol, r); err != nil {
		return nil, err
	}
	return t, nil
}

func loggingEnabled(v interface{}) bool {
	if v == nil {
		return false
	}
	switch strings.ToLower(scalarString(v)) {
	case "", "false", "disable":
		return false
	}
	return true
}

func resolveAddresses(tokens []string, r naming.Resolver) ([]*net.IPNet, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	out := []*net.IPNet{}
	for _, tok := range tokens {
		nets, err := r.ResolveAddresses(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, nets...)
	}
	return out, nil
}

func resolvePorts(tokens, protocols []string, r naming.Resolver) ([]ports.Range, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	var all []ports.Range
	for _, proto := range protocols {
		for _, tok := range tokens {
			rs, err := r.ResolvePorts(tok, proto)
			if err != nil {
				return nil, err
			}
			all = append(all, rs...)
		}
	}
	return ports.Collapse(all), nil
}
