// Package naming resolves the symbolic network and service names used in
// policies into concrete prefixes and port ranges.
package naming

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/pettai/capirca/internal/addrset"
	"github.com/pettai/capirca/internal/ports"
)

// Resolver turns policy tokens into concrete values. Resolution happens
// before rendering; renderers never call it.
type Resolver interface {
	ResolveAddresses(token string) ([]*net.IPNet, error)
	ResolvePorts(token, protocol string) ([]ports.Range, error)
}

// UndefinedError is returned for tokens that have no definition.
type UndefinedError struct {
	Kind  string
	Token string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined %s %q", e.Kind, e.Token)
}

// definitionFile is the on-disk layout of a definitions file:
//
//	networks:
//	  INTERNAL: [10.0.0.0/8, OOB_NET]
//	services:
//	  HTTP: [80/tcp]
type definitionFile struct {
	Networks map[string][]string `yaml:"networks"`
	Services map[string][]string `yaml:"services"`
}

// Definitions is a Resolver backed by name -> values tables. Values may
// reference other names.
type Definitions struct {
	networks map[string][]string
	services map[string][]string
}

func NewDefinitions(networks, services map[string][]string) *Definitions {
	d := &Definitions{
		networks: map[string][]string{},
		services: map[string][]string{},
	}
	for k, v := range networks {
		d.networks[k] = v
	}
	for k, v := range services {
		d.services[k] = v
	}
	return d
}

// Parse merges the definitions found in one YAML document.
func (d *Definitions) Parse(data []byte) error {
	var f definitionFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return errors.Wrap(err, "failed to unmarshal definitions")
	}
	for k, v := range f.Networks {
		if _, ok := d.networks[k]; ok {
			return fmt.Errorf("network %s defined more than once", k)
		}
		d.networks[k] = v
	}
	for k, v := range f.Services {
		if _, ok := d.services[k]; ok {
			return fmt.Errorf("service %s defined more than once", k)
		}
		d.services[k] = v
	}
	return nil
}

// Load reads every *.yaml / *.yml file of dir.
func Load(dir string) (*Definitions, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read definitions directory %s", dir)
	}
	var files []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	d := NewDefinitions(nil, nil)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", f)
		}
		if err := d.Parse(data); err != nil {
			return nil, errors.Wrapf(err, "in %s", f)
		}
	}
	return d, nil
}

func (d *Definitions) ResolveAddresses(token string) ([]*net.IPNet, error) {
	out := []*net.IPNet{}
	if err := d.addresses(token, map[string]bool{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Definitions) addresses(token string, seen map[string]bool, out *[]*net.IPNet) error {
	values, ok := d.networks[token]
	if !ok {
		return &UndefinedError{Kind: "network", Token: token}
	}
	if seen[token] {
		return fmt.Errorf("network %s references itself", token)
	}
	seen[token] = true
	defer delete(seen, token)

	for _, v := range values {
		v = stripComment(v)
		if v == "" {
			continue
		}
		if _, isName := d.networks[v]; isName {
			if err := d.addresses(v, seen, out); err != nil {
				return err
			}
			continue
		}
		n, err := addrset.ParsePrefix(v)
		if err != nil {
			return errors.Wrapf(err, "network %s", token)
		}
		*out = append(*out, n)
	}
	return nil
}

// ResolvePorts returns the ranges of token defined for protocol, in
// definition order.
func (d *Definitions) ResolvePorts(token, protocol string) ([]ports.Range, error) {
	out := []ports.Range{}
	if err := d.ports(token, protocol, map[string]bool{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Definitions) ports(token, protocol string, seen map[string]bool, out *[]ports.Range) error {
	values, ok := d.services[token]
	if !ok {
		return &UndefinedError{Kind: "service", Token: token}
	}
	if seen[token] {
		return fmt.Errorf("service %s references itself", token)
	}
	seen[token] = true
	defer delete(seen, token)

	for _, v := range values {
		v = stripComment(v)
		if v == "" {
			continue
		}
		if _, isName := d.services[v]; isName {
			if err := d.ports(v, protocol, seen, out); err != nil {
				return err
			}
			continue
		}
		slash := strings.LastIndex(v, "/")
		if slash < 0 {
			return fmt.Errorf("service %s: %q lacks a /protocol suffix", token, v)
		}
		if v[slash+1:] != protocol {
			continue
		}
		r, err := ports.ParseRange(v[:slash])
		if err != nil {
			return errors.Wrapf(err, "service %s", token)
		}
		*out = append(*out, r)
	}
	return nil
}

func stripComment(v string) string {
	if i := strings.Index(v, "#"); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
