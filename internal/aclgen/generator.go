// Package aclgen holds what every platform renderer shares: the error
// kinds, term name and comment policy, ICMP tables, expiration checks and
// the registry of platforms.
package aclgen

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pettai/capirca/internal/policy"
)

const DEFAULT_EXP_INFO = 2

// Generator is a rendered document for one platform.
type Generator interface {
	Platform() string
	// Suffix is the file extension of the rendered artifact.
	Suffix() string
	Render() (string, error)
	// SetTarget overrides the chain (or policy) name and the default
	// action. Term content is never affected.
	SetTarget(target, action string)
}

type Options struct {
	Log logrus.FieldLogger
	Now func() time.Time
}

type Option func(*Options)

// WithLogger sets the sink for expiration, family and chain diagnostics.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Log = l
	}
}

// WithClock sets the clock used for expiration checks.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		o.Now = now
	}
}

func NewOptions(opts ...Option) Options {
	o := Options{
		Log: logrus.StandardLogger(),
		Now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Factory builds a platform's document from a policy.
type Factory func(pol *policy.Policy, expInfoWeeks int, opts ...Option) (Generator, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a platform available by name. It panics on duplicates.
func Register(platform string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[platform]; ok {
		panic(fmt.Sprintf("platform %s registered twice", platform))
	}
	registry[platform] = f
}

func Lookup(platform string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[platform]
	return f, ok
}

// Platforms lists the registered platforms, sorted.
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CheckKeywords rejects any optional keyword of term outside supported.
func CheckKeywords(term *policy.Term, supported map[string]bool) error {
	for _, kw := range term.OptionalKeywords() {
		if !supported[kw] {
			return &Error{
				Kind:    KindUnsupportedFilter,
				Term:    term.Name,
				Feature: kw,
				Detail:  "keyword not supported",
			}
		}
	}
	return nil
}
