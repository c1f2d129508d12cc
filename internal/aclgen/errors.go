package aclgen

import (
	"fmt"
	"strings"
)

// Kind classifies a fatal rendering error.
type Kind int

const (
	KindUnsupportedFilter Kind = iota + 1
	KindTermNameTooLong
	KindEstablished
	KindBadPorts
	KindNotImplemented
	KindDuplicateTerm
	KindUnsupportedTargetOption
)

var kindNames = map[Kind]string{
	KindUnsupportedFilter:       "unsupported filter",
	KindTermNameTooLong:         "term name too long",
	KindEstablished:             "established",
	KindBadPorts:                "bad ports",
	KindNotImplemented:          "not implemented",
	KindDuplicateTerm:           "duplicate term",
	KindUnsupportedTargetOption: "unsupported target option",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is returned by renderers for anything that prevents a filter or a
// term from being rendered. Feature names the offending keyword, option or
// value when there is one.
type Error struct {
	Kind     Kind
	Platform string
	Filter   string
	Term     string
	Feature  string
	Detail   string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Platform != "" {
		fmt.Fprintf(&b, ": %s", e.Platform)
	}
	if e.Filter != "" {
		fmt.Fprintf(&b, " filter %s", e.Filter)
	}
	if e.Term != "" {
		fmt.Fprintf(&b, " term %s", e.Term)
	}
	if e.Feature != "" {
		fmt.Fprintf(&b, ": %s", e.Feature)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnsupportedFilter       = &Error{Kind: KindUnsupportedFilter}
	ErrTermNameTooLong         = &Error{Kind: KindTermNameTooLong}
	ErrEstablished             = &Error{Kind: KindEstablished}
	ErrBadPorts                = &Error{Kind: KindBadPorts}
	ErrNotImplemented          = &Error{Kind: KindNotImplemented}
	ErrDuplicateTerm           = &Error{Kind: KindDuplicateTerm}
	ErrUnsupportedTargetOption = &Error{Kind: KindUnsupportedTargetOption}
)

// Errorf builds an *Error without filter context; renderers add it with
// Annotate as the error travels up.
func Errorf(kind Kind, platform, term, feature, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		Platform: platform,
		Term:     term,
		Feature:  feature,
		Detail:   fmt.Sprintf(format, args...),
	}
}

// Annotate fills in the platform and filter of err when err is an *Error
// that lacks them.
func Annotate(err error, platform, filter string) error {
	e, ok := err.(*Error)
	if !ok {
		return err
	}
	c := *e
	if c.Platform == "" {
		c.Platform = platform
	}
	if c.Filter == "" {
		c.Filter = filter
	}
	return &c
}
