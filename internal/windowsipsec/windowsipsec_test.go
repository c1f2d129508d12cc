package windowsipsec

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pettai/capirca/internal/aclgen"
	"github.com/pettai/capirca/internal/naming"
	"github.com/pettai/capirca/internal/policy"
)

const GOOD_HEADER = `
- header:
    comment: this is a test acl
    target: windows_ipsec test-filter
  terms:
`

const IPV6_HEADER = `
- header:
    target: windows_ipsec test-filter inet6
  terms:
`

const BAD_HEADER = `
- header:
    target: windows_ipsec test-filter bogus
  terms:
`

const GOOD_TERM_ICMP = `
  - name: good-term-icmp
    protocol: icmp
    action: accept
`

const BAD_TERM_ICMP = `
  - name: test-icmp
    icmp-type: echo-request echo-reply
    action: accept
`

const GOOD_TERM_TCP = `
  - name: good-term-tcp
    comment: Test term 1
    destination-address: PROD_NET
    destination-port: SMTP
    protocol: tcp
    action: accept
`

const EXCLUDE_TERM = `
  - name: exclude-term
    source-address: PROD_NET
    source-exclude: MGMT_NET
    protocol: udp
    source-port: DNS
    action: deny
`

const EXPIRED_TERM = `
  - name: expired_test
    expiration: 2000-1-1
    action: deny
`

const EXPIRING_TERM = `
  - name: is_expiring
    expiration: %s
    action: accept
`

const MULTIPLE_PROTOCOLS_TERM = `
  - name: multi-proto
    protocol: tcp udp icmp
    action: accept
`

const PORT_RANGE_TERM = `
  - name: port-range
    protocol: tcp
    destination-port: HIGH
    action: accept
`

const OPTION_TERM = `
  - name: established
    protocol: tcp
    option: established
    action: accept
`

const NEXT_TERM = `
  - name: next-term
    action: next
`

const V6_TERM = `
  - name: v6-term
    destination-address: IPV6_NET
    protocol: tcp
    action: accept
`

const EXP_INFO = 2

var testNow = time.Date(2020, 6, 15, 12, 0, 0, 0, time.Local)

func testDefinitions() *naming.Definitions {
	return naming.NewDefinitions(map[string][]string{
		"PROD_NET": {"10.0.0.0/8"},
		"MGMT_NET": {"10.128.0.0/9"},
		"IPV6_NET": {"2001:db8::/32"},
	}, map[string][]string{
		"SMTP": {"25/tcp"},
		"DNS":  {"53/udp"},
		"HIGH": {"1024-65535/tcp"},
	})
}

func newTestIPSec(t *testing.T, parts ...string) (*WindowsIPSec, *test.Hook, error) {
	t.Helper()
	pol, err := policy.Parse([]byte("filters:\n"+strings.Join(parts, "")), testDefinitions())
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	w, err := New(pol, EXP_INFO, aclgen.WithLogger(logger), aclgen.WithClock(func() time.Time { return testNow }))
	return w, hook, err
}

func render(t *testing.T, parts ...string) string {
	t.Helper()
	w, _, err := newTestIPSec(t, parts...)
	require.NoError(t, err)
	result, err := w.Render()
	require.NoError(t, err)
	return result
}

func assertStatements(t *testing.T, result string, statements ...string) {
	t.Helper()
	for _, s := range statements {
		assert.Contains(t, result, PREFIX+s)
	}
}

func TestPolicy(t *testing.T) {
	result := render(t, GOOD_HEADER, GOOD_TERM_TCP)
	assertStatements(t, result, "policy name=test-filter-policy assign=yes")
	assert.True(t, strings.HasPrefix(result, ": Windows IPSec test-filter Policy\n: this is a test acl\n: inet\n"))
}

func TestTcp(t *testing.T) {
	result := render(t, GOOD_HEADER, GOOD_TERM_TCP)
	assertStatements(t, result,
		"filteraction name=t_good-term-tcp-action action=permit",
		"filter filterlist=t_good-term-tcp-list mirrored=yes srcaddr=any  dstaddr=10.0.0.0 dstmask=8 dstport=25",
		"rule name=t_good-term-tcp-rule policy=test-filter filterlist=t_good-term-tcp-list filteraction=t_good-term-tcp-action",
	)
	assert.Contains(t, result, ": Test term 1\n")
}

func TestIcmp(t *testing.T) {
	result := render(t, GOOD_HEADER, GOOD_TERM_ICMP)
	assertStatements(t, result,
		"filterlist name=t_good-term-icmp-list",
		"filteraction name=t_good-term-icmp-action action=permit",
		"filter filterlist=t_good-term-icmp-list mirrored=yes srcaddr=any  dstaddr=any",
		"rule name=t_good-term-icmp-rule policy=test-filter filterlist=t_good-term-icmp-list filteraction=t_good-term-icmp-action",
	)
}

func TestBadIcmp(t *testing.T) {
	w, _, err := newTestIPSec(t, GOOD_HEADER, BAD_TERM_ICMP)
	require.NoError(t, err)
	_, err = w.Render()
	assert.True(t, errors.Is(err, aclgen.ErrUnsupportedFilter))

	var e *aclgen.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "icmp-type", e.Feature)
	assert.Equal(t, "test-filter", e.Filter)
	assert.True(t, strings.HasPrefix(w.String(), ": "))
}

func TestExpiredTerm(t *testing.T) {
	w, hook, err := newTestIPSec(t, GOOD_HEADER, EXPIRED_TERM)
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "Term expired_test in policy test-filter is expired and will not be rendered.", hook.LastEntry().Message)
	assert.NotContains(t, w.String(), "expired_test")
}

func TestExpiringTerm(t *testing.T) {
	exp := testNow.AddDate(0, 0, 7*EXP_INFO).Format("2006-01-02")
	_, hook, err := newTestIPSec(t, GOOD_HEADER, fmt.Sprintf(EXPIRING_TERM, exp))
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(t, "Term is_expiring in policy test-filter expires in less than 2 weeks.", hook.LastEntry().Message)
}

func TestMultiprotocol(t *testing.T) {
	result := render(t, GOOD_HEADER, MULTIPLE_PROTOCOLS_TERM)
	assertStatements(t, result,
		"filterlist name=t_multi-proto-list",
		"filteraction name=t_multi-proto-action action=permit",
		"filter filterlist=t_multi-proto-list mirrored=yes srcaddr=any  dstaddr=any  protocol=tcp",
		"filter filterlist=t_multi-proto-list mirrored=yes srcaddr=any  dstaddr=any  protocol=udp",
		"filter filterlist=t_multi-proto-list mirrored=yes srcaddr=any  dstaddr=any  protocol=icmp",
		"rule name=t_multi-proto-rule policy=test-filter filterlist=t_multi-proto-list filteraction=t_multi-proto-action",
	)
}

func TestExcludesAreSubtracted(t *testing.T) {
	result := render(t, GOOD_HEADER, EXCLUDE_TERM)
	assertStatements(t, result,
		"filteraction name=t_exclude-term-action action=block",
		"filter filterlist=t_exclude-term-list mirrored=yes srcaddr=10.0.0.0 srcmask=9 srcport=53 dstaddr=any  protocol=udp",
	)
	assert.NotContains(t, result, "10.128.0.0")
	assert.Equal(t, 1, strings.Count(result, PREFIX+"filter filterlist="))
}

func TestUnsupported(t *testing.T) {
	testCases := []struct {
		name    string
		term    string
		feature string
	}{
		{"port range", PORT_RANGE_TERM, "port range 1024-65535"},
		{"option", OPTION_TERM, "option"},
		{"next action", NEXT_TERM, "action next"},
	}
	for _, tc := range testCases {
		_, _, err := newTestIPSec(t, GOOD_HEADER, tc.term)
		var e *aclgen.Error
		require.True(t, errors.As(err, &e), tc.name)
		assert.Equal(t, aclgen.KindUnsupportedFilter, e.Kind, tc.name)
		assert.Equal(t, tc.feature, e.Feature, tc.name)
		assert.Equal(t, PLATFORM, e.Platform, tc.name)
	}
}

func TestBadTargetOption(t *testing.T) {
	_, _, err := newTestIPSec(t, BAD_HEADER, GOOD_TERM_ICMP)
	assert.True(t, errors.Is(err, aclgen.ErrUnsupportedTargetOption))
}

func TestFamilyFiltering(t *testing.T) {
	result := render(t, GOOD_HEADER, V6_TERM, GOOD_TERM_ICMP)
	assert.NotContains(t, result, "v6-term")

	result = render(t, IPV6_HEADER, V6_TERM, GOOD_TERM_ICMP)
	assertStatements(t, result, "filter filterlist=t_v6-term-list mirrored=yes srcaddr=any  dstaddr=2001:db8:: dstmask=32 protocol=tcp")
	assert.NotContains(t, result, "good-term-icmp")
}

func TestSetTarget(t *testing.T) {
	w, _, err := newTestIPSec(t, GOOD_HEADER, GOOD_TERM_TCP)
	require.NoError(t, err)
	w.SetTarget("other", "deny")
	result := w.String()
	assertStatements(t, result,
		"policy name=other-policy assign=yes",
		"rule name=t_good-term-tcp-rule policy=other filterlist=t_good-term-tcp-list",
	)
	assert.NotContains(t, result, "test-filter")
}

func TestRegistered(t *testing.T) {
	f, ok := aclgen.Lookup(PLATFORM)
	require.True(t, ok)
	pol, err := policy.Parse([]byte("filters:\n"+GOOD_HEADER+GOOD_TERM_ICMP), testDefinitions())
	require.NoError(t, err)
	g, err := f(pol, EXP_INFO, aclgen.WithLogger(logrus.New()))
	require.NoError(t, err)
	assert.Equal(t, SUFFIX, g.Suffix())
}
