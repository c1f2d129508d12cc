package addrset

import (
	"encoding/binary"
	"math/rand"
	"net"
	"testing"

	"github.com/apparentlymart/go-cidr/cidr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prefixes(ss ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(ss))
	for _, s := range ss {
		out = append(out, MustParse(s))
	}
	return out
}

func strs(nets []*net.IPNet) []string {
	out := make([]string, 0, len(nets))
	for _, n := range nets {
		out = append(out, n.String())
	}
	return out
}

func TestParsePrefix(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
		family   Family
	}{
		{"10.0.0.0/8", "10.0.0.0/8", IPv4},
		{"10.1.2.3/8", "10.0.0.0/8", IPv4},
		{"192.168.1.1", "192.168.1.1/32", IPv4},
		{"fd87:6044:ac54:3558::/64", "fd87:6044:ac54:3558::/64", IPv6},
		{"::1", "::1/128", IPv6},
	}
	for _, tc := range testCases {
		n, err := ParsePrefix(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, n.String())
		assert.Equal(t, tc.family, FamilyOf(n))
	}

	_, err := ParsePrefix("not-an-address")
	assert.Error(t, err)
	_, err = ParsePrefix("10.0.0.0/33")
	assert.Error(t, err)
}

func TestCollapse(t *testing.T) {
	testCases := []struct {
		name     string
		input    []string
		expected []string
	}{
		{"siblings merge", []string{"10.0.1.0/24", "10.0.0.0/24"}, []string{"10.0.0.0/23"}},
		{"cascade", []string{"10.0.0.0/24", "10.0.1.0/24", "10.0.2.0/23"}, []string{"10.0.0.0/22"}},
		{"contained dropped", []string{"10.0.0.0/8", "10.1.0.0/16", "10.0.0.0/8"}, []string{"10.0.0.0/8"}},
		{"non adjacent kept", []string{"10.0.1.0/25", "10.0.0.0/25"}, []string{"10.0.0.0/25", "10.0.1.0/25"}},
		{"mixed families", []string{"::/1", "10.0.0.0/8", "8000::/1"}, []string{"10.0.0.0/8", "::/0"}},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, strs(Collapse(prefixes(tc.input...))), tc.name)
	}
}

func TestSubtract(t *testing.T) {
	got := Subtract(prefixes("10.0.0.0/8"), prefixes("10.128.0.0/9", "10.64.0.0/10"))
	assert.Equal(t, []string{"10.0.0.0/10"}, strs(got))

	got = Subtract(prefixes("10.0.0.0/8"), prefixes("10.0.0.0/24"))
	assert.Len(t, got, 16)
	assert.Equal(t, "10.0.1.0/24", got[0].String())
	assert.Equal(t, "10.128.0.0/9", got[len(got)-1].String())

	assert.Empty(t, Subtract(prefixes("10.0.0.0/24"), prefixes("10.0.0.0/8")))
	assert.Equal(t, []string{"192.168.0.0/16"},
		strs(Subtract(prefixes("192.168.0.0/16"), prefixes("10.0.0.0/8"))))
}

func TestSubtractMixedFamilies(t *testing.T) {
	got := Subtract(prefixes("10.0.0.0/8", "2001:db8::/32"), prefixes("10.128.0.0/9", "2001:db8:8000::/33"))
	assert.Equal(t, []string{"10.0.0.0/9", "2001:db8::/33"}, strs(got))

	got = Subtract(prefixes("2001:db8::/32"), prefixes("10.0.0.0/8"))
	assert.Equal(t, []string{"2001:db8::/32"}, strs(got))
	assert.Equal(t, 16, len(got[0].IP))

	got = Subtract(prefixes("10.0.0.0/8"), prefixes("10.1.2.0/23", "10.200.0.0/16"))
	assert.Equal(t, 4, len(got[0].IP))
	assert.NoError(t, cidr.VerifyNoOverlap(append(got, prefixes("10.1.2.0/23", "10.200.0.0/16")...), MustParse("10.0.0.0/8")))
}

func TestComplement(t *testing.T) {
	got := Complement(prefixes("10.0.0.0/8"), IPv4)
	assert.Equal(t, []string{
		"0.0.0.0/5", "8.0.0.0/7", "11.0.0.0/8", "12.0.0.0/6",
		"16.0.0.0/4", "32.0.0.0/3", "64.0.0.0/2", "128.0.0.0/1",
	}, strs(got))
	assert.NoError(t, cidr.VerifyNoOverlap(append(got, MustParse("10.0.0.0/8")), IPv4.All()))

	assert.Equal(t, []string{"::/0"}, strs(Complement(nil, IPv6)))
}

func TestIntersect(t *testing.T) {
	got := Intersect(prefixes("10.0.0.0/24", "192.168.0.0/16", "0.0.0.0/0"), prefixes("10.0.0.0/8"))
	assert.Equal(t, []string{"10.0.0.0/8"}, strs(got))

	got = Intersect(prefixes("10.0.0.0/24", "172.16.0.0/12"), prefixes("10.0.0.0/8"))
	assert.Equal(t, []string{"10.0.0.0/24"}, strs(got))
}

func TestOptimizeEarlyReturn(t *testing.T) {
	plan := Optimize(IPv4, Request{
		Source:        prefixes("10.0.0.0/8"),
		SourceExclude: prefixes("10.0.0.0/24"),
	})
	require.False(t, plan.Empty())
	assert.Equal(t, []string{"10.0.0.0/24"}, strs(plan.SourceReturn))
	assert.Equal(t, []string{"10.0.0.0/8"}, strs(plan.Source))
	assert.Equal(t, []string{"0.0.0.0/0"}, strs(plan.Destination))
	assert.Equal(t, 2, plan.Rules())
}

func TestOptimizeSubtractWhenCheaper(t *testing.T) {
	plan := Optimize(IPv4, Request{
		Source:        prefixes("10.0.0.0/8"),
		SourceExclude: prefixes("10.128.0.0/9", "10.64.0.0/10"),
	})
	assert.Empty(t, plan.SourceReturn)
	assert.Equal(t, []string{"10.0.0.0/10"}, strs(plan.Source))
	assert.Equal(t, 1, plan.Rules())
}

func longLists() (src, dst []*net.IPNet) {
	for i := 0; i < 18; i++ {
		src = append(src, &net.IPNet{IP: net.IPv4(10, byte(i), 0, 0).To4(), Mask: net.CIDRMask(17, 32)})
	}
	for i := 0; i < 40; i++ {
		dst = append(dst, &net.IPNet{IP: net.IPv4(10, 0, byte(i), 0).To4(), Mask: net.CIDRMask(25, 32)})
	}
	return src, dst
}

func TestOptimizeInvertsLongSource(t *testing.T) {
	src, dst := longLists()
	plan := Optimize(IPv4, Request{Source: src, Destination: dst})

	assert.Less(t, plan.Rules(), len(src)*len(dst))
	assert.Equal(t, []string{"0.0.0.0/0"}, strs(plan.Source))
	assert.Len(t, plan.Destination, 40)
	assert.Contains(t, strs(plan.SourceReturn), "0.0.0.0/5")
	assert.Contains(t, strs(plan.SourceReturn), "10.0.128.0/17")
	assert.Empty(t, plan.DestinationReturn)
}

func TestOptimizeInvertsLongDestination(t *testing.T) {
	dst, src := longLists()
	plan := Optimize(IPv4, Request{Source: src, Destination: dst})

	assert.Less(t, plan.Rules(), len(src)*len(dst))
	assert.Equal(t, []string{"0.0.0.0/0"}, strs(plan.Destination))
	assert.Contains(t, strs(plan.DestinationReturn), "0.0.0.0/5")
	assert.Contains(t, strs(plan.DestinationReturn), "10.0.128.0/17")
}

func TestOptimizeEmptySides(t *testing.T) {
	plan := Optimize(IPv6, Request{Source: prefixes("10.0.0.0/8")})
	assert.True(t, plan.Empty())
	assert.Equal(t, "source", plan.EmptySide)
	assert.Equal(t, 0, plan.Rules())

	plan = Optimize(IPv4, Request{
		Destination:        prefixes("10.0.0.0/24"),
		DestinationExclude: prefixes("10.0.0.0/8"),
	})
	assert.Equal(t, "destination", plan.EmptySide)

	plan = Optimize(IPv4, Request{Source: []*net.IPNet{}})
	assert.Equal(t, "source", plan.EmptySide)
}

func TestOptimizeDropsForeignFamily(t *testing.T) {
	plan := Optimize(IPv6, Request{
		Source: prefixes("10.0.0.0/8", "2001:db8::/32"),
	})
	assert.Equal(t, []string{"2001:db8::/32"}, strs(plan.Source))
	assert.Equal(t, []string{"::/0"}, strs(plan.Destination))
}

func TestOptimizeDeterministic(t *testing.T) {
	src, dst := longLists()
	a := Optimize(IPv4, Request{Source: src, Destination: dst, DestinationExclude: prefixes("10.0.3.0/26")})
	b := Optimize(IPv4, Request{Source: src, Destination: dst, DestinationExclude: prefixes("10.0.3.0/26")})
	assert.Equal(t, strs(a.SourceReturn), strs(b.SourceReturn))
	assert.Equal(t, strs(a.DestinationReturn), strs(b.DestinationReturn))
	assert.Equal(t, strs(a.Source), strs(b.Source))
	assert.Equal(t, strs(a.Destination), strs(b.Destination))
}

func anyContains(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// simulate walks the plan the way a term chain is evaluated: returns first,
// then the inclusion product.
func simulate(p Plan, s, d net.IP) bool {
	if anyContains(p.SourceReturn, s) || anyContains(p.DestinationReturn, d) {
		return false
	}
	return anyContains(p.Source, s) && anyContains(p.Destination, d)
}

func randomIn(r *rand.Rand, base *net.IPNet) net.IP {
	ones, bits := base.Mask.Size()
	hostBits := bits - ones
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, binary.BigEndian.Uint32(base.IP.To4())|uint32(r.Int63n(int64(1)<<hostBits)))
	return ip
}

func TestOptimizePreservesMatchSet(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	universe := MustParse("10.0.0.0/14")
	testCases := []Request{
		{Source: prefixes("10.0.0.0/8"), SourceExclude: prefixes("10.0.0.0/24")},
		{Source: prefixes("10.0.0.0/8"), SourceExclude: prefixes("10.2.0.0/15", "10.1.0.0/16")},
		{
			Source: prefixes("10.0.0.0/15", "10.3.0.0/16"), SourceExclude: prefixes("10.0.128.0/17"),
			Destination: prefixes("10.1.0.0/16"), DestinationExclude: prefixes("10.1.5.0/24", "10.1.7.0/24"),
		},
		{Source: prefixes("10.0.0.0/17", "10.1.0.0/17", "10.2.0.0/17"), Destination: prefixes("10.3.0.0/25", "10.3.1.0/25")},
	}
	for i, req := range testCases {
		plan := Optimize(IPv4, req)
		require.False(t, plan.Empty(), "case %d", i)

		naiveSrc := Subtract(orAll(req.Source), req.SourceExclude)
		naiveDst := Subtract(orAll(req.Destination), req.DestinationExclude)
		assert.LessOrEqual(t, plan.Rules(), len(naiveSrc)*len(naiveDst), "case %d", i)

		for n := 0; n < 2000; n++ {
			s, d := randomIn(r, universe), randomIn(r, universe)
			want := anyContains(orAll(req.Source), s) && !anyContains(req.SourceExclude, s) &&
				anyContains(orAll(req.Destination), d) && !anyContains(req.DestinationExclude, d)
			if got := simulate(plan, s, d); got != want {
				t.Fatalf("case %d: %v -> %v matched %v, want %v", i, s, d, got, want)
			}
		}
		for _, x := range req.SourceExclude {
			if anyContains(plan.Source, x.IP) && !anyContains(plan.SourceReturn, x.IP) {
				t.Errorf("case %d: excluded %v reaches an inclusion line", i, x)
			}
		}
		for _, x := range req.DestinationExclude {
			if anyContains(plan.Destination, x.IP) && !anyContains(plan.DestinationReturn, x.IP) {
				t.Errorf("case %d: excluded %v reaches an inclusion line", i, x)
			}
		}
	}
}

func orAll(nets []*net.IPNet) []*net.IPNet {
	if nets == nil {
		return []*net.IPNet{IPv4.All()}
	}
	return nets
}
