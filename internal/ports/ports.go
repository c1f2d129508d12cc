package ports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaxMultiportEntries is the number of entries placed into one multi-value
// port clause. The iptables multiport module accepts 15, one slot is kept
// free so a range never tips a clause over the limit.
const MaxMultiportEntries = 14

// Range is an inclusive port range. A single port has Low == High.
type Range struct {
	Low  uint16
	High uint16
}

func Single(port uint16) Range {
	return Range{Low: port, High: port}
}

// ParseRange parses "80" or "1024-65535".
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	lo, hi := s, s
	if i := strings.Index(s, "-"); i >= 0 {
		lo, hi = s[:i], s[i+1:]
	}
	low, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return Range{}, fmt.Errorf("invalid port %q: %v", s, err)
	}
	high, err := strconv.ParseUint(hi, 10, 16)
	if err != nil {
		return Range{}, fmt.Errorf("invalid port %q: %v", s, err)
	}
	if low > high {
		return Range{}, fmt.Errorf("invalid port range %q: low port above high port", s)
	}
	return Range{Low: uint16(low), High: uint16(high)}, nil
}

func (r Range) IsSingle() bool {
	return r.Low == r.High
}

// Format renders the range, joining a real range with sep.
func (r Range) Format(sep string) string {
	if r.IsSingle() {
		return strconv.Itoa(int(r.Low))
	}
	return fmt.Sprintf("%d%s%d", r.Low, sep, r.High)
}

func (r Range) String() string {
	return r.Format("-")
}

// Collapse sorts the ranges and merges the ones that overlap or touch.
func Collapse(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	sorted := append([]Range(nil), rs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Low != sorted[j].Low {
			return sorted[i].Low < sorted[j].Low
		}
		return sorted[i].High < sorted[j].High
	})
	out := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if uint32(r.Low) <= uint32(last.High)+1 {
			if r.High > last.High {
				last.High = r.High
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

// Chunk splits rs into consecutive groups of at most size entries. Order is
// preserved and the groups concatenated give back rs.
func Chunk(rs []Range, size int) [][]Range {
	if size <= 0 {
		size = MaxMultiportEntries
	}
	var chunks [][]Range
	for i := 0; i < len(rs); i += size {
		end := i + size
		if end > len(rs) {
			end = len(rs)
		}
		chunks = append(chunks, rs[i:end])
	}
	return chunks
}

// Join formats every range with sep and joins them with commas.
func Join(rs []Range, sep string) string {
	parts := make([]string, 0, len(rs))
	for _, r := range rs {
		parts = append(parts, r.Format(sep))
	}
	return strings.Join(parts, ",")
}
