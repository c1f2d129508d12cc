package addrset

import "net"

// Request carries the resolved addresses of one term. A nil inclusion list
// matches any address; a non-nil empty one matches nothing.
type Request struct {
	Source             []*net.IPNet
	SourceExclude      []*net.IPNet
	Destination        []*net.IPNet
	DestinationExclude []*net.IPNet
}

// Plan is an ordered rule sequence: every return directive is emitted before
// the cartesian product of the inclusion lists.
type Plan struct {
	SourceReturn      []*net.IPNet
	DestinationReturn []*net.IPNet
	Source            []*net.IPNet
	Destination       []*net.IPNet

	// EmptySide names the side ("source" or "destination") that resolved to
	// no address of the requested family. The term renders nothing.
	EmptySide string
}

func (p Plan) Empty() bool {
	return p.EmptySide != ""
}

// Rules is the number of directives the plan emits.
func (p Plan) Rules() int {
	if p.Empty() {
		return 0
	}
	return len(p.SourceReturn) + len(p.DestinationReturn) + len(p.Source)*len(p.Destination)
}

type reduction struct {
	include []*net.IPNet
	returns []*net.IPNet
}

// reductions lists the candidate encodings of one side, preferred first:
// plain subtraction, early return of the excluded prefixes, and inversion
// to an any-match guarded by returns for everything outside the set.
func reductions(f Family, include, exclude []*net.IPNet) []reduction {
	in := []*net.IPNet{f.All()}
	if include != nil {
		in = Collapse(Filter(include, f))
	}
	if len(in) == 0 {
		return nil
	}
	ex := Collapse(Filter(exclude, f))
	effective := Subtract(in, ex)
	if len(effective) == 0 {
		return nil
	}

	cands := []reduction{{include: effective}}
	if ret := Intersect(ex, in); len(ret) > 0 {
		cands = append(cands, reduction{include: in, returns: ret})
	}
	if !(len(effective) == 1 && IsAll(effective[0])) {
		cands = append(cands, reduction{
			include: []*net.IPNet{f.All()},
			returns: Complement(effective, f),
		})
	}
	return cands
}

// Optimize picks, for source and destination together, the encodings giving
// the fewest directives. Ties go to the earlier candidate, source first.
func Optimize(f Family, r Request) Plan {
	src := reductions(f, r.Source, r.SourceExclude)
	if len(src) == 0 {
		return Plan{EmptySide: "source"}
	}
	dst := reductions(f, r.Destination, r.DestinationExclude)
	if len(dst) == 0 {
		return Plan{EmptySide: "destination"}
	}

	var best Plan
	bestCost := -1
	for _, s := range src {
		for _, d := range dst {
			cost := len(s.returns) + len(d.returns) + len(s.include)*len(d.include)
			if bestCost >= 0 && cost >= bestCost {
				continue
			}
			bestCost = cost
			best = Plan{
				SourceReturn:      s.returns,
				DestinationReturn: d.returns,
				Source:            s.include,
				Destination:       d.include,
			}
		}
	}
	return best
}
