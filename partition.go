// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigpart/space"
)

// AccessIntent declares how a process accesses the slices it owns
// under a partitioning. Write and ReadWrite ownership must be
// disjoint across processes; Read and Reduce ownership may overlap.
type AccessIntent int

const (
	Read AccessIntent = iota
	Write
	ReadWrite
	Reduce
)

var intentNames = [...]string{
	Read:      "read",
	Write:     "write",
	ReadWrite: "readwrite",
	Reduce:    "reduce",
}

func (a AccessIntent) String() string {
	if a < 0 || int(a) >= len(intentNames) {
		return "invalid"
	}
	return intentNames[a]
}

// A TaskSlice assigns one slice of the space to one rank, with an
// access intent. Op is meaningful only when Intent is Reduce.
type TaskSlice struct {
	Rank   int
	Slice  space.Slice
	Intent AccessIntent
	Op     ReduceOp
}

// A Partitioning maps each rank of a group to the slices it owns in a
// space, with per-slice access intent. A partitioning is built with
// Add and sealed with Update; after Update it is immutable and safe
// to share.
type Partitioning struct {
	group  *Group
	space  space.Space
	slices []TaskSlice
	sealed bool
}

// NewPartitioning returns an empty, unsealed partitioning of sp over
// group g.
func NewPartitioning(g *Group, sp space.Space) *Partitioning {
	return &Partitioning{group: g, space: sp}
}

// Add assigns slc to rank with the given intent. op is the reduction
// operation for Reduce intent and must be OpNone otherwise. Add
// panics on a sealed partitioning.
func (p *Partitioning) Add(rank int, slc space.Slice, intent AccessIntent, op ReduceOp) {
	if p.sealed {
		panic("bigpart: Add on sealed partitioning")
	}
	p.slices = append(p.slices, TaskSlice{Rank: rank, Slice: slc, Intent: intent, Op: op})
}

// Update validates and seals the partitioning: every slice must lie
// within the space, ranks must be valid for the group, and slices
// with Write or ReadWrite intent must not overlap slices of other
// ranks that also write. Slices are ordered canonically so that all
// processes planning against the same partitioning observe the same
// order.
func (p *Partitioning) Update() error {
	for _, ts := range p.slices {
		if ts.Rank < 0 || ts.Rank >= p.group.Size() {
			return errors.E(errors.Invalid, fmt.Sprintf("partitioning: rank %d outside %s", ts.Rank, p.group))
		}
		if !p.space.Contains(ts.Slice) {
			return errors.E(errors.Invalid, fmt.Sprintf("partitioning: slice %s outside %s", ts.Slice, p.space))
		}
		if ts.Intent == Reduce {
			if ts.Op == OpNone {
				return errors.E(errors.Invalid, "partitioning: reduce intent without reduction op")
			}
		} else if ts.Op != OpNone {
			return errors.E(errors.Invalid, fmt.Sprintf("partitioning: op %s with %s intent", ts.Op, ts.Intent))
		}
	}
	for i, a := range p.slices {
		if a.Intent != Write && a.Intent != ReadWrite {
			continue
		}
		for _, b := range p.slices[i+1:] {
			if b.Rank == a.Rank || (b.Intent != Write && b.Intent != ReadWrite) {
				continue
			}
			if ovl, ok := space.Intersect(a.Slice, b.Slice); ok {
				return errors.E(errors.Invalid,
					fmt.Sprintf("partitioning: ranks %d and %d both write %s", a.Rank, b.Rank, ovl))
			}
		}
	}
	sort.SliceStable(p.slices, func(i, j int) bool {
		a, b := p.slices[i], p.slices[j]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.Slice.From.Less(b.Slice.From, a.Slice.Dims)
	})
	p.sealed = true
	return nil
}

// Group returns the group the partitioning is defined over.
func (p *Partitioning) Group() *Group { return p.group }

// Space returns the partitioned space.
func (p *Partitioning) Space() space.Space { return p.space }

// All returns all task slices in canonical order. The returned slice
// must not be modified.
func (p *Partitioning) All() []TaskSlice {
	p.mustBeSealed()
	return p.slices
}

// Slices returns the task slices owned by rank, in canonical order.
func (p *Partitioning) Slices(rank int) []TaskSlice {
	p.mustBeSealed()
	lo := sort.Search(len(p.slices), func(i int) bool { return p.slices[i].Rank >= rank })
	hi := lo
	for hi < len(p.slices) && p.slices[hi].Rank == rank {
		hi++
	}
	return p.slices[lo:hi]
}

// Required returns the bounding box of the slices owned by rank. ok
// is false when rank owns nothing.
func (p *Partitioning) Required(rank int) (box space.Slice, ok bool) {
	for _, ts := range p.Slices(rank) {
		box = space.Union(box, ts.Slice)
		ok = true
	}
	return box, ok
}

func (p *Partitioning) mustBeSealed() {
	if !p.sealed {
		panic("bigpart: partitioning used before Update")
	}
}

// BlockPartitioning returns a sealed partitioning that splits a 1-d
// space into near-equal contiguous blocks, one per rank, with the
// given intent.
func BlockPartitioning(g *Group, sp space.Space, intent AccessIntent, op ReduceOp) (*Partitioning, error) {
	if sp.Dims() != 1 {
		return nil, errors.E(errors.Invalid, "block partitioning requires a 1-d space")
	}
	p := NewPartitioning(g, sp)
	n, size := int64(g.Size()), sp.Extent(0)
	for rank := int64(0); rank < n; rank++ {
		from := rank * size / n
		to := (rank + 1) * size / n
		if from < to {
			p.Add(int(rank), space.Slice1D(from, to), intent, op)
		}
	}
	if err := p.Update(); err != nil {
		return nil, err
	}
	return p, nil
}

// AllPartitioning returns a sealed partitioning in which every rank
// owns the whole space with the given intent. Write and ReadWrite
// intents are rejected for groups of more than one process, as full
// overlap cannot be disjoint.
func AllPartitioning(g *Group, sp space.Space, intent AccessIntent, op ReduceOp) (*Partitioning, error) {
	if g.Size() > 1 && (intent == Write || intent == ReadWrite) {
		return nil, errors.E(errors.Invalid, "all-partitioning cannot have write intent")
	}
	p := NewPartitioning(g, sp)
	for rank := 0; rank < g.Size(); rank++ {
		p.Add(rank, sp.All(), intent, op)
	}
	if err := p.Update(); err != nil {
		return nil, err
	}
	return p, nil
}
