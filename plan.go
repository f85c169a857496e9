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

// Plan computes the transition from partitioning old to partitioning
// new for the process at g.MyID(). It is a pure function: it performs
// no I/O and leaves both partitionings untouched. old may be nil for
// a container's first partitioning.
//
// Every process of the group computes the same canonical decisions:
// when several old owners cover the same indexes, the receiver-side
// choice of source (own data first, then the lowest old rank) is
// derived from the partitionings alone, so the sender side emits the
// matching send without communication. Sends and receives are
// returned sorted by (peer rank, slice origin) so executors can pair
// them deterministically.
func Plan(old, new *Partitioning, g *Group) (*Transition, error) {
	if new == nil {
		return nil, errors.E(errors.Invalid, "plan: nil target partitioning")
	}
	if new.Group() != g {
		return nil, errors.E(errors.Invalid, "plan: partitioning group differs from transition group")
	}
	if old != nil {
		if old.Space() != new.Space() {
			return nil, errors.E(errors.Invalid, "plan: partitionings over different spaces")
		}
		switch {
		case old.Group() == g:
		case old.Group() == g.Parent():
			// After a resize the first transition spans two groups:
			// rebase the old ownership onto the derived group's
			// ranks. Departed processes must have been drained by a
			// transition before the boundary.
			rebased, err := rebase(old, g)
			if err != nil {
				return nil, err
			}
			old = rebased
		default:
			return nil, errors.E(errors.Invalid,
				fmt.Sprintf("plan: old group size %d, new group size %d", old.Group().Size(), g.Size()))
		}
	}
	t := &Transition{From: old, To: new, Group: g}
	myid := g.MyID()

	// Data preservation for non-reduce intents: for every new slice,
	// cover it from old owners, preferring the new owner's own data.
	for _, ns := range new.All() {
		if ns.Intent == Reduce {
			continue
		}
		if old == nil {
			continue
		}
		var covered []space.Slice
		for _, os := range ownersFor(old, ns.Rank) {
			if os.Intent == Reduce {
				// Unreduced partial values are not data to preserve.
				continue
			}
			ovl, ok := space.Intersect(ns.Slice, os.Slice)
			if !ok || coveredBy(covered, ovl) {
				continue
			}
			covered = append(covered, ovl)
			switch {
			case os.Rank == ns.Rank:
				if ns.Rank == myid {
					t.Local = append(t.Local, LocalRec{Slice: ovl})
				}
			default:
				if ns.Rank == myid {
					t.Recv = append(t.Recv, RecvRec{Slice: ovl, From: os.Rank})
				}
				if os.Rank == myid {
					t.Send = append(t.Send, SendRec{Slice: ovl, To: ns.Rank})
				}
			}
		}
	}

	// Reduction records: one per distinct reduce slice of the new
	// partitioning. The input group is every old rank that wrote or
	// reduced overlapping indexes; the output group is every new
	// owner of the slice. A reduce slice with no inputs is instead
	// value-initialized at its local owner.
	type redKey struct {
		slc space.Slice
		op  ReduceOp
	}
	seen := make(map[redKey]bool)
	for _, ns := range new.All() {
		if ns.Intent != Reduce {
			continue
		}
		key := redKey{ns.Slice, ns.Op}
		if seen[key] {
			continue
		}
		seen[key] = true

		var output []int
		for _, os := range new.All() {
			if os.Intent == Reduce && os.Slice == ns.Slice && os.Op == ns.Op && !InGroup(output, os.Rank) {
				output = append(output, os.Rank)
			}
		}
		var input []int
		if old != nil {
			for _, os := range old.All() {
				if os.Intent == Read {
					continue
				}
				if _, ok := space.Intersect(ns.Slice, os.Slice); ok && !InGroup(input, os.Rank) {
					input = append(input, os.Rank)
				}
			}
		}
		sort.Ints(input)
		sort.Ints(output)

		if len(input) == 0 {
			if InGroup(output, myid) {
				t.Init = append(t.Init, InitRec{Slice: ns.Slice, Op: ns.Op})
			}
			continue
		}
		rec := RedRec{Slice: ns.Slice, Op: ns.Op, Input: input, Output: output, InMapNo: -1, OutMapNo: -1}
		if InGroup(input, myid) {
			rec.InMapNo = 0
		}
		if InGroup(output, myid) {
			rec.OutMapNo = 0
		}
		t.Red = append(t.Red, rec)
	}

	dims := new.Space().Dims()
	sort.SliceStable(t.Send, func(i, j int) bool {
		if t.Send[i].To != t.Send[j].To {
			return t.Send[i].To < t.Send[j].To
		}
		return t.Send[i].Slice.From.Less(t.Send[j].Slice.From, dims)
	})
	sort.SliceStable(t.Recv, func(i, j int) bool {
		if t.Recv[i].From != t.Recv[j].From {
			return t.Recv[i].From < t.Recv[j].From
		}
		return t.Recv[i].Slice.From.Less(t.Recv[j].Slice.From, dims)
	})
	return t, nil
}

// rebase translates a partitioning over g's parent into one over g,
// dropping departed ranks. A departed rank that still owns a
// non-empty slice with other than Read intent is a configuration
// error: its data was never moved off. Read slices of departed ranks
// are dropped.
func rebase(old *Partitioning, g *Group) (*Partitioning, error) {
	p := NewPartitioning(g, old.Space())
	for _, ts := range old.All() {
		rank := g.FromParent(ts.Rank)
		if rank < 0 {
			if !ts.Slice.IsEmpty() && ts.Intent != Read {
				return nil, errors.E(errors.Invalid,
					fmt.Sprintf("plan: departed rank %d still owns %s", ts.Rank, ts.Slice))
			}
			continue
		}
		p.Add(rank, ts.Slice, ts.Intent, ts.Op)
	}
	if err := p.Update(); err != nil {
		return nil, err
	}
	return p, nil
}

// ownersFor returns the old partitioning's task slices in the
// canonical coverage-preference order for data destined to rank:
// rank's own slices first, then the remaining ranks ascending.
func ownersFor(old *Partitioning, rank int) []TaskSlice {
	own := old.Slices(rank)
	all := old.All()
	ordered := make([]TaskSlice, 0, len(all))
	ordered = append(ordered, own...)
	for _, ts := range all {
		if ts.Rank != rank {
			ordered = append(ordered, ts)
		}
	}
	return ordered
}

// coveredBy tells whether slc is already fully covered by one of the
// boxes claimed earlier in the coverage walk.
func coveredBy(covered []space.Slice, slc space.Slice) bool {
	for _, c := range covered {
		if c.ContainsSlice(slc) {
			return true
		}
	}
	return false
}
