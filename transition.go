// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"
	"strings"

	"github.com/grailbio/bigpart/space"
)

// A LocalRec copies a slice from the old mapping to the new one
// in-process.
type LocalRec struct {
	Slice space.Slice
}

// An InitRec value-initializes a newly appearing slice with the
// identity of its reduction op.
type InitRec struct {
	Slice space.Slice
	Op    ReduceOp
}

// A SendRec transfers a slice of the old mapping to a peer rank.
type SendRec struct {
	Slice space.Slice
	To    int
	MapNo int
}

// A RecvRec receives a slice into the new mapping from a peer rank.
type RecvRec struct {
	Slice space.Slice
	From  int
	MapNo int
}

// A RedRec combines the values a set of input ranks hold for a slice
// and deposits the result at a set of output ranks. InMapNo and
// OutMapNo are this process's mapping indexes for the operation, -1
// when it does not participate on that side. The rank lists are
// identical on every process planning the same transition.
type RedRec struct {
	Slice    space.Slice
	Op       ReduceOp
	Input    []int
	Output   []int
	InMapNo  int
	OutMapNo int
}

// A Transition is the derived difference between two partitionings:
// the actions this process must take so that the values visible under
// the new partitioning preserve the semantics of the old one.
// Transitions hold non-owning references into both partitionings;
// they must not outlive either.
type Transition struct {
	From, To *Partitioning
	Group    *Group

	Local []LocalRec
	Init  []InitRec
	Send  []SendRec
	Recv  []RecvRec
	Red   []RedRec
}

// Empty tells whether the transition requires no work at all.
func (t *Transition) Empty() bool {
	return len(t.Local) == 0 && len(t.Init) == 0 && len(t.Send) == 0 &&
		len(t.Recv) == 0 && len(t.Red) == 0
}

// InGroup tells whether rank appears in ranks.
func InGroup(ranks []int, rank int) bool {
	for _, r := range ranks {
		if r == rank {
			return true
		}
	}
	return false
}

func (t *Transition) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transition: %d local, %d init, %d send, %d recv, %d red",
		len(t.Local), len(t.Init), len(t.Send), len(t.Recv), len(t.Red))
	return b.String()
}
