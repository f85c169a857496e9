// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/must"
)

// A Group is an ordered set of process locations together with this
// process's position in it. Groups are either the world group of an
// instance or derived from a parent group by shrinking; a derivation
// records, for every parent rank, the rank in the derived group (or
// -1 for processes that left). Groups outlive the containers and
// partitionings that reference them.
type Group struct {
	gid  int
	myid int
	locs []int // rank -> location ID

	parent     *Group
	fromParent []int // parent rank -> rank or -1

	mu          sync.Mutex
	backendData interface{}
}

var groupID struct {
	sync.Mutex
	next int
}

func nextGroupID() int {
	groupID.Lock()
	defer groupID.Unlock()
	id := groupID.next
	groupID.next++
	return id
}

// NewGroup returns a group over the given location IDs. myid is this
// process's rank in the group, or -1 if it is not a member. Backends
// call NewGroup during initialization and resizing; applications
// derive groups with Shrink.
func NewGroup(locs []int, myid int) *Group {
	must.True(myid >= -1 && myid < len(locs), "group: rank ", myid, " out of range")
	g := &Group{gid: nextGroupID(), myid: myid}
	g.locs = append(g.locs, locs...)
	return g
}

// Size returns the number of processes in the group.
func (g *Group) Size() int { return len(g.locs) }

// MyID returns this process's rank in the group, -1 if it is not a
// member.
func (g *Group) MyID() int { return g.myid }

// LocationID returns the location ID of the process at the given
// rank.
func (g *Group) LocationID(rank int) int {
	must.True(rank >= 0 && rank < len(g.locs), "group: rank ", rank, " out of range")
	return g.locs[rank]
}

// Parent returns the group this group was derived from, or nil for a
// world group.
func (g *Group) Parent() *Group { return g.parent }

// FromParent returns the rank in g of the process holding the given
// parent rank, or -1 if that process is not a member of g.
func (g *Group) FromParent(parentRank int) int {
	must.True(g.parent != nil, "group ", g.gid, " has no parent")
	return g.fromParent[parentRank]
}

// Shrink derives a new group from g with the processes at the given
// ranks removed. Rank order of the remaining processes is preserved.
func (g *Group) Shrink(removeRanks []int) *Group {
	removed := make(map[int]bool, len(removeRanks))
	for _, r := range removeRanks {
		must.True(r >= 0 && r < len(g.locs), "shrink: rank ", r, " out of range")
		removed[r] = true
	}
	derived := &Group{
		gid:        nextGroupID(),
		myid:       -1,
		parent:     g,
		fromParent: make([]int, len(g.locs)),
	}
	for rank, lid := range g.locs {
		if removed[rank] {
			derived.fromParent[rank] = -1
			continue
		}
		derived.fromParent[rank] = len(derived.locs)
		if rank == g.myid {
			derived.myid = len(derived.locs)
		}
		derived.locs = append(derived.locs, lid)
	}
	return derived
}

// BackendData returns the backend-private state attached to this
// group by UpdateGroup, nil if none has been attached.
func (g *Group) BackendData() interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backendData
}

// SetBackendData attaches backend-private state to the group. It must
// be called at most once per group.
func (g *Group) SetBackendData(v interface{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	must.True(g.backendData == nil, "group ", g.gid, ": backend data already set")
	g.backendData = v
}

func (g *Group) String() string {
	return fmt.Sprintf("group %d (size %d, myid %d)", g.gid, len(g.locs), g.myid)
}
