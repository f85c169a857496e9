// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/spaolacci/murmur3"
)

// An Instance ties a process to a backend and the world group it was
// bootstrapped into. A process holds at most one live instance at a
// time: backend initializers install it with NewInstance and release
// it with Finalize.
type Instance struct {
	backend  Backend
	size     int
	myid     int
	location string
	guid     string
	world    *Group
}

var current struct {
	sync.Mutex
	inst *Instance
}

// NewInstance constructs an instance for the given backend and world
// membership. It is called by backend initializers, not applications.
// The instance does not become the process-wide one until Register.
func NewInstance(backend Backend, size, myid int, location string) *Instance {
	must.True(backend != nil, "instance: nil backend")
	must.True(size > 0 && myid >= 0 && myid < size,
		"instance: bad membership ", myid, "/", size)
	inst := &Instance{
		backend:  backend,
		size:     size,
		myid:     myid,
		location: location,
		guid:     fmt.Sprintf("%08x", murmur3.Sum32([]byte(location))),
		world:    NewGroup(identityLocs(size), myid),
	}
	log.Printf("%s backend initialized (location %q, rank %d/%d)",
		backend.Name(), location, myid, size)
	return inst
}

// Register installs inst as the process-wide instance. Initializing
// two instances concurrently is a programming error and panics; the
// instance's lifetime ends at Finalize.
func Register(inst *Instance) {
	current.Lock()
	defer current.Unlock()
	must.True(current.inst == nil, "instance: concurrent init")
	current.inst = inst
}

func identityLocs(size int) []int {
	locs := make([]int, size)
	for i := range locs {
		locs[i] = i
	}
	return locs
}

// Current returns the live instance, nil if none.
func Current() *Instance {
	current.Lock()
	defer current.Unlock()
	return current.inst
}

// Backend returns the instance's backend.
func (inst *Instance) Backend() Backend { return inst.backend }

// Size returns the world size at bootstrap.
func (inst *Instance) Size() int { return inst.size }

// MyID returns this process's rank in the world group.
func (inst *Instance) MyID() int { return inst.myid }

// Location returns this process's location string.
func (inst *Instance) Location() string { return inst.location }

// GUID returns a stable identifier derived from the location.
func (inst *Instance) GUID() string { return inst.guid }

// World returns the world group.
func (inst *Instance) World() *Group { return inst.world }

// SetWorld replaces the world group after an elastic resize. Backends
// call it with the group returned by their resize protocol.
func (inst *Instance) SetWorld(g *Group) {
	must.True(g != nil, "instance: nil world group")
	inst.world = g
	inst.size = g.Size()
	inst.myid = g.MyID()
}

// Finalize releases the backend and clears the process-wide instance.
// It is idempotent.
func (inst *Instance) Finalize() {
	inst.backend.Finalize()
	current.Lock()
	defer current.Unlock()
	if current.inst == inst {
		current.inst = nil
	}
}
