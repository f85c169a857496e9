// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"
	"sync"

	"github.com/grailbio/base/data"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart/space"
)

var containerID struct {
	sync.Mutex
	next int
}

// A Container is the user-visible handle for one partitioned data
// set: a space, an element type, and at any time at most one active
// partitioning with its mapping. Installing a new partitioning swaps
// in a new partitioning/mapping pair atomically with respect to the
// application; the previous pair is discarded after the transition
// completes.
type Container struct {
	inst  *Instance
	id    int
	name  string
	group *Group
	space space.Space
	typ   *Type

	active  *Partitioning
	mapping *Mapping

	stats SwitchStats
}

// SwitchStats accumulates per-container transition statistics.
type SwitchStats struct {
	Transitions int
	Sends       int
	Recvs       int
	Reduces     int
	SentBytes   int64
	RecvBytes   int64
}

// NewContainer allocates a container for group g over space sp with
// element type t. The container initially has no partitioning.
func (inst *Instance) NewContainer(g *Group, sp space.Space, t *Type) *Container {
	must.True(t != nil && t.Size() > 0, "container: bad element type")
	containerID.Lock()
	id := containerID.next
	containerID.next++
	containerID.Unlock()
	return &Container{
		inst:  inst,
		id:    id,
		name:  fmt.Sprintf("data-%d", id),
		group: g,
		space: sp,
		typ:   t,
	}
}

// SetName sets the container's name for log output.
func (c *Container) SetName(name string) { c.name = name }

// Name returns the container's name.
func (c *Container) Name() string { return c.name }

// Space returns the container's index space.
func (c *Container) Space() space.Space { return c.space }

// Type returns the container's element type.
func (c *Container) Type() *Type { return c.typ }

// Group returns the group the container is currently bound to.
func (c *Container) Group() *Group { return c.group }

// Active returns the active partitioning, nil before the first
// SetPartitioning.
func (c *Container) Active() *Partitioning { return c.active }

// Mapping returns the active mapping, nil before the first
// SetPartitioning.
func (c *Container) Mapping() *Mapping { return c.mapping }

// Stats returns the container's accumulated transition statistics.
func (c *Container) Stats() SwitchStats { return c.stats }

// SetPartitioning installs p as the container's active partitioning.
// It computes the transition from the previously active partitioning,
// lets the backend execute the required sends, receives, and
// reductions, copies overlapping data in-process, value-initializes
// newly appearing reduction slices, and finally swaps the new
// partitioning and mapping in. Transition N completes before
// transition N+1 begins.
func (c *Container) SetPartitioning(p *Partitioning) error {
	if p == nil {
		return errors.E(errors.Invalid, "set partitioning: nil partitioning")
	}
	if p.Space() != c.space {
		return errors.E(errors.Invalid, "set partitioning: partitioning space differs from container space")
	}
	g := p.Group()
	t, err := Plan(c.active, p, g)
	if err != nil {
		return err
	}

	toMap := newMapping(c.typ, p, g.MyID())
	fromMap := c.mapping
	if fromMap == nil {
		fromMap = &Mapping{typ: c.typ}
	}
	fromMaps, toMaps := []*Mapping{fromMap}, []*Mapping{toMap}

	backend := c.inst.Backend()
	plan, err := backend.Prepare(c, t)
	if err != nil {
		return err
	}
	if err := backend.Exec(c, t, plan, fromMaps, toMaps); err != nil {
		return err
	}
	if plan != nil {
		if err := backend.Wait(plan, 0); err != nil {
			return err
		}
		backend.Cleanup(plan)
	}

	for _, l := range t.Local {
		toMap.CopySlice(fromMap, l.Slice)
	}
	for _, in := range t.Init {
		toMap.InitSlice(in.Slice, in.Op)
	}

	c.stats.Transitions++
	c.stats.Sends += len(t.Send)
	c.stats.Recvs += len(t.Recv)
	c.stats.Reduces += len(t.Red)
	for _, s := range t.Send {
		c.stats.SentBytes += s.Slice.Size() * int64(c.typ.Size())
	}
	for _, r := range t.Recv {
		c.stats.RecvBytes += r.Slice.Size() * int64(c.typ.Size())
	}
	log.Debug.Printf("%s: %v (sent %v, received %v so far)",
		c.name, t, data.Size(c.stats.SentBytes), data.Size(c.stats.RecvBytes))

	c.active = p
	c.mapping = toMap
	c.group = g
	return nil
}

// Float64s returns the active mapping's memory as a []float64 in
// layout order. The view is valid until the next SetPartitioning.
func (c *Container) Float64s() []float64 {
	must.True(c.typ == Float64, "container ", c.name, " is not float64")
	m := c.mapping
	must.True(m != nil, "container ", c.name, " has no mapping")
	if m.count == 0 {
		return nil
	}
	return float64s(m.base, int(m.count))
}

// FillFloat64 sets every element of the active mapping to v.
func (c *Container) FillFloat64(v float64) {
	for i, s := 0, c.Float64s(); i < len(s); i++ {
		s[i] = v
	}
}

// Int64s returns the active mapping's memory as a []int64 in layout
// order.
func (c *Container) Int64s() []int64 {
	must.True(c.typ == Int64, "container ", c.name, " is not int64")
	m := c.mapping
	must.True(m != nil, "container ", c.name, " has no mapping")
	if m.count == 0 {
		return nil
	}
	return int64s(m.base, int(m.count))
}

func (c *Container) String() string {
	return fmt.Sprintf("container %s (%s x %s)", c.name, c.space, c.typ)
}
