// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"testing"

	"github.com/grailbio/bigpart/space"
	"github.com/grailbio/testutil/assert"
)

func TestPartitioningValidation(t *testing.T) {
	g := NewGroup([]int{0, 1}, 0)
	sp := space.New1D(8)

	p := NewPartitioning(g, sp)
	p.Add(0, space.Slice1D(0, 9), ReadWrite, OpNone)
	if err := p.Update(); err == nil {
		t.Error("slice outside space accepted")
	}

	p = NewPartitioning(g, sp)
	p.Add(2, space.Slice1D(0, 4), ReadWrite, OpNone)
	if err := p.Update(); err == nil {
		t.Error("rank outside group accepted")
	}

	p = NewPartitioning(g, sp)
	p.Add(0, space.Slice1D(0, 5), Write, OpNone)
	p.Add(1, space.Slice1D(4, 8), ReadWrite, OpNone)
	if err := p.Update(); err == nil {
		t.Error("overlapping writers accepted")
	}

	p = NewPartitioning(g, sp)
	p.Add(0, space.Slice1D(0, 5), Read, OpNone)
	p.Add(1, space.Slice1D(4, 8), ReadWrite, OpNone)
	assert.NoError(t, p.Update())

	p = NewPartitioning(g, sp)
	p.Add(0, space.Slice1D(0, 8), Reduce, OpNone)
	if err := p.Update(); err == nil {
		t.Error("reduce intent without op accepted")
	}
}

func TestPartitioningQueries(t *testing.T) {
	g := NewGroup([]int{0, 1, 2}, 0)
	sp := space.New1D(9)
	p, err := BlockPartitioning(g, sp, ReadWrite, OpNone)
	assert.NoError(t, err)

	for rank := 0; rank < 3; rank++ {
		slices := p.Slices(rank)
		assert.EQ(t, len(slices), 1)
		assert.EQ(t, slices[0].Slice, space.Slice1D(int64(rank)*3, int64(rank+1)*3))
	}
	box, ok := p.Required(1)
	assert.EQ(t, ok, true)
	assert.EQ(t, box, space.Slice1D(3, 6))

	empty := NewPartitioning(g, sp)
	empty.Add(0, sp.All(), ReadWrite, OpNone)
	assert.NoError(t, empty.Update())
	if _, ok := empty.Required(2); ok {
		t.Error("rank without slices reported a bounding box")
	}
}

func TestGroupShrink(t *testing.T) {
	g := NewGroup([]int{0, 1, 2}, 2)
	d := g.Shrink([]int{1})
	assert.EQ(t, d.Size(), 2)
	assert.EQ(t, d.MyID(), 1)
	assert.EQ(t, d.LocationID(0), 0)
	assert.EQ(t, d.LocationID(1), 2)
	assert.EQ(t, d.FromParent(0), 0)
	assert.EQ(t, d.FromParent(1), -1)
	assert.EQ(t, d.FromParent(2), 1)
	if d.Parent() != g {
		t.Error("derived group does not reference its parent")
	}

	gone := g.Shrink([]int{2})
	assert.EQ(t, gone.MyID(), -1)
}
