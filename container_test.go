// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"testing"

	"github.com/grailbio/bigpart/space"
	"github.com/grailbio/testutil/assert"
)

// stubBackend records the transitions it is asked to execute and
// moves no data; single-process scenarios need only the container's
// local copy and init actions.
type stubBackend struct {
	execs []*Transition
}

func (s *stubBackend) Name() string                      { return "stub" }
func (s *stubBackend) Finalize()                         {}
func (s *stubBackend) UpdateGroup(g *Group) error        { return nil }
func (s *stubBackend) Cleanup(plan *TransitionPlan)      {}
func (s *stubBackend) Wait(p *TransitionPlan, m int) error { return nil }
func (s *stubBackend) Probe(p *TransitionPlan, m int) bool { return true }

func (s *stubBackend) Prepare(c *Container, t *Transition) (*TransitionPlan, error) {
	return nil, nil
}

func (s *stubBackend) Exec(c *Container, t *Transition, plan *TransitionPlan, from, to []*Mapping) error {
	s.execs = append(s.execs, t)
	return nil
}

func testInstance(t *testing.T) (*Instance, *stubBackend) {
	t.Helper()
	b := new(stubBackend)
	return NewInstance(b, 1, 0, "test:0"), b
}

// Values present under both the old and the new partitioning survive
// a transition unchanged.
func TestContainerPreservesLocalData(t *testing.T) {
	inst, _ := testInstance(t)
	g := inst.World()
	sp := space.New1D(8)
	c := inst.NewContainer(g, sp, Float64)

	whole, err := BlockPartitioning(g, sp, ReadWrite, OpNone)
	assert.NoError(t, err)
	assert.NoError(t, c.SetPartitioning(whole))
	vals := c.Float64s()
	assert.EQ(t, len(vals), 8)
	for i := range vals {
		vals[i] = float64(i + 1)
	}

	narrower := NewPartitioning(g, sp)
	narrower.Add(0, space.Slice1D(2, 6), ReadWrite, OpNone)
	assert.NoError(t, narrower.Update())
	assert.NoError(t, c.SetPartitioning(narrower))

	got := c.Float64s()
	assert.EQ(t, len(got), 4)
	for i, want := range []float64{3, 4, 5, 6} {
		if got[i] != want {
			t.Errorf("element %d: got %v, want %v", i, got[i], want)
		}
	}
	assert.EQ(t, c.Stats().Transitions, 2)
}

// A new reduce slice with no previous owner starts at the op's
// identity.
func TestContainerInit(t *testing.T) {
	inst, _ := testInstance(t)
	g := inst.World()
	sp := space.New1D(4)
	c := inst.NewContainer(g, sp, Float64)

	p, err := AllPartitioning(g, sp, Reduce, OpProd)
	assert.NoError(t, err)
	assert.NoError(t, c.SetPartitioning(p))
	for i, v := range c.Float64s() {
		if v != 1 {
			t.Errorf("element %d: got %v, want identity 1", i, v)
		}
	}
}

// The container rejects partitionings over foreign spaces and nil
// partitionings synchronously.
func TestContainerConfigErrors(t *testing.T) {
	inst, _ := testInstance(t)
	g := inst.World()
	c := inst.NewContainer(g, space.New1D(8), Float64)
	if err := c.SetPartitioning(nil); err == nil {
		t.Error("nil partitioning accepted")
	}
	other, err := BlockPartitioning(g, space.New1D(4), ReadWrite, OpNone)
	assert.NoError(t, err)
	if err := c.SetPartitioning(other); err == nil {
		t.Error("partitioning over foreign space accepted")
	}
}

// The backend sees every transition exactly once, in order.
func TestContainerBackendHandoff(t *testing.T) {
	inst, stub := testInstance(t)
	g := inst.World()
	sp := space.New1D(8)
	c := inst.NewContainer(g, sp, Float64)

	p1, err := BlockPartitioning(g, sp, ReadWrite, OpNone)
	assert.NoError(t, err)
	p2, err := BlockPartitioning(g, sp, ReadWrite, OpNone)
	assert.NoError(t, err)
	assert.NoError(t, c.SetPartitioning(p1))
	assert.NoError(t, c.SetPartitioning(p2))
	assert.EQ(t, len(stub.execs), 2)
	if stub.execs[0].To != p1 || stub.execs[1].To != p2 {
		t.Error("transitions delivered out of order")
	}
}

// A 2-d container: the bounding-box mapping preserves row-major
// addressed values across a shrink.
func TestContainer2D(t *testing.T) {
	inst, _ := testInstance(t)
	g := inst.World()
	sp := space.New2D(4, 4)
	c := inst.NewContainer(g, sp, Float64)

	whole := NewPartitioning(g, sp)
	whole.Add(0, sp.All(), ReadWrite, OpNone)
	assert.NoError(t, whole.Update())
	assert.NoError(t, c.SetPartitioning(whole))
	m := c.Mapping()
	idx := sp.All().From
	for {
		v := float64(idx[0]*10 + idx[1])
		copy(m.At(idx), f64bytes(v))
		if !sp.All().NextLex(&idx) {
			break
		}
	}

	quad := NewPartitioning(g, sp)
	quad.Add(0, space.Slice2D(1, 3, 1, 3), ReadWrite, OpNone)
	assert.NoError(t, quad.Update())
	assert.NoError(t, c.SetPartitioning(quad))

	m = c.Mapping()
	assert.EQ(t, m.Count(), int64(4))
	for _, c := range []struct {
		idx  space.Index
		want float64
	}{
		{space.Idx2(1, 1), 11},
		{space.Idx2(2, 1), 21},
		{space.Idx2(1, 2), 12},
		{space.Idx2(2, 2), 22},
	} {
		got := float64s(m.At(c.idx), 1)[0]
		if got != c.want {
			t.Errorf("%v: got %v, want %v", c.idx, got, c.want)
		}
	}
}
