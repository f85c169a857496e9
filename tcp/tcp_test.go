// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/bigpart"
	"github.com/grailbio/bigpart/space"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// freePort reserves an ephemeral port for a test world's home
// process.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// runWorld bootstraps n backends in-process, one goroutine per
// simulated process, and runs body for each.
func runWorld(t *testing.T, n int, body func(b *Backend, inst *bigpart.Instance) error) {
	t.Helper()
	port := freePort(t)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			b, err := Start(Options{
				HomeHost:  "127.0.0.1",
				HomePort:  port,
				WorldSize: n,
				Location:  fmt.Sprintf("loc%d", i),
			})
			if err != nil {
				return err
			}
			defer b.Finalize()
			inst := bigpart.NewInstance(b, b.WorldSize(), b.MyLID(), fmt.Sprintf("loc%d", i))
			return body(b, inst)
		})
	}
	require.NoError(t, g.Wait())
}

// Two processes race to bind the home port; exactly one becomes home
// and both end up with distinct location IDs and two-entry peer tables.
func TestBootstrapContention(t *testing.T) {
	var mu sync.Mutex
	lids := map[int]string{}
	runWorld(t, 2, func(b *Backend, inst *bigpart.Instance) error {
		if b.WorldSize() != 2 {
			return fmt.Errorf("world size %d, want 2", b.WorldSize())
		}
		if b.MyLID() != 0 && b.MyLID() != 1 {
			return fmt.Errorf("lid %d outside {0, 1}", b.MyLID())
		}
		if got := b.activePeers() + 1; got != 2 {
			return fmt.Errorf("peer table has %d entries, want 2", got)
		}
		for lid := 0; lid <= b.maxid; lid++ {
			if b.peers[lid].port < 0 {
				return fmt.Errorf("lid %d missing from peer table", lid)
			}
		}
		mu.Lock()
		lids[b.MyLID()] = b.location
		mu.Unlock()
		return nil
	})
	require.Len(t, lids, 2)
}

func TestBootstrapThree(t *testing.T) {
	runWorld(t, 3, func(b *Backend, inst *bigpart.Instance) error {
		if b.WorldSize() != 3 {
			return fmt.Errorf("world size %d, want 3", b.WorldSize())
		}
		// Every other peer-table entry must carry an announced location.
		for lid := 0; lid <= b.maxid; lid++ {
			if lid == b.mylid {
				continue
			}
			if b.peers[lid].location == "" {
				return fmt.Errorf("lid %d: no location announced", lid)
			}
		}
		return nil
	})
}

// Scenario: two processes swap halves of a 1-d double container over
// real sockets.
func TestExchange(t *testing.T) {
	runWorld(t, 2, func(b *Backend, inst *bigpart.Instance) error {
		world := inst.World()
		myid := world.MyID()
		sp := space.New1D(8)
		c := inst.NewContainer(world, sp, bigpart.Float64)

		old := bigpart.NewPartitioning(world, sp)
		old.Add(0, space.Slice1D(0, 4), bigpart.ReadWrite, bigpart.OpNone)
		old.Add(1, space.Slice1D(4, 8), bigpart.ReadWrite, bigpart.OpNone)
		if err := old.Update(); err != nil {
			return err
		}
		if err := c.SetPartitioning(old); err != nil {
			return err
		}
		vals := c.Float64s()
		base := c.Mapping().Required().From[0]
		for i := range vals {
			vals[i] = float64(base) + float64(i) + 1
		}

		next := bigpart.NewPartitioning(world, sp)
		next.Add(0, space.Slice1D(4, 8), bigpart.ReadWrite, bigpart.OpNone)
		next.Add(1, space.Slice1D(0, 4), bigpart.ReadWrite, bigpart.OpNone)
		if err := next.Update(); err != nil {
			return err
		}
		if err := c.SetPartitioning(next); err != nil {
			return err
		}

		want := []float64{5, 6, 7, 8}
		if myid == 1 {
			want = []float64{1, 2, 3, 4}
		}
		for i, got := range c.Float64s() {
			if got != want[i] {
				return fmt.Errorf("lid %d: element %d: got %v, want %v", myid, i, got, want[i])
			}
		}
		return nil
	})
}

// A sender with no credit blocks in the event loop exactly until the
// receiver's allowsend arrives, and a long-lived connection carries
// consecutive transfers.
func TestCreditOrdering(t *testing.T) {
	var grantIssued, sendDone time.Time
	runWorld(t, 2, func(b *Backend, inst *bigpart.Instance) error {
		world := inst.World()
		sp := space.New1D(4)
		c := inst.NewContainer(world, sp, bigpart.Float64)
		p := bigpart.NewPartitioning(world, sp)
		p.Add(0, sp.All(), bigpart.Write, bigpart.OpNone)
		if err := p.Update(); err != nil {
			return err
		}
		if err := c.SetPartitioning(p); err != nil {
			return err
		}

		peerLID := 1 - b.MyLID()
		if b.MyLID() == 0 {
			c.FillFloat64(11)
			// No credit yet: the receiver grants only after a delay.
			b.sendSlice(c.Mapping(), c.Type(), sp.All(), peerLID)
			sendDone = time.Now()
			// Second transfer over the same connection.
			c.FillFloat64(22)
			b.sendSlice(c.Mapping(), c.Type(), sp.All(), peerLID)
			return nil
		}

		time.Sleep(200 * time.Millisecond)
		dst := inst.NewContainer(world, sp, bigpart.Float64)
		pr := bigpart.NewPartitioning(world, sp)
		pr.Add(1, sp.All(), bigpart.Write, bigpart.OpNone)
		if err := pr.Update(); err != nil {
			return err
		}
		if err := dst.SetPartitioning(pr); err != nil {
			return err
		}
		grantIssued = time.Now()
		b.recvSlice(sp.All(), peerLID, dst.Mapping(), dst.Type(), bigpart.OpNone)
		for _, v := range dst.Float64s() {
			if v != 11 {
				return fmt.Errorf("first transfer: got %v, want 11", v)
			}
		}
		cs := b.peers[peerLID].cs
		b.recvSlice(sp.All(), peerLID, dst.Mapping(), dst.Type(), bigpart.OpNone)
		for _, v := range dst.Float64s() {
			if v != 22 {
				return fmt.Errorf("second transfer: got %v, want 22", v)
			}
		}
		if b.peers[peerLID].cs != cs {
			return fmt.Errorf("connection was not reused across transfers")
		}
		return nil
	})
	require.False(t, sendDone.Before(grantIssued),
		"sender finished at %v, before the grant at %v", sendDone, grantIssued)
}

// Scenario: three processes each own a third of a size-6 space; one
// departs after its data is rebalanced away; the shrunken group keeps
// transitioning.
func TestResizeShrink(t *testing.T) {
	runWorld(t, 3, func(b *Backend, inst *bigpart.Instance) error {
		world := inst.World()
		myid := world.MyID()
		sp := space.New1D(6)
		c := inst.NewContainer(world, sp, bigpart.Float64)

		p1, err := bigpart.BlockPartitioning(world, sp, bigpart.ReadWrite, bigpart.OpNone)
		if err != nil {
			return err
		}
		if err := c.SetPartitioning(p1); err != nil {
			return err
		}
		vals := c.Float64s()
		base := c.Mapping().Required().From[0]
		for i := range vals {
			vals[i] = float64(base) + float64(i) + 1
		}

		// Drain the departing process before the boundary.
		p2 := bigpart.NewPartitioning(world, sp)
		p2.Add(0, space.Slice1D(0, 3), bigpart.ReadWrite, bigpart.OpNone)
		p2.Add(2, space.Slice1D(3, 6), bigpart.ReadWrite, bigpart.OpNone)
		if err := p2.Update(); err != nil {
			return err
		}
		if err := c.SetPartitioning(p2); err != nil {
			return err
		}
		switch myid {
		case 0:
			// Element 2 came from the departing rank 1.
			for i, want := range []float64{1, 2, 3} {
				if got := c.Float64s()[i]; got != want {
					return fmt.Errorf("lid 0: element %d: got %v, want %v", i, got, want)
				}
			}
		case 2:
			for i, want := range []float64{4, 5, 6} {
				if got := c.Float64s()[i]; got != want {
					return fmt.Errorf("lid 2: element %d: got %v, want %v", i, got, want)
				}
			}
		}

		if myid == 1 {
			b.Leave()
		}
		shrunk, err := b.Resize(world)
		if err != nil {
			return err
		}
		if myid == 1 {
			if shrunk.MyID() != -1 {
				return fmt.Errorf("leaver still in group: myid %d", shrunk.MyID())
			}
			return nil
		}
		if shrunk.Size() != 2 {
			return fmt.Errorf("lid %d: shrunken group size %d, want 2", myid, shrunk.Size())
		}
		if shrunk.LocationID(0) != 0 || shrunk.LocationID(1) != 2 {
			return fmt.Errorf("lid %d: unexpected lid mapping", myid)
		}
		if err := b.UpdateGroup(shrunk); err != nil {
			return err
		}

		// The first transition after the resize rebases the old
		// ownership onto the shrunken group.
		p3 := bigpart.NewPartitioning(shrunk, sp)
		p3.Add(0, space.Slice1D(0, 6), bigpart.ReadWrite, bigpart.OpNone)
		if err := p3.Update(); err != nil {
			return err
		}
		if err := c.SetPartitioning(p3); err != nil {
			return err
		}
		if shrunk.MyID() == 0 {
			for i, got := range c.Float64s() {
				if got != float64(i)+1 {
					return fmt.Errorf("after shrink: element %d: got %v, want %v", i, got, float64(i)+1)
				}
			}
		}
		return nil
	})
}
