// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart"
)

// Name implements bigpart.Backend.
func (b *Backend) Name() string { return "tcp" }

// Finalize implements bigpart.Backend: it closes the listening
// socket and all peer connections. Idempotent.
func (b *Backend) Finalize() {
	if b.finalized {
		return
	}
	b.finalized = true
	b.listener.Close()
	for lid := range b.peers {
		if cs := b.peers[lid].cs; cs != nil {
			cs.conn.Close()
			b.peers[lid].cs = nil
		}
	}
}

// UpdateGroup implements bigpart.Backend. The peer table addresses
// processes by location ID independent of any group, so derived
// groups need no transport state.
func (b *Backend) UpdateGroup(g *bigpart.Group) error { return nil }

// Prepare implements bigpart.Backend. This backend executes
// transitions directly.
func (b *Backend) Prepare(c *bigpart.Container, t *bigpart.Transition) (*bigpart.TransitionPlan, error) {
	return nil, nil
}

// Cleanup implements bigpart.Backend.
func (b *Backend) Cleanup(plan *bigpart.TransitionPlan) {}

// Wait implements bigpart.Backend. Exec is synchronous.
func (b *Backend) Wait(plan *bigpart.TransitionPlan, mapNo int) error { return nil }

// Probe implements bigpart.Backend.
func (b *Backend) Probe(plan *bigpart.TransitionPlan, mapNo int) bool { return true }

// Exec implements bigpart.Backend. Reductions run first; the
// remaining sends and receives follow the double-sweep phase order,
// which pairs every exchange so that one side is granting credit
// (receiving) while the other waits for it (sending).
func (b *Backend) Exec(c *bigpart.Container, t *bigpart.Transition, plan *bigpart.TransitionPlan, from, to []*bigpart.Mapping) error {
	g := t.Group
	myid := g.MyID()
	if myid < 0 {
		return nil
	}
	log.Debug.Printf("tcp exec: %s, %s", c.Name(), t)

	for i := range t.Red {
		b.execReduce(c, t, &t.Red[i], from, to)
	}

	n := g.Size()
	for phase := 0; phase < 2*n; phase++ {
		task := phase
		firstSweep := phase < n
		if !firstSweep {
			task = 2*n - phase - 1
		}
		for _, op := range t.Recv {
			if op.From != task {
				continue
			}
			if firstSweep && myid < task {
				continue
			}
			if !firstSweep && myid > task {
				continue
			}
			must.True(myid != op.From, "tcp: receive from self")
			fromLID := g.LocationID(op.From)
			log.Debug.Printf("tcp exec: recv %s from rank %d (lid %d)", op.Slice, op.From, fromLID)
			b.recvSlice(op.Slice, fromLID, to[op.MapNo], c.Type(), bigpart.OpNone)
		}
		for _, op := range t.Send {
			if op.To != task {
				continue
			}
			if firstSweep && myid > task {
				continue
			}
			if !firstSweep && myid < task {
				continue
			}
			must.True(myid != op.To, "tcp: send to self")
			toLID := g.LocationID(op.To)
			log.Debug.Printf("tcp exec: send %s to rank %d (lid %d)", op.Slice, op.To, toLID)
			b.sendSlice(from[op.MapNo], c.Type(), op.Slice, toLID)
		}
	}
	return nil
}

// execReduce performs one reduction record with send/recv slices:
// the lowest-rank member of the output group receives every input,
// reduces in place as elements arrive, and sends the result to the
// remaining output members.
func (b *Backend) execReduce(c *bigpart.Container, t *bigpart.Transition, red *bigpart.RedRec, from, to []*bigpart.Mapping) {
	g := t.Group
	myid := g.MyID()
	reduceRank := red.Output[0]
	reduceLID := g.LocationID(reduceRank)
	log.Debug.Printf("tcp reduce: %s op %s at rank %d (lid %d)", red.Slice, red.Op, reduceRank, reduceLID)

	if myid != reduceRank {
		if bigpart.InGroup(red.Input, myid) {
			b.sendSlice(from[red.InMapNo], c.Type(), red.Slice, reduceLID)
		}
		if bigpart.InGroup(red.Output, myid) {
			b.recvSlice(red.Slice, reduceLID, to[red.OutMapNo], c.Type(), bigpart.OpNone)
		}
		return
	}

	// This is the reduce process. Start from our own input values
	// when we have any; the first remote contribution otherwise
	// overwrites, and subsequent ones reduce in place as they
	// arrive.
	outMap := to[red.OutMapNo]
	op := bigpart.OpNone
	if bigpart.InGroup(red.Input, myid) {
		outMap.CopySlice(from[red.InMapNo], red.Slice)
		op = red.Op
	}
	for _, rank := range red.Input {
		if rank == myid {
			continue
		}
		inLID := g.LocationID(rank)
		log.Debug.Printf("tcp reduce: recv%s from rank %d (lid %d)", reduceMode(op), rank, inLID)
		b.recvSlice(red.Slice, inLID, outMap, c.Type(), op)
		op = red.Op
	}
	for _, rank := range red.Output {
		if rank == myid {
			continue
		}
		outLID := g.LocationID(rank)
		log.Debug.Printf("tcp reduce: send result to rank %d (lid %d)", rank, outLID)
		b.sendSlice(outMap, c.Type(), red.Slice, outLID)
	}
}

func reduceMode(op bigpart.ReduceOp) string {
	if op == bigpart.OpNone {
		return "+overwrite"
	}
	return "+reduce"
}
