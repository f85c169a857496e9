// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package collective

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart"
	"github.com/grailbio/bigpart/space"
)

// packBufSize is the staging buffer for non-contiguous transfers.
const packBufSize = 10 * 1024 * 1024

// Backend drives transitions over a group-collective Transport. Exec
// is blocking synchronous: it returns only when all movement has
// completed, so Wait and Probe are trivial.
type Backend struct {
	tp      Transport
	packbuf []byte
}

var _ bigpart.Backend = (*Backend)(nil)

// New returns a backend over tp.
func New(tp Transport) *Backend {
	return &Backend{tp: tp}
}

// Init constructs a backend over tp and registers the process-wide
// instance for it.
func Init(tp Transport, location string) *bigpart.Instance {
	inst := bigpart.NewInstance(New(tp), tp.Size(), tp.Rank(), location)
	bigpart.Register(inst)
	return inst
}

// Name implements bigpart.Backend.
func (b *Backend) Name() string { return "collective" }

// Finalize implements bigpart.Backend.
func (b *Backend) Finalize() {
	if b.tp != nil {
		if err := b.tp.Close(); err != nil {
			log.Error.Printf("collective: close transport: %v", err)
		}
		b.tp = nil
	}
}

// UpdateGroup implements bigpart.Backend: it splits the parent
// group's transport into one covering the derived group.
func (b *Backend) UpdateGroup(g *bigpart.Group) error {
	parent := g.Parent()
	if parent == nil {
		return nil
	}
	parentTP := b.transportFor(parent)
	if parentTP == nil {
		return errors.E(errors.Invalid, "collective: parent group has no transport")
	}
	ranks := make([]int, g.Size())
	for parentRank := 0; parentRank < parent.Size(); parentRank++ {
		if r := g.FromParent(parentRank); r >= 0 {
			ranks[r] = parentRank
		}
	}
	sub, err := parentTP.Split(ranks)
	if err != nil {
		return err
	}
	g.SetBackendData(sub)
	return nil
}

func (b *Backend) transportFor(g *bigpart.Group) Transport {
	if g.Parent() == nil {
		return b.tp
	}
	tp, _ := g.BackendData().(Transport)
	return tp
}

// Prepare implements bigpart.Backend. The returned plan starts empty;
// Exec performs the movement directly unless actions were recorded
// into the plan beforehand.
func (b *Backend) Prepare(c *bigpart.Container, t *bigpart.Transition) (*bigpart.TransitionPlan, error) {
	return bigpart.NewTransitionPlan(c, t), nil
}

// Cleanup implements bigpart.Backend.
func (b *Backend) Cleanup(plan *bigpart.TransitionPlan) {
	if plan != nil {
		plan.Free()
	}
}

// Wait implements bigpart.Backend. The backend is synchronous:
// nothing is in flight after Exec returns.
func (b *Backend) Wait(plan *bigpart.TransitionPlan, mapNo int) error { return nil }

// Probe implements bigpart.Backend.
func (b *Backend) Probe(plan *bigpart.TransitionPlan, mapNo int) bool { return true }

func (b *Backend) buf() []byte {
	if b.packbuf == nil {
		b.packbuf = make([]byte, packBufSize)
	}
	return b.packbuf
}

// Exec implements bigpart.Backend. Reductions run first; sends and
// receives then follow a double-sweep schedule over 2N phases. In
// phase p < N a process receives from peer p when p is the lower
// rank and sends to p when p is the higher rank; for p >= N the
// polarity flips. The schedule totally orders symmetric exchanges, so
// blocking transports cannot deadlock.
func (b *Backend) Exec(c *bigpart.Container, t *bigpart.Transition, plan *bigpart.TransitionPlan, from, to []*bigpart.Mapping) error {
	if plan != nil && len(plan.Actions()) > 0 {
		return b.execPlan(plan, t, from, to)
	}
	g := t.Group
	myid := g.MyID()
	if myid < 0 {
		return nil
	}
	tp := b.transportFor(g)
	if tp == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("collective: no transport for %s; missing UpdateGroup?", g))
	}
	log.Debug.Printf("collective exec: %s, %s", c.Name(), t)

	for i := range t.Red {
		if err := b.execReduce(c, t, &t.Red[i], tp, from, to); err != nil {
			return err
		}
	}

	es := c.Type().Size()
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
			must.True(myid != op.From, "collective: receive from self")
			if err := b.recvSlice(c, tp, to[op.MapNo], op.Slice, task, es); err != nil {
				return err
			}
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
			must.True(myid != op.To, "collective: send to self")
			if err := b.sendSlice(c, tp, from[op.MapNo], op.Slice, task, es); err != nil {
				return err
			}
		}
	}
	return nil
}

// sendSlice transmits slc from m to peer. 1-d slices go out of the
// mapping memory directly; higher dimensions are packed through the
// staging buffer until the traversal reaches slc.To.
func (b *Backend) sendSlice(c *bigpart.Container, tp Transport, m *bigpart.Mapping, slc space.Slice, peer, es int) error {
	if m.Base() == nil {
		return errors.E(errors.Invalid,
			fmt.Sprintf("collective: sending %s of %s, which was never written", slc, c.Name()))
	}
	if slc.Dims == 1 {
		return tp.Send(peer, m.Run(slc.From, slc.Size()))
	}
	l := m.Layout()
	buf := b.buf()
	idx := slc.From
	var total int64
	for idx != slc.To {
		packed := l.Pack(m.Base(), es, slc, &idx, buf)
		must.True(packed > 0, "collective: pack made no progress")
		if err := tp.Send(peer, buf[:packed]); err != nil {
			return err
		}
		total += int64(packed)
	}
	must.True(total == slc.Size()*int64(es), "collective: packed byte count mismatch")
	return nil
}

// recvSlice receives slc into m from peer, the converse of sendSlice.
func (b *Backend) recvSlice(c *bigpart.Container, tp Transport, m *bigpart.Mapping, slc space.Slice, peer, es int) error {
	must.True(m.Base() != nil, "collective: receive into zero-sized mapping")
	if slc.Dims == 1 {
		buf := m.Run(slc.From, slc.Size())
		n, err := tp.Recv(peer, buf)
		if err != nil {
			return err
		}
		if int64(n) != slc.Size()*int64(es) {
			return errors.E(errors.Integrity,
				fmt.Sprintf("collective: received %d bytes for %s, want %d", n, slc, slc.Size()*int64(es)))
		}
		return nil
	}
	l := m.Layout()
	buf := b.buf()
	idx := slc.From
	for idx != slc.To {
		n, err := tp.Recv(peer, buf)
		if err != nil {
			return err
		}
		unpacked := l.Unpack(m.Base(), es, slc, &idx, buf[:n])
		if unpacked != n {
			return errors.E(errors.Integrity,
				fmt.Sprintf("collective: unpacked %d of %d received bytes for %s", unpacked, n, slc))
		}
	}
	return nil
}

// execReduce performs one reduction record. When input and output are
// both the full group and the op is a sum, the transport's native
// reduction is used (in the all-to-all form). Every other shape runs
// the manual schedule: the lowest-rank output member gathers all
// inputs, combines them pairwise with the container type's reducer,
// and sends the result to the remaining output members.
func (b *Backend) execReduce(c *bigpart.Container, t *bigpart.Transition, red *bigpart.RedRec, tp Transport, from, to []*bigpart.Mapping) error {
	g := t.Group
	myid := g.MyID()
	must.True(red.Slice.Dims == 1, "collective: reductions require 1-d slices")
	es := c.Type().Size()
	count := red.Slice.Size()

	var inBuf, outBuf []byte
	if red.InMapNo >= 0 {
		m := from[red.InMapNo]
		must.True(m.Base() != nil, "collective: reduction input never written")
		inBuf = m.Run(red.Slice.From, count)
	}
	if red.OutMapNo >= 0 {
		m := to[red.OutMapNo]
		must.True(m.Base() != nil, "collective: reduction output not mapped")
		outBuf = m.Run(red.Slice.From, count)
	}

	if len(red.Input) == g.Size() && len(red.Output) == g.Size() && red.Op == bigpart.OpSum {
		reduce := func(dst, a, b []byte, n int) { c.Type().Reduce(red.Op, dst, a, b, n) }
		log.Debug.Printf("collective reduce (native, in-place %v): %s x%d", sameBase(inBuf, outBuf), red.Slice, count)
		return tp.Reduce(-1, inBuf, outBuf, es, reduce)
	}

	reduceRank := red.Output[0]
	if myid != reduceRank {
		if bigpart.InGroup(red.Input, myid) {
			log.Debug.Printf("collective reduce: send input %s to rank %d", red.Slice, reduceRank)
			if err := tp.Send(reduceRank, inBuf); err != nil {
				return err
			}
		}
		if bigpart.InGroup(red.Output, myid) {
			log.Debug.Printf("collective reduce: recv result %s from rank %d", red.Slice, reduceRank)
			n, err := tp.Recv(reduceRank, outBuf)
			if err != nil {
				return err
			}
			if n != len(outBuf) {
				return errors.E(errors.Integrity,
					fmt.Sprintf("collective: reduction result %d bytes, want %d", n, len(outBuf)))
			}
		}
		return nil
	}

	// This is the reduce process.
	first := true
	if bigpart.InGroup(red.Input, myid) {
		copy(outBuf, inBuf)
		first = false
	}
	tmp := make([]byte, count*int64(es))
	for _, rank := range red.Input {
		if rank == myid {
			continue
		}
		if _, err := tp.Recv(rank, tmp); err != nil {
			return err
		}
		if first {
			copy(outBuf, tmp)
			first = false
			continue
		}
		c.Type().Reduce(red.Op, outBuf, outBuf, tmp, int(count))
	}
	for _, rank := range red.Output {
		if rank == myid {
			continue
		}
		if err := tp.Send(rank, outBuf); err != nil {
			return err
		}
	}
	return nil
}

func sameBase(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}

// execPlan replays a recorded plan instead of walking the transition.
func (b *Backend) execPlan(plan *bigpart.TransitionPlan, t *bigpart.Transition, from, to []*bigpart.Mapping) error {
	tp := b.transportFor(t.Group)
	if tp == nil {
		return errors.E(errors.Invalid, "collective: no transport for plan replay")
	}
	c := plan.Container()
	es := c.Type().Size()
	for _, a := range plan.Actions() {
		switch a.Type {
		case bigpart.ActionSend:
			if err := tp.Send(a.Peer, a.Buf[:a.Count*int64(es)]); err != nil {
				return err
			}
		case bigpart.ActionRecv:
			if _, err := tp.Recv(a.Peer, a.Buf[:a.Count*int64(es)]); err != nil {
				return err
			}
		case bigpart.ActionPackAndSend:
			if err := b.sendSlice(c, tp, from[a.MapNo], a.Slice, a.Peer, es); err != nil {
				return err
			}
		case bigpart.ActionRecvAndUnpack:
			if err := b.recvSlice(c, tp, to[a.MapNo], a.Slice, a.Peer, es); err != nil {
				return err
			}
		case bigpart.ActionCopy:
			copy(a.ToBuf, a.Buf)
		default:
			return errors.E(errors.Invalid, fmt.Sprintf("collective: cannot replay action %s", a.Type))
		}
	}
	return nil
}
