// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart"
	"github.com/grailbio/bigpart/space"
)

// Credit-based slice transfer. The receiver announces an outstanding
// receive with "allowsend <count> <elemsize>"; the sender then emits
// one "data <len> (<seq>:<idx>) <hex> ..." line per element in
// lexicographical traversal order. Credit matching removes deadlock
// for arbitrary transition topologies, and because the receiver
// deposits (and optionally reduces) each element in place as it
// arrives, no staging buffer is needed on the receive side.

// recvSlice arms the receive state for fromLID, grants the peer a
// send, and runs the event loop until all expected elements have
// arrived.
func (b *Backend) recvSlice(slc space.Slice, fromLID int, m *bigpart.Mapping, typ *bigpart.Type, ro bigpart.ReduceOp) {
	must.True(m.Base() != nil, "tcp: receive into zero-sized mapping")
	p := &b.peers[fromLID]
	must.True(p.rcount == 0, "tcp: receive from lid ", fromLID, " already outstanding")

	p.rcount = slc.Size()
	must.True(p.rcount > 0, "tcp: receive of empty slice ", slc.String())
	p.roff = 0
	p.relemsize = typ.Size()
	p.rmap = m
	p.rtyp = typ
	p.rslc = slc
	p.ridx = slc.From
	p.rro = ro

	b.sendCmd(fromLID, fmt.Sprintf("allowsend %d %d", p.rcount, p.relemsize))
	for p.roff < p.rcount {
		b.runLoop()
	}
	p.rcount = 0
	p.rmap = nil
	p.rtyp = nil
}

// sendSlice waits for the peer's send grant, then emits the slice
// one element per data line. The planner's ordering guarantees a
// matching receive on the peer.
func (b *Backend) sendSlice(m *bigpart.Mapping, typ *bigpart.Type, slc space.Slice, toLID int) {
	must.True(m.Base() != nil, "tcp: sending from mapping that was never written")
	es := typ.Size()
	p := &b.peers[toLID]
	for p.scount == 0 {
		b.runLoop()
	}
	must.True(p.scount == slc.Size(),
		"tcp: grant of ", p.scount, " elements for slice of ", slc.Size())
	must.True(p.selemsize == es, "tcp: grant element size ", p.selemsize, ", sending ", es)

	idx := slc.From
	seq := int64(0)
	for {
		b.sendData(seq, slc.Dims, idx, toLID, m.At(idx))
		seq++
		if !slc.NextLex(&idx) {
			break
		}
	}
	must.True(seq == slc.Size(), "tcp: sent ", seq, " of ", slc.Size(), " elements")
	p.scount = 0
}

// sendData emits one element. The (seq:idx) tag lets the receiver
// assert that the element arrives at the expected traversal
// position.
func (b *Backend) sendData(seq int64, dims int, idx space.Index, toLID int, elem []byte) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "data %d (%d:%s)", len(elem), seq, idx.String(dims))
	for _, v := range elem {
		fmt.Fprintf(&sb, " %02x", v)
	}
	b.sendCmd(toLID, sb.String())
}

// gotData handles one "data <len> [(<seq>:<idx>)] <hex> ..." line.
// Data without prior credit is logged and dropped.
func (b *Backend) gotData(lid int, msg string) {
	f := strings.Fields(msg)
	if len(f) < 2 {
		log.Error.Printf("tcp: cannot parse data command %q", msg)
		return
	}
	length, err := strconv.Atoi(f[1])
	if err != nil {
		log.Error.Printf("tcp: cannot parse data command %q", msg)
		return
	}
	p := &b.peers[lid]
	if p.rcount == 0 || p.rcount == p.roff {
		log.Error.Printf("tcp: ignoring data from lid %d without send permission", lid)
		return
	}
	must.True(p.relemsize == length, "tcp: got ", length, "B element, expected ", p.relemsize, "B")

	hex := f[2:]
	if len(hex) > 0 && hex[0][0] == '(' {
		// Positional tag: must match our traversal progress.
		want := fmt.Sprintf("(%d:%s)", p.roff, p.ridx.String(p.rslc.Dims))
		must.True(hex[0] == want, "tcp: data at position ", hex[0], ", expected ", want)
		hex = hex[1:]
	}
	if len(hex) != length {
		log.Error.Printf("tcp: data command with %d of %d bytes: %q", len(hex), length, msg)
		return
	}
	elem := make([]byte, length)
	for i, h := range hex {
		v, err := strconv.ParseUint(h, 16, 8)
		if err != nil {
			log.Error.Printf("tcp: bad hex byte %q in data command", h)
			return
		}
		elem[i] = byte(v)
	}

	dst := p.rmap.At(p.ridx)
	if p.rro == bigpart.OpNone {
		copy(dst, elem)
	} else {
		p.rtyp.Reduce(p.rro, dst, dst, elem, 1)
	}

	p.roff++
	inTraversal := p.rslc.NextLex(&p.ridx)
	must.True(inTraversal == (p.roff < p.rcount), "tcp: traversal out of step with receive count")
	log.Debug.Printf("tcp: got data from lid %d, %d/%d", lid, p.roff, p.rcount)
	if p.roff == p.rcount {
		b.exit = true
	}
}
