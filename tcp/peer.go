// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"fmt"
	"net"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigpart"
	"github.com/grailbio/bigpart/space"
)

// A peer is the record for one remote process, indexed by location
// ID. A peer may be known without being connected; connections are
// established lazily and survive across transitions. The rcount and
// scount fields implement the half-duplex credit scheme: for each
// ordered (sender, receiver) pair there is at most one outstanding
// send grant.
type peer struct {
	host     string
	port     int // -1 when the slot is unused
	location string
	removed  bool

	cs   *connState
	addr *net.TCPAddr // resolved transport address, kept across redials

	// outstanding receive, granted to the peer by allowsend
	rcount    int64
	roff      int64
	relemsize int
	rmap      *bigpart.Mapping
	rtyp      *bigpart.Type
	rslc      space.Slice
	ridx      space.Index
	rro       bigpart.ReduceOp

	// grant received from the peer: we may send scount elements
	scount    int64
	selemsize int
}

// connState tags one live connection with the peer it belongs to.
// lid is -1 until the remote side identifies itself (register at the
// home process, myid on a redial).
type connState struct {
	conn net.Conn
	lid  int
}

// ensureConn establishes the connection to peer lid if there is
// none, and announces this process's location ID so the remote side
// can tag the descriptor.
func (b *Backend) ensureConn(lid int) error {
	p := &b.peers[lid]
	if p.cs != nil {
		return nil
	}
	if p.port < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("tcp: no address for lid %d", lid))
	}
	if p.addr == nil {
		addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(p.host, fmt.Sprint(p.port)))
		if err != nil {
			return errors.E(errors.Net, errors.Fatal,
				fmt.Sprintf("tcp: resolving lid %d (%s:%d)", lid, p.host, p.port), err)
		}
		p.addr = addr
	}
	conn, err := net.DialTCP("tcp", nil, p.addr)
	if err != nil {
		return errors.E(errors.Net, errors.Fatal,
			fmt.Sprintf("tcp: connecting to lid %d (%s)", lid, p.addr), err)
	}
	cs := &connState{conn: conn, lid: lid}
	p.cs = cs
	b.startReader(cs)
	log.Debug.Printf("tcp: connected to lid %d (%s)", lid, p.addr)
	if b.mylid >= 0 {
		b.sendCmdConn(cs, fmt.Sprintf("myid %d", b.mylid))
	}
	return nil
}

// sendCmd sends one command line to peer lid, dialing if necessary.
func (b *Backend) sendCmd(lid int, cmd string) {
	if err := b.ensureConn(lid); err != nil {
		log.Panicf("tcp: %v", err)
	}
	b.sendCmdConn(b.peers[lid].cs, cmd)
}

// sendCmdConn sends one command line on an established connection.
func (b *Backend) sendCmdConn(cs *connState, cmd string) {
	log.Debug.Printf("tcp: sent cmd %q to lid %d", cmd, cs.lid)
	if _, err := cs.conn.Write(append([]byte(cmd), '\n')); err != nil {
		log.Error.Printf("tcp: write to lid %d: %v", cs.lid, err)
	}
}

// dropConn removes a dead connection. The peer-table entry survives;
// the next send redials.
func (b *Backend) dropConn(cs *connState) {
	cs.conn.Close()
	if cs.lid >= 0 && b.peers[cs.lid].cs == cs {
		b.peers[cs.lid].cs = nil
	}
}
