// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"bufio"
	"net"
	"strings"

	"github.com/grailbio/base/log"
)

// The event loop. Every connection has one reader goroutine that
// splits the byte stream into lines and forwards them to the events
// channel; the loop itself runs only on the application goroutine,
// so all protocol state is mutated single-threaded. Backend entry
// points suspend by re-entering runLoop until their completion
// predicate holds (registration complete, phase received, send
// credit arrived, all expected data consumed).

type event struct {
	cs      *connState
	line    string
	err     error
	newConn net.Conn
}

// runLoop dispatches events until a handler marks one interesting
// (b.exit). Handlers never re-enter the loop.
func (b *Backend) runLoop() {
	b.exit = false
	for !b.exit {
		ev := <-b.events
		switch {
		case ev.newConn != nil:
			b.gotConnect(ev.newConn)
		case ev.err != nil:
			b.gotClose(ev.cs, ev.err)
		default:
			b.gotCmd(ev.cs, ev.line)
		}
	}
}

// acceptLoop forwards inbound connections to the event loop.
func (b *Backend) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			// Listener closed during finalize.
			return
		}
		b.events <- event{newConn: conn}
	}
}

// startReader splits cs's byte stream into newline-terminated
// commands. The per-connection buffer is bounded; commands longer
// than the buffer are assembled across reads.
func (b *Backend) startReader(cs *connState) {
	go func() {
		r := bufio.NewReaderSize(cs.conn, rbufLen)
		for {
			line, err := r.ReadString('\n')
			// Process a left-over command on close.
			if line = strings.TrimRight(line, "\r\n"); line != "" {
				b.events <- event{cs: cs, line: line}
			}
			if err != nil {
				b.events <- event{cs: cs, err: err}
				return
			}
		}
	}()
}

// gotConnect registers an accepted connection. The remote side is
// unknown until it identifies itself with register or myid.
func (b *Backend) gotConnect(conn net.Conn) {
	cs := &connState{conn: conn, lid: -1}
	b.startReader(cs)
	log.Debug.Printf("tcp: got connection from %s", conn.RemoteAddr())
	b.sendCmdConn(cs, "# here is bigpart tcp")
}

// gotClose drops a closed connection; the peer entry survives for a
// redial.
func (b *Backend) gotClose(cs *connState, err error) {
	log.Debug.Printf("tcp: connection to lid %d closed: %v", cs.lid, err)
	b.dropConn(cs)
}
