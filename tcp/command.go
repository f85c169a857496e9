// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
)

// gotCmd dispatches one received command line. The first character
// identifies the verb; the r- and d-families are disambiguated by
// their prefixes. Malformed commands from registered peers are
// logged and dropped; the connection survives.
func (b *Backend) gotCmd(cs *connState, msg string) {
	log.Debug.Printf("tcp: got cmd %q from lid %d", msg, cs.lid)
	if msg == "" {
		return
	}

	// Commands accepted from peers without an assigned ID.
	switch {
	case strings.HasPrefix(msg, "reg"):
		b.cmdRegister(cs, msg)
		return
	case msg[0] == 'm':
		b.cmdMyID(cs, msg)
		return
	case msg[0] == 'h':
		b.cmdHelp(cs)
		return
	case msg[0] == 'k':
		log.Printf("tcp: exiting because of kill command")
		b.sendCmdConn(cs, "# exiting, bye")
		fatalf("killed by peer command")
		return
	case msg[0] == 'q':
		log.Debug.Printf("tcp: closing connection because of quit command")
		b.dropConn(cs)
		return
	case msg[0] == '#':
		// Comments come from interactive use; surface them only in
		// the logs.
		log.Debug.Printf("tcp: got comment %q", msg)
		return
	case msg[0] == 's':
		b.cmdStatus(cs)
		return
	}

	if cs.lid < 0 {
		log.Error.Printf("tcp: ignoring command %q from unknown sender", msg)
		b.sendCmdConn(cs, "# first register, see 'help'")
		return
	}

	switch {
	case msg[0] == 'i':
		b.cmdID(cs, msg)
	case msg[0] == 'p':
		b.cmdPhase(cs, msg)
	case msg[0] == 'a':
		b.cmdAllowSend(cs, msg)
	case strings.HasPrefix(msg, "da"):
		b.gotData(cs.lid, msg)
	case strings.HasPrefix(msg, "do"):
		b.cmdDone(cs)
	case strings.HasPrefix(msg, "res"):
		b.cmdResize(cs, msg)
	case strings.HasPrefix(msg, "rem"):
		b.cmdRemove(cs, msg)
	default:
		log.Error.Printf("tcp: got unknown command %q from lid %d", msg, cs.lid)
	}
}

// cmdRegister handles "register <location> <host> <port>": the home
// process assigns the next location ID, announces the newcomer to
// every registered peer, and sends the newcomer the full peer table.
func (b *Backend) cmdRegister(cs *connState, msg string) {
	if b.mylid != 0 {
		log.Error.Printf("tcp: ignoring register command %q, not home", msg)
		return
	}
	if cs.lid >= 0 {
		log.Error.Printf("tcp: cannot re-register; already registered with lid %d", cs.lid)
		return
	}
	f := strings.Fields(msg)
	if len(f) < 4 {
		log.Error.Printf("tcp: cannot parse register command %q", msg)
		return
	}
	port, err := strconv.Atoi(f[3])
	if err != nil {
		log.Error.Printf("tcp: cannot parse register command %q", msg)
		return
	}
	location, host := f[1], f[2]

	b.maxid++
	lid := b.maxid
	if lid >= maxPeers {
		fatalf("tcp: peer table full (%d)", maxPeers)
	}
	cs.lid = lid
	p := &b.peers[lid]
	p.host = host
	p.port = port
	p.location = location
	p.cs = cs
	p.rcount, p.scount = 0, 0
	log.Debug.Printf("tcp: registered new lid %d: location %s at host %s port %d",
		lid, location, host, port)

	// Announce the newcomer to everyone registered (the newcomer
	// itself included: the matching location tells it its ID), then
	// send it the rest of the table.
	ann := fmt.Sprintf("id %d %s %s %d", lid, location, host, port)
	for i := 1; i <= b.maxid; i++ {
		b.sendCmd(i, ann)
	}
	for i := 0; i < b.maxid; i++ {
		b.sendCmd(lid, fmt.Sprintf("id %d %s %s %d",
			i, b.peers[i].location, b.peers[i].host, b.peers[i].port))
	}

	if b.released {
		b.pendingJoins = append(b.pendingJoins, lid)
	}
	b.exit = true
}

// cmdMyID handles "myid <lid>", sent on a redial so the accepting
// side can tag the descriptor with an already known peer.
func (b *Backend) cmdMyID(cs *connState, msg string) {
	f := strings.Fields(msg)
	if len(f) < 2 {
		log.Error.Printf("tcp: cannot parse myid command %q", msg)
		return
	}
	lid, err := strconv.Atoi(f[1])
	if err != nil || lid < 0 || lid >= maxPeers {
		log.Error.Printf("tcp: cannot parse myid command %q", msg)
		return
	}
	if cs.lid >= 0 {
		if cs.lid != lid {
			fatalf("tcp: got myid %d from peer already known as lid %d", lid, cs.lid)
		}
		return
	}
	if lid == b.mylid {
		fatalf("tcp: got myid %d, which is my own location ID", lid)
	}
	if lid > b.maxid || b.peers[lid].port < 0 {
		log.Error.Printf("tcp: myid %d from peer not announced by home", lid)
		return
	}
	cs.lid = lid
	b.peers[lid].cs = cs
	log.Debug.Printf("tcp: seen lid %d (location %s)", lid, b.peers[lid].location)
}

// cmdID handles "id <lid> <location> <host> <port>" from the home
// process.
func (b *Backend) cmdID(cs *connState, msg string) {
	if b.mylid == 0 {
		log.Error.Printf("tcp: ignoring id command %q as home", msg)
		return
	}
	f := strings.Fields(msg)
	if len(f) < 5 {
		log.Error.Printf("tcp: cannot parse id command %q", msg)
		return
	}
	lid, err1 := strconv.Atoi(f[1])
	port, err2 := strconv.Atoi(f[4])
	if err1 != nil || err2 != nil || lid < 0 || lid >= maxPeers {
		log.Error.Printf("tcp: cannot parse id command %q", msg)
		return
	}
	location, host := f[2], f[3]

	if b.mylid < 0 && location == b.location {
		b.mylid = lid
	}
	p := &b.peers[lid]
	if p.location != "" {
		// Already known; the announcement must agree.
		if p.location != location || p.host != host || p.port != port {
			fatalf("tcp: conflicting announcement for lid %d: %q", lid, msg)
		}
	} else {
		p.location = location
		p.host = host
		p.port = port
		p.rcount, p.scount = 0, 0
		if lid > b.maxid {
			b.maxid = lid
		}
		if b.released {
			// A previously unknown process after bootstrap is a
			// joiner for the next resize boundary.
			b.addedLIDs = append(b.addedLIDs, lid)
		}
	}
	log.Debug.Printf("tcp: seen %slid %d (location %s), %d active peers",
		mine(lid == b.mylid), lid, location, b.activePeers())
}

func mine(is bool) string {
	if is {
		return "my "
	}
	return ""
}

// cmdPhase handles "phase <phaseid>" from the home process.
func (b *Backend) cmdPhase(cs *connState, msg string) {
	if b.mylid == 0 {
		log.Error.Printf("tcp: ignoring phase command %q as home", msg)
		return
	}
	f := strings.Fields(msg)
	if len(f) < 2 {
		log.Error.Printf("tcp: cannot parse phase command %q", msg)
		return
	}
	phase, err := strconv.Atoi(f[1])
	if err != nil {
		log.Error.Printf("tcp: cannot parse phase command %q", msg)
		return
	}
	log.Debug.Printf("tcp: got phase %d", phase)
	b.phase = phase
	b.exit = true
}

// cmdAllowSend handles "allowsend <count> <elemsize>": the peer
// grants this process the right to send that many elements.
func (b *Backend) cmdAllowSend(cs *connState, msg string) {
	f := strings.Fields(msg)
	if len(f) < 3 {
		log.Error.Printf("tcp: cannot parse allowsend command %q", msg)
		return
	}
	count, err1 := strconv.ParseInt(f[1], 10, 64)
	esize, err2 := strconv.Atoi(f[2])
	if err1 != nil || err2 != nil {
		log.Error.Printf("tcp: cannot parse allowsend command %q", msg)
		return
	}
	p := &b.peers[cs.lid]
	if p.scount != 0 {
		fatalf("tcp: allowsend from lid %d while grant of %d elements outstanding", cs.lid, p.scount)
	}
	log.Debug.Printf("tcp: got allowsend %d x %dB from lid %d", count, esize, cs.lid)
	p.scount = count
	p.selemsize = esize
	b.exit = true
}

// cmdHelp answers the interactive help command.
func (b *Backend) cmdHelp(cs *connState) {
	for _, l := range []string{
		"# usage (first characters of a command suffice):",
		"#  allowsend <count> <elemsize>  : grant the peer a send",
		"#  data <len> [pos] <hex> ...    : one container element",
		"#  done                          : end of a resize answer",
		"#  help                          : this help text",
		"#  id <id> <loc> <host> <port>   : announce location id info",
		"#  kill                          : ask the process to terminate",
		"#  myid <id>                     : identify your location id",
		"#  phase <phase>                 : announce current phase",
		"#  quit                          : close connection",
		"#  register <loc> <host> <port>  : request assignment of an id",
		"#  remove <id>                   : drop a location id",
		"#  resize <phase> <maxid>        : request ids for a new phase",
		"#  status                        : request status output",
	} {
		b.sendCmdConn(cs, l)
	}
}

// cmdStatus answers the interactive status command.
func (b *Backend) cmdStatus(cs *connState) {
	b.sendCmdConn(cs, fmt.Sprintf("# my lid is %d", b.mylid))
	b.sendCmdConn(cs, "# processes in world:")
	for lid := 0; lid <= b.maxid; lid++ {
		p := &b.peers[lid]
		if p.port < 0 || p.removed {
			continue
		}
		b.sendCmdConn(cs, fmt.Sprintf("#  lid %2d loc %q at %s:%d", lid, p.location, p.host, p.port))
	}
}

// fatalf terminates the process on an unrecoverable protocol or
// transport error.
func fatalf(format string, args ...interface{}) {
	log.Panicf(format, args...)
}
