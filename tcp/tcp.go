// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tcp implements the bigpart point-to-point backend: a
// line-oriented TCP protocol between cooperating processes with no
// external launcher. Processes rendezvous through a well-known home
// process, which assigns location IDs and broadcasts the peer table;
// data moves over lazily established peer connections under a
// credit-based flow-control scheme; groups may grow and shrink at
// resize boundaries.
//
// The protocol is textual so that it can be inspected and driven by
// hand (nc, telnet): every command is one newline-terminated line,
// and lines starting with "#" are comments.
package tcp

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigpart"
)

const (
	// defaultPort is the home process's well-known listen port.
	defaultPort = 7777
	// maxPeers caps the peer table.
	maxPeers = 256
	// rbufLen sizes the per-connection read buffer. Command lines
	// longer than the buffer are assembled across reads.
	rbufLen = 4096
)

// Options configures backend startup. The zero value selects the
// environment-driven defaults.
type Options struct {
	// HomeHost is the host of the home process. Default "localhost"
	// (env BIGPART_HOST).
	HomeHost string
	// HomePort is the home process's listen port. Default 7777 (env
	// BIGPART_PORT).
	HomePort int
	// WorldSize is the number of processes the home process waits
	// for. Default 1 (env BIGPART_SIZE). Only the home process
	// consults it.
	WorldSize int
	// Location identifies this process; it must be unique within the
	// world. Default "host:pid".
	Location string
}

// Backend is the point-to-point backend of one process: its location
// ID, listening socket, peer table, and protocol state. All fields
// are owned by the event-loop context; applications interact with it
// only through bigpart.Backend and Resize/Leave.
type Backend struct {
	mylid      int
	location   string
	host       string
	listenPort int
	homeHost   string
	homePort   int
	worldSize  int
	maxid      int
	phase      int

	listener net.Listener
	events   chan event
	exit     bool
	released bool // bootstrap finished; late registrations join at resize

	peers [maxPeers]peer

	// resize state
	resizeReqs    int
	resizeDone    bool
	pendingLeaves []int // home: location IDs that announced departure
	pendingJoins  []int // home: location IDs registered after release
	removedLIDs   []int // non-home: remove lines of the current resize
	addedLIDs     []int // non-home: id lines of the current resize

	finalized bool
}

var _ bigpart.Backend = (*Backend)(nil)

// Init bootstraps the backend from the environment and registers the
// process-wide instance: the home process waits for BIGPART_SIZE
// processes to register, everyone else registers with the home
// process and blocks until the world is released.
func Init() (*bigpart.Instance, error) {
	b, err := Start(Options{})
	if err != nil {
		return nil, err
	}
	inst := bigpart.NewInstance(b, b.worldSize, b.mylid, b.location)
	bigpart.Register(inst)
	return inst, nil
}

// Start bootstraps a backend without registering a process-wide
// instance. Most applications use Init.
func Start(opts Options) (*Backend, error) {
	if opts.HomeHost == "" {
		opts.HomeHost = envStr("BIGPART_HOST", "localhost")
	}
	if opts.HomePort == 0 {
		opts.HomePort = envInt("BIGPART_PORT", defaultPort)
	}
	if opts.WorldSize == 0 {
		opts.WorldSize = envInt("BIGPART_SIZE", 1)
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	if opts.Location == "" {
		opts.Location = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	b := &Backend{
		mylid:    -1,
		location: opts.Location,
		host:     host,
		homeHost: opts.HomeHost,
		homePort: opts.HomePort,
		phase:    -1,
		maxid:    -1,
		events:   make(chan event, 1024),
	}
	for i := range b.peers {
		b.peers[i].port = -1
	}

	// If the home host resolves to a local interface, race for the
	// home port; winning the bind makes this process home.
	if checkLocal(b.homeHost) {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", b.homePort))
		if err == nil {
			b.mylid = 0
			b.listener = ln
			b.listenPort = b.homePort
		}
	}
	if b.listener == nil {
		ln, err := net.Listen("tcp", ":0")
		if err != nil {
			return nil, errors.E(errors.Net, errors.Fatal, "tcp: cannot open listening socket", err)
		}
		b.listener = ln
		b.listenPort = ln.Addr().(*net.TCPAddr).Port
	}
	log.Debug.Printf("tcp: location %s listening on port %d", b.location, b.listenPort)
	go b.acceptLoop(b.listener)

	// The home slot is known up front.
	b.peers[0].host = b.homeHost
	b.peers[0].port = b.homePort
	if b.mylid == 0 {
		b.peers[0].host = b.host
		b.peers[0].location = b.location
	}

	if b.mylid == 0 {
		b.worldSize = opts.WorldSize
		b.maxid = 0
		b.phase = 0
		if b.worldSize > 1 {
			log.Debug.Printf("tcp: home waiting for %d peers to join", b.worldSize-1)
			for b.activePeers() < b.worldSize-1 {
				b.runLoop()
			}
			for lid := 1; lid <= b.maxid; lid++ {
				b.sendCmd(lid, "phase 0")
			}
		}
	} else {
		b.sendCmd(0, fmt.Sprintf("register %s %s %d", b.location, b.host, b.listenPort))
		for b.phase == -1 {
			b.runLoop()
		}
		b.worldSize = b.activePeers() + 1
	}
	b.released = true
	log.Printf("tcp: bootstrapped at %s, lid %d/%d, listening at %d",
		b.location, b.mylid, b.worldSize, b.listenPort)

	// Optional pause so a debugger can attach to one rank.
	if s := os.Getenv("BIGPART_DEBUG_RANK"); s != "" {
		if rank, err := strconv.Atoi(s); err == nil && (rank < 0 || rank == b.mylid) {
			log.Printf("tcp: lid %d pausing for debugger (pid %d)", b.mylid, os.Getpid())
			time.Sleep(30 * time.Second)
		}
	}
	return b, nil
}

// MyLID returns this process's location ID.
func (b *Backend) MyLID() int { return b.mylid }

// WorldSize returns the world size observed at bootstrap.
func (b *Backend) WorldSize() int { return b.worldSize }

// ListenPort returns the port this process listens on.
func (b *Backend) ListenPort() int { return b.listenPort }

// Phase returns the current compute phase.
func (b *Backend) Phase() int { return b.phase }

// activePeers counts peer-table entries other than this process.
func (b *Backend) activePeers() int {
	n := 0
	for lid := 0; lid <= b.maxid; lid++ {
		if lid != b.mylid && b.peers[lid].port >= 0 && !b.peers[lid].removed {
			n++
		}
	}
	return n
}

// checkLocal tells whether host resolves to an interface this
// process can bind.
func checkLocal(host string) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		log.Debug.Printf("tcp: host %s not local: %v", host, err)
		return false
	}
	ln.Close()
	return true
}

func envStr(name, dflt string) string {
	if s := os.Getenv(name); s != "" {
		return s
	}
	return dflt
}

func envInt(name string, dflt int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
		log.Error.Printf("tcp: ignoring bad %s=%q", name, s)
	}
	return dflt
}
