// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tcp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart"
)

// Elastic resize. At a phase boundary every process calls Resize:
// non-home processes send "resize <phase> <maxid>" and run the loop
// until the home process's answer (a burst of id lines for joining
// processes, remove lines for departing ones, and a final done)
// arrives; the home process waits for every active peer's resize
// request, folds in registrations and departure announcements
// accumulated since the last boundary, and sends the burst. Each
// receiver updates its peer table; removed location IDs drop their
// connections and are excluded from the returned group.
//
// A process leaves by calling Leave before the boundary: departure is
// announced to the home process with "remove <lid>", echoed to all
// peers at the resize. Data the leaver still owns must be moved by a
// transition before the boundary; the leaver participates in the
// resize, learns its own removal, and exits afterwards.

// Leave announces that this process departs at the next resize
// boundary.
func (b *Backend) Leave() {
	must.True(b.mylid != 0, "tcp: the home process cannot leave")
	b.sendCmd(0, fmt.Sprintf("remove %d", b.mylid))
}

// Resize synchronizes a phase boundary and returns the group for the
// next phase, derived from parent by removing departed processes and
// (at the home process's discretion) adding newly registered ones.
// The caller re-runs its transition planning against the returned
// group. A leaver receives a group in which it is no longer a
// member.
func (b *Backend) Resize(parent *bigpart.Group) (*bigpart.Group, error) {
	phase := b.phase + 1
	var removed, added []int
	if b.mylid == 0 {
		// Processes that registered after the last boundary are not
		// members yet and send no resize request.
		for b.resizeReqs < b.activePeers()-len(b.pendingJoins) {
			b.runLoop()
		}
		b.resizeReqs = 0
		removed = append(removed, b.pendingLeaves...)
		added = append(added, b.pendingJoins...)
		b.pendingLeaves, b.pendingJoins = nil, nil
		sort.Ints(removed)
		sort.Ints(added)

		for lid := 1; lid <= b.maxid; lid++ {
			p := &b.peers[lid]
			if p.port < 0 || p.removed {
				continue
			}
			for _, add := range added {
				if add == lid {
					continue
				}
				b.sendCmd(lid, fmt.Sprintf("id %d %s %s %d",
					add, b.peers[add].location, b.peers[add].host, b.peers[add].port))
			}
			for _, rem := range removed {
				b.sendCmd(lid, fmt.Sprintf("remove %d", rem))
			}
			b.sendCmd(lid, "done")
		}
		for lid := 1; lid <= b.maxid; lid++ {
			if !b.peers[lid].removed {
				b.sendCmd(lid, fmt.Sprintf("phase %d", phase))
			}
		}
	} else {
		// Joiner announcements were broadcast as they registered and
		// have accumulated in addedLIDs since the last boundary.
		b.resizeDone = false
		b.sendCmd(0, fmt.Sprintf("resize %d %d", phase, b.maxid))
		for !b.resizeDone {
			b.runLoop()
		}
		for b.phase != phase {
			b.runLoop()
		}
		removed = b.removedLIDs
		added = b.addedLIDs
		b.removedLIDs, b.addedLIDs = nil, nil
		sort.Ints(removed)
		sort.Ints(added)
	}
	b.phase = phase
	b.applyRemovals(removed)

	if len(added) > 0 {
		// Joins change membership beyond a shrink: build the world
		// group afresh from the surviving location IDs.
		var locs []int
		for lid := 0; lid <= b.maxid; lid++ {
			if b.peers[lid].port >= 0 && !b.peers[lid].removed {
				locs = append(locs, lid)
			}
		}
		myid := -1
		for rank, lid := range locs {
			if lid == b.mylid {
				myid = rank
			}
		}
		return bigpart.NewGroup(locs, myid), nil
	}

	var removeRanks []int
	for rank := 0; rank < parent.Size(); rank++ {
		for _, lid := range removed {
			if parent.LocationID(rank) == lid {
				removeRanks = append(removeRanks, rank)
			}
		}
	}
	g := parent.Shrink(removeRanks)
	log.Printf("tcp: resized to phase %d: %s (%d removed, %d added)",
		phase, g, len(removed), len(added))
	return g, nil
}

func (b *Backend) applyRemovals(lids []int) {
	for _, lid := range lids {
		p := &b.peers[lid]
		p.removed = true
		if p.cs != nil {
			p.cs.conn.Close()
			p.cs = nil
		}
	}
}

// cmdResize handles "resize <phase> <maxid>" at the home process.
func (b *Backend) cmdResize(cs *connState, msg string) {
	if b.mylid != 0 {
		log.Error.Printf("tcp: ignoring resize command %q, not home", msg)
		return
	}
	f := strings.Fields(msg)
	if len(f) < 3 {
		log.Error.Printf("tcp: cannot parse resize command %q", msg)
		return
	}
	if _, err := strconv.Atoi(f[1]); err != nil {
		log.Error.Printf("tcp: cannot parse resize command %q", msg)
		return
	}
	b.resizeReqs++
	b.exit = true
}

// cmdRemove handles "remove <lid>". At the home process it is a
// departure announcement from the leaver; everywhere else it is part
// of the home process's resize answer.
func (b *Backend) cmdRemove(cs *connState, msg string) {
	f := strings.Fields(msg)
	if len(f) < 2 {
		log.Error.Printf("tcp: cannot parse remove command %q", msg)
		return
	}
	lid, err := strconv.Atoi(f[1])
	if err != nil || lid <= 0 || lid >= maxPeers {
		log.Error.Printf("tcp: cannot parse remove command %q", msg)
		return
	}
	if b.mylid == 0 {
		if cs.lid != lid {
			log.Error.Printf("tcp: ignoring remove of lid %d announced by lid %d", lid, cs.lid)
			return
		}
		log.Debug.Printf("tcp: lid %d announced departure", lid)
		b.pendingLeaves = append(b.pendingLeaves, lid)
		return
	}
	// Departed processes were drained before the boundary, so their
	// entries can be retired as soon as the removal is announced.
	log.Debug.Printf("tcp: got remove %d", lid)
	b.removedLIDs = append(b.removedLIDs, lid)
	b.applyRemovals([]int{lid})
}

// cmdDone handles the end of the home process's resize answer.
func (b *Backend) cmdDone(cs *connState) {
	if b.mylid == 0 {
		log.Error.Printf("tcp: ignoring done command as home")
		return
	}
	b.resizeDone = true
	b.exit = true
}
