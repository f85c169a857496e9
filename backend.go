// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"

	"github.com/grailbio/bigpart/space"
)

// Backend drives the data movement of container transitions. A
// backend is installed once per instance; per-group transport state
// is attached to groups via UpdateGroup.
//
// Errors surface to callers in four classes: invalid configuration
// (errors.Invalid), malformed peer traffic (errors.Integrity),
// unrecoverable transport failure (errors.Net, fatal), and allocation
// failure (fatal). Backends do not silently retry.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string

	// Finalize releases backend globals. It is idempotent.
	Finalize()

	// UpdateGroup installs per-group transport state for a derived
	// group. It must be called exactly once per derived group before
	// Exec runs on a container bound to it.
	UpdateGroup(g *Group) error

	// Prepare may allocate buffers and record actions for t,
	// returning a replayable plan. Backends that execute transitions
	// directly return nil.
	Prepare(c *Container, t *Transition) (*TransitionPlan, error)

	// Exec performs all data movement of t. When plan holds recorded
	// actions, Exec replays them instead.
	Exec(c *Container, t *Transition, plan *TransitionPlan, from, to []*Mapping) error

	// Wait blocks until all transfers touching the given mapping have
	// completed.
	Wait(plan *TransitionPlan, mapNo int) error

	// Probe reports without blocking whether all transfers touching
	// the given mapping have completed.
	Probe(plan *TransitionPlan, mapNo int) bool

	// Cleanup frees the plan's buffers and actions.
	Cleanup(plan *TransitionPlan)
}

// ActionType enumerates the executable units a backend's prepare
// phase may emit.
type ActionType int

const (
	ActionInvalid ActionType = iota
	ActionSend
	ActionRecv
	ActionPackAndSend
	ActionRecvAndUnpack
	ActionPack
	ActionUnpack
	ActionCopy
)

var actionNames = [...]string{
	ActionInvalid:       "invalid",
	ActionSend:          "send",
	ActionRecv:          "recv",
	ActionPackAndSend:   "packsend",
	ActionRecvAndUnpack: "recvunpack",
	ActionPack:          "pack",
	ActionUnpack:        "unpack",
	ActionCopy:          "copy",
}

func (a ActionType) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return "invalid"
	}
	return actionNames[a]
}

// An Action is one flat executable unit of a transition plan.
type Action struct {
	Type  ActionType
	Buf   []byte
	ToBuf []byte
	Count int64
	Peer  int
	Slice space.Slice
	MapNo int
	// Subgroup indexes the reduction record of the plan's transition
	// for reduce-related actions, -1 otherwise.
	Subgroup int
}

// A TransitionPlan is the replayable flat form of one transition on
// one container: a list of actions plus the buffers they reference.
type TransitionPlan struct {
	container  *Container
	transition *Transition

	bufs    [][]byte
	actions []Action

	sendCount, recvCount int64
}

// NewTransitionPlan returns an empty plan for t on c.
func NewTransitionPlan(c *Container, t *Transition) *TransitionPlan {
	return &TransitionPlan{container: c, transition: t}
}

// Container returns the container the plan was prepared for.
func (p *TransitionPlan) Container() *Container { return p.container }

// Transition returns the transition the plan was prepared for.
func (p *TransitionPlan) Transition() *Transition { return p.transition }

// Actions returns the recorded actions in execution order.
func (p *TransitionPlan) Actions() []Action { return p.actions }

// Counts returns the total elements recorded for sending and
// receiving.
func (p *TransitionPlan) Counts() (send, recv int64) {
	return p.sendCount, p.recvCount
}

// AppendBuf allocates a buffer of the given size, owned by the plan,
// and returns it.
func (p *TransitionPlan) AppendBuf(size int64) []byte {
	buf := make([]byte, size)
	p.bufs = append(p.bufs, buf)
	return buf
}

// RecordSend appends a direct send of count elements from buf to
// peer.
func (p *TransitionPlan) RecordSend(buf []byte, count int64, to int) {
	p.actions = append(p.actions, Action{Type: ActionSend, Buf: buf, Count: count, Peer: to, Subgroup: -1})
	p.sendCount += count
}

// RecordRecv appends a direct receive of count elements from peer
// into buf.
func (p *TransitionPlan) RecordRecv(buf []byte, count int64, from int) {
	p.actions = append(p.actions, Action{Type: ActionRecv, Buf: buf, Count: count, Peer: from, Subgroup: -1})
	p.recvCount += count
}

// RecordPackAndSend appends a pack-and-send of slc from the mapping
// at mapNo to peer.
func (p *TransitionPlan) RecordPackAndSend(mapNo int, slc space.Slice, to int) {
	count := slc.Size()
	p.actions = append(p.actions, Action{Type: ActionPackAndSend, Slice: slc, Count: count, Peer: to, MapNo: mapNo, Subgroup: -1})
	p.sendCount += count
}

// RecordRecvAndUnpack appends a receive-and-unpack of slc into the
// mapping at mapNo from peer.
func (p *TransitionPlan) RecordRecvAndUnpack(mapNo int, slc space.Slice, from int) {
	count := slc.Size()
	p.actions = append(p.actions, Action{Type: ActionRecvAndUnpack, Slice: slc, Count: count, Peer: from, MapNo: mapNo, Subgroup: -1})
	p.recvCount += count
}

// Free drops the plan's buffers and actions.
func (p *TransitionPlan) Free() {
	p.bufs = nil
	p.actions = nil
}

func (p *TransitionPlan) String() string {
	return fmt.Sprintf("plan: %d actions, %d buffers", len(p.actions), len(p.bufs))
}
