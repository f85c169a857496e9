// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bigpart implements partitioned parallel data containers
// shared by a group of cooperating processes. An application declares
// a logical index space (1-d, 2-d, or 3-d), allocates a typed
// container over that space, and attaches a partitioning that assigns
// index slices to each process. When the application installs a new
// partitioning, bigpart computes the transition between the old and
// the new partitioning and executes the data movement (point-to-point
// transfers and group reductions) required to preserve the
// container's contents. Processes may join or leave the group between
// transitions.
//
// Data movement is driven by a pluggable backend. Package collective
// implements a backend on top of a group-collective transport;
// package tcp implements a fully self-contained backend with its own
// line-oriented TCP protocol, including process rendezvous and
// elastic group resizing.
//
// A minimal exchange between two processes looks like this:
//
//	inst, err := tcp.Init()
//	// handle err
//	world := inst.World()
//	sp := space.New1D(8)
//	data := inst.NewContainer(world, sp, bigpart.Float64)
//
//	left := bigpart.NewPartitioning(world, sp)
//	left.Add(0, space.Slice1D(0, 4), bigpart.ReadWrite, 0)
//	left.Add(1, space.Slice1D(4, 8), bigpart.ReadWrite, 0)
//	// left.Update(), data.SetPartitioning(left), fill values ...
//
// Installing a second partitioning with swapped owners moves each
// process's values to its new peer.
package bigpart
