// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package collective implements a bigpart backend on top of a
// group-collective transport: a primitive set with point-to-point
// send/receive and an all-to-one/all-to-all reduction. The backend
// schedules symmetric exchanges with a double-sweep phase order, so
// transports may block in send until the matching receive is posted
// without risking deadlock.
package collective

// A ReduceFunc combines n elements of a and b element-wise into dst.
// dst may alias a.
type ReduceFunc func(dst, a, b []byte, n int)

// Transport is the primitive set the collective backend drives.
// Messages are untyped byte strings with message boundaries
// preserved: one Send delivers one message to one Recv.
type Transport interface {
	// Rank returns this process's rank within the transport.
	Rank() int

	// Size returns the number of processes in the transport.
	Size() int

	// Send delivers p as one message to the process at rank to.
	Send(to int, p []byte) error

	// Recv receives the next message from the process at rank from
	// into p, returning its length. Messages longer than p are an
	// error.
	Recv(from int, p []byte) (int, error)

	// Reduce combines the in buffers of all processes element-wise
	// and deposits the result in out at root; root -1 deposits the
	// result at every process. in and out may alias (the in-place
	// convention). All processes of the transport must call Reduce
	// with the same root, element size, and length.
	Reduce(root int, in, out []byte, elemSize int, reduce ReduceFunc) error

	// Split derives a transport over the subset of processes whose
	// ranks are listed in ranks (in new rank order). Every process of
	// the parent transport must call Split with the same ranks;
	// processes not listed receive a nil transport.
	Split(ranks []int) (Transport, error)

	// Close releases the transport. Idempotent.
	Close() error
}
