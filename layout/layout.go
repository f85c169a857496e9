// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package layout translates container indexes into element offsets of
// a process-local allocation and serializes non-contiguous regions
// into flat buffers for transmission. Layouts are polymorphic over
// the capability set {offset, pack, unpack}; Dense, a row-major
// layout over the allocation's bounding box, is the default.
package layout

import (
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart/space"
)

// Layout is the capability set a mapping needs from its memory
// arrangement. Offsets are in elements, relative to the base of the
// allocation the layout was created for.
//
// Pack and Unpack traverse slc in lexicographical order starting at
// *idx, advancing *idx as they go, and may make partial progress when
// buf is exhausted. Callers re-invoke them until *idx == slc.To. Pack
// returns the number of bytes written to buf; Unpack the number of
// bytes consumed from buf.
type Layout interface {
	// Offset returns the element offset of idx.
	Offset(idx space.Index) int64
	// Pack serializes elements of slc from base into buf.
	Pack(base []byte, elemSize int, slc space.Slice, idx *space.Index, buf []byte) int
	// Unpack deposits serialized elements of slc from buf into base.
	Unpack(base []byte, elemSize int, slc space.Slice, idx *space.Index, buf []byte) int
}

// Dense is a row-major layout over a rectangular allocation: axis 0
// varies fastest, matching space.Slice.NextLex traversal order.
type Dense struct {
	box space.Slice
}

// NewDense returns a dense layout for an allocation covering box.
func NewDense(box space.Slice) *Dense {
	return &Dense{box: box}
}

// Box returns the allocation extent the layout was created for.
func (l *Dense) Box() space.Slice { return l.box }

// Offset implements Layout.
func (l *Dense) Offset(idx space.Index) int64 {
	off := int64(0)
	for d := l.box.Dims - 1; d >= 0; d-- {
		off = off*(l.box.To[d]-l.box.From[d]) + (idx[d] - l.box.From[d])
	}
	return off
}

// Pack implements Layout.
func (l *Dense) Pack(base []byte, elemSize int, slc space.Slice, idx *space.Index, buf []byte) int {
	must.True(l.box.ContainsSlice(slc), "pack: slice outside allocation")
	written := 0
	for len(buf)-written >= elemSize {
		off := l.Offset(*idx) * int64(elemSize)
		copy(buf[written:written+elemSize], base[off:off+int64(elemSize)])
		written += elemSize
		if !slc.NextLex(idx) {
			*idx = slc.To
			break
		}
	}
	return written
}

// Unpack implements Layout.
func (l *Dense) Unpack(base []byte, elemSize int, slc space.Slice, idx *space.Index, buf []byte) int {
	must.True(l.box.ContainsSlice(slc), "unpack: slice outside allocation")
	consumed := 0
	for len(buf)-consumed >= elemSize {
		off := l.Offset(*idx) * int64(elemSize)
		copy(base[off:off+int64(elemSize)], buf[consumed:consumed+elemSize])
		consumed += elemSize
		if !slc.NextLex(idx) {
			*idx = slc.To
			break
		}
	}
	return consumed
}
