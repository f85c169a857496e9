// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"fmt"

	"github.com/grailbio/base/must"
	"github.com/grailbio/bigpart/layout"
	"github.com/grailbio/bigpart/space"
)

// A Mapping is the concrete memory backing this process's share of
// one partitioning: a base allocation covering the bounding box of
// the owned slices, and a layout translating indexes to element
// offsets. A mapping with no owned indexes has a nil base.
type Mapping struct {
	typ      *Type
	count    int64
	base     []byte
	required space.Slice
	layout   layout.Layout
}

func newMapping(typ *Type, p *Partitioning, rank int) *Mapping {
	m := &Mapping{typ: typ}
	box, ok := p.Required(rank)
	if !ok {
		return m
	}
	m.required = box
	m.count = box.Size()
	m.base = make([]byte, m.count*int64(typ.Size()))
	m.layout = layout.NewDense(box)
	return m
}

// Count returns the number of elements backed by the mapping.
func (m *Mapping) Count() int64 { return m.count }

// Base returns the raw element memory, nil for zero-sized mappings.
func (m *Mapping) Base() []byte { return m.base }

// Required returns the bounding box the mapping covers.
func (m *Mapping) Required() space.Slice { return m.required }

// Layout returns the mapping's layout.
func (m *Mapping) Layout() layout.Layout { return m.layout }

// Type returns the mapping's element type.
func (m *Mapping) Type() *Type { return m.typ }

// At returns the bytes of the element at idx.
func (m *Mapping) At(idx space.Index) []byte {
	must.True(m.base != nil, "mapping: At on zero-sized mapping")
	es := int64(m.typ.Size())
	off := m.layout.Offset(idx) * es
	return m.base[off : off+es]
}

// Run returns the bytes of the n contiguous elements starting at idx
// along axis 0. The caller guarantees the run stays inside the
// mapping's bounding box row.
func (m *Mapping) Run(idx space.Index, n int64) []byte {
	must.True(m.base != nil, "mapping: Run on zero-sized mapping")
	es := int64(m.typ.Size())
	off := m.layout.Offset(idx) * es
	return m.base[off : off+n*es]
}

// CopySlice copies slc from the mapping src into m, one axis-0 run at
// a time. Both mappings must cover slc.
func (m *Mapping) CopySlice(src *Mapping, slc space.Slice) {
	if slc.IsEmpty() {
		return
	}
	must.True(m.required.ContainsSlice(slc), "copy: slice ", slc.String(), " outside destination")
	must.True(src.required.ContainsSlice(slc), "copy: slice ", slc.String(), " outside source")
	rowLen := slc.To[0] - slc.From[0]
	forEachRow(slc, func(idx space.Index) {
		copy(m.Run(idx, rowLen), src.Run(idx, rowLen))
	})
}

// InitSlice fills slc with the identity value of op.
func (m *Mapping) InitSlice(slc space.Slice, op ReduceOp) {
	if slc.IsEmpty() {
		return
	}
	must.True(m.required.ContainsSlice(slc), "init: slice ", slc.String(), " outside mapping")
	rowLen := slc.To[0] - slc.From[0]
	forEachRow(slc, func(idx space.Index) {
		m.typ.Init(op, m.Run(idx, rowLen), int(rowLen))
	})
}

// forEachRow invokes fn once per axis-0 run of slc, with idx at the
// run's first element.
func forEachRow(slc space.Slice, fn func(idx space.Index)) {
	idx := slc.From
	for {
		fn(idx)
		switch slc.Dims {
		case 1:
			return
		case 2:
			idx[1]++
			if idx[1] >= slc.To[1] {
				return
			}
		default:
			idx[1]++
			if idx[1] >= slc.To[1] {
				idx[1] = slc.From[1]
				idx[2]++
				if idx[2] >= slc.To[2] {
					return
				}
			}
		}
	}
}

func (m *Mapping) String() string {
	return fmt.Sprintf("mapping %s x%d %s", m.typ, m.count, m.required)
}
