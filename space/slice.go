// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package space

import "fmt"

// A Slice is a half-open hyper-rectangle [From, To) inside some
// space. A slice is empty iff any axis has From == To. Slices are
// value types and may be compared with ==.
type Slice struct {
	Dims     int
	From, To Index
}

// Slice1D returns the 1-d slice [from, to).
func Slice1D(from, to int64) Slice {
	return Slice{Dims: 1, From: Idx1(from), To: Idx1(to)}
}

// Slice2D returns the 2-d slice [fromX, toX) x [fromY, toY).
func Slice2D(fromX, toX, fromY, toY int64) Slice {
	return Slice{Dims: 2, From: Idx2(fromX, fromY), To: Idx2(toX, toY)}
}

// Slice3D returns the 3-d slice spanning the given per-axis bounds.
func Slice3D(fromX, toX, fromY, toY, fromZ, toZ int64) Slice {
	return Slice{Dims: 3, From: Idx3(fromX, fromY, fromZ), To: Idx3(toX, toY, toZ)}
}

// IsEmpty tells whether the slice contains no indexes.
func (s Slice) IsEmpty() bool {
	for d := 0; d < s.Dims; d++ {
		if s.From[d] >= s.To[d] {
			return true
		}
	}
	return s.Dims == 0
}

// Size returns the number of indexes in the slice.
func (s Slice) Size() int64 {
	if s.IsEmpty() {
		return 0
	}
	n := int64(1)
	for d := 0; d < s.Dims; d++ {
		n *= s.To[d] - s.From[d]
	}
	return n
}

// Contains tells whether idx lies within the slice.
func (s Slice) Contains(idx Index) bool {
	for d := 0; d < s.Dims; d++ {
		if idx[d] < s.From[d] || idx[d] >= s.To[d] {
			return false
		}
	}
	return true
}

// ContainsSlice tells whether o lies entirely within s.
func (s Slice) ContainsSlice(o Slice) bool {
	if o.IsEmpty() {
		return true
	}
	for d := 0; d < s.Dims; d++ {
		if o.From[d] < s.From[d] || o.To[d] > s.To[d] {
			return false
		}
	}
	return true
}

// Intersect returns the intersection of s and o. The second return
// value is false when the intersection is empty.
func Intersect(s, o Slice) (Slice, bool) {
	if s.Dims != o.Dims {
		panic(fmt.Sprintf("space: intersecting %d-d slice with %d-d slice", s.Dims, o.Dims))
	}
	r := Slice{Dims: s.Dims}
	for d := 0; d < s.Dims; d++ {
		r.From[d] = s.From[d]
		if o.From[d] > r.From[d] {
			r.From[d] = o.From[d]
		}
		r.To[d] = s.To[d]
		if o.To[d] < r.To[d] {
			r.To[d] = o.To[d]
		}
		if r.From[d] >= r.To[d] {
			return Slice{Dims: s.Dims}, false
		}
	}
	return r, true
}

// Union returns the bounding box of s and o. Empty operands are
// ignored.
func Union(s, o Slice) Slice {
	if s.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return s
	}
	r := Slice{Dims: s.Dims}
	for d := 0; d < s.Dims; d++ {
		r.From[d] = s.From[d]
		if o.From[d] < r.From[d] {
			r.From[d] = o.From[d]
		}
		r.To[d] = s.To[d]
		if o.To[d] > r.To[d] {
			r.To[d] = o.To[d]
		}
	}
	return r
}

// NextLex advances idx one step in lexicographical traversal order of
// the slice: axis 0 varies fastest. It returns false when idx was the
// last index of the traversal.
func (s Slice) NextLex(idx *Index) bool {
	idx[0]++
	if idx[0] < s.To[0] {
		return true
	}
	if s.Dims == 1 {
		return false
	}
	idx[1]++
	idx[0] = s.From[0]
	if idx[1] < s.To[1] {
		return true
	}
	if s.Dims == 2 {
		return false
	}
	idx[2]++
	idx[1] = s.From[1]
	return idx[2] < s.To[2]
}

func (s Slice) String() string {
	return fmt.Sprintf("[%s;%s)", s.From.String(s.Dims), s.To.String(s.Dims))
}
