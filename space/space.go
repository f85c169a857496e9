// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package space contains definitions and algebra for bigpart index
// spaces. A Space describes the index domain of a container; a Slice
// is a half-open hyper-rectangle inside a Space. The algebra here is
// pure: it performs no I/O and holds no references to containers or
// process groups.
package space

import (
	"fmt"
	"strings"
)

// MaxDims is the largest dimensionality supported by bigpart spaces.
const MaxDims = 3

// An Index addresses one element of a space. Only the first Dims
// coordinates of the enclosing space are meaningful.
type Index [MaxDims]int64

// Idx1 returns a 1-d index.
func Idx1(x int64) Index { return Index{x, 0, 0} }

// Idx2 returns a 2-d index.
func Idx2(x, y int64) Index { return Index{x, y, 0} }

// Idx3 returns a 3-d index.
func Idx3(x, y, z int64) Index { return Index{x, y, z} }

// Equal tells whether indexes i and j agree on their first dims
// coordinates.
func (i Index) Equal(j Index, dims int) bool {
	for d := 0; d < dims; d++ {
		if i[d] != j[d] {
			return false
		}
	}
	return true
}

// Less orders indexes lexicographically with the last axis most
// significant, matching the traversal order of NextLex.
func (i Index) Less(j Index, dims int) bool {
	for d := dims - 1; d >= 0; d-- {
		if i[d] != j[d] {
			return i[d] < j[d]
		}
	}
	return false
}

// String renders the index's first dims coordinates as "x/y/z".
func (i Index) String(dims int) string {
	var b strings.Builder
	for d := 0; d < dims; d++ {
		if d > 0 {
			b.WriteByte('/')
		}
		fmt.Fprintf(&b, "%d", i[d])
	}
	return b.String()
}

// A Space is an immutable description of an index domain: a
// dimensionality between 1 and 3 and an exclusive upper bound per
// axis. All axes begin at zero.
type Space struct {
	dims int
	size Index
}

// New1D returns a 1-d space with indexes [0, nx).
func New1D(nx int64) Space { return newSpace(1, Index{nx, 0, 0}) }

// New2D returns a 2-d space with indexes [0, nx) x [0, ny).
func New2D(nx, ny int64) Space { return newSpace(2, Index{nx, ny, 0}) }

// New3D returns a 3-d space with indexes [0, nx) x [0, ny) x [0, nz).
func New3D(nx, ny, nz int64) Space { return newSpace(3, Index{nx, ny, nz}) }

func newSpace(dims int, size Index) Space {
	for d := 0; d < dims; d++ {
		if size[d] < 0 {
			panic(fmt.Sprintf("space: negative bound %d on axis %d", size[d], d))
		}
	}
	return Space{dims: dims, size: size}
}

// Dims returns the space's dimensionality.
func (s Space) Dims() int { return s.dims }

// Extent returns the exclusive upper bound of axis d.
func (s Space) Extent(d int) int64 { return s.size[d] }

// Size returns the total number of indexes in the space.
func (s Space) Size() int64 {
	n := int64(1)
	for d := 0; d < s.dims; d++ {
		n *= s.size[d]
	}
	return n
}

// All returns the slice covering the whole space.
func (s Space) All() Slice {
	return Slice{Dims: s.dims, To: s.size}
}

// Contains tells whether slc lies entirely within the space.
func (s Space) Contains(slc Slice) bool {
	if slc.Dims != s.dims {
		return false
	}
	for d := 0; d < s.dims; d++ {
		if slc.From[d] < 0 || slc.To[d] > s.size[d] {
			return false
		}
	}
	return true
}

func (s Space) String() string {
	switch s.dims {
	case 1:
		return fmt.Sprintf("space[%d]", s.size[0])
	case 2:
		return fmt.Sprintf("space[%dx%d]", s.size[0], s.size[1])
	default:
		return fmt.Sprintf("space[%dx%dx%d]", s.size[0], s.size[1], s.size[2])
	}
}
