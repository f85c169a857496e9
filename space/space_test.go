// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package space

import (
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestSliceSize(t *testing.T) {
	for _, c := range []struct {
		slc  Slice
		size int64
	}{
		{Slice1D(0, 8), 8},
		{Slice1D(3, 3), 0},
		{Slice1D(5, 3), 0},
		{Slice2D(0, 4, 0, 2), 8},
		{Slice3D(0, 2, 0, 3, 0, 4), 24},
		{Slice3D(1, 2, 1, 1, 0, 4), 0},
	} {
		if got := c.slc.Size(); got != c.size {
			t.Errorf("%s: size %d, want %d", c.slc, got, c.size)
		}
	}
}

func TestIntersect(t *testing.T) {
	a := Slice1D(0, 4)
	b := Slice1D(2, 8)
	i, ok := Intersect(a, b)
	if !ok || i != Slice1D(2, 4) {
		t.Errorf("got %v, want [2;4)", i)
	}
	if _, ok := Intersect(Slice1D(0, 4), Slice1D(4, 8)); ok {
		t.Error("adjacent slices should not intersect")
	}
	i, ok = Intersect(Slice2D(0, 4, 0, 4), Slice2D(2, 6, 3, 8))
	if !ok || i != Slice2D(2, 4, 3, 4) {
		t.Errorf("got %v, want [2/3;4/4)", i)
	}
}

func TestNextLex(t *testing.T) {
	slc := Slice2D(1, 3, 4, 6)
	var got []Index
	idx := slc.From
	for {
		got = append(got, idx)
		if !slc.NextLex(&idx) {
			break
		}
	}
	want := []Index{Idx2(1, 4), Idx2(2, 4), Idx2(1, 5), Idx2(2, 5)}
	if len(got) != len(want) {
		t.Fatalf("traversed %d indexes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("step %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if int64(len(got)) != slc.Size() {
		t.Errorf("traversal length %d != size %d", len(got), slc.Size())
	}
}

func TestSpaceContains(t *testing.T) {
	sp := New2D(8, 4)
	if !sp.Contains(Slice2D(0, 8, 0, 4)) {
		t.Error("space should contain its own extent")
	}
	if sp.Contains(Slice2D(0, 9, 0, 4)) {
		t.Error("slice exceeding axis 0 accepted")
	}
	if sp.Contains(Slice2D(-1, 4, 0, 4)) {
		t.Error("negative from accepted")
	}
}

// Fuzzed laws: traversal count equals Size, and intersection is
// symmetric, contained in both operands, and sized consistently.
func TestSliceFuzz(t *testing.T) {
	fz := fuzz.New()
	var raw [4]uint8
	for iter := 0; iter < 1000; iter++ {
		fz.Fuzz(&raw)
		dims := 1 + int(raw[0])%3
		a, b := Slice{Dims: dims}, Slice{Dims: dims}
		for d := 0; d < dims; d++ {
			var bounds [4]uint8
			fz.Fuzz(&bounds)
			a.From[d], a.To[d] = int64(bounds[0]%16), int64(bounds[1]%16)
			b.From[d], b.To[d] = int64(bounds[2]%16), int64(bounds[3]%16)
		}

		if !a.IsEmpty() {
			n := int64(1)
			idx := a.From
			for a.NextLex(&idx) {
				n++
			}
			if n != a.Size() {
				t.Fatalf("%s: traversed %d, size %d", a, n, a.Size())
			}
		}

		i1, ok1 := Intersect(a, b)
		i2, ok2 := Intersect(b, a)
		if ok1 != ok2 || (ok1 && i1 != i2) {
			t.Fatalf("intersect not symmetric: %s %s", a, b)
		}
		if ok1 {
			if !a.ContainsSlice(i1) || !b.ContainsSlice(i1) {
				t.Fatalf("intersection %s not contained in %s and %s", i1, a, b)
			}
			if i1.IsEmpty() {
				t.Fatalf("nonempty intersection reported empty: %s", i1)
			}
		}
	}
}
