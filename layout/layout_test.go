// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package layout

import (
	"bytes"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/grailbio/bigpart/space"
)

func TestDenseOffset(t *testing.T) {
	l := NewDense(space.Slice2D(2, 6, 1, 4))
	// Allocation is 4x3; axis 0 varies fastest.
	for _, c := range []struct {
		idx space.Index
		off int64
	}{
		{space.Idx2(2, 1), 0},
		{space.Idx2(3, 1), 1},
		{space.Idx2(2, 2), 4},
		{space.Idx2(5, 3), 11},
	} {
		if got := l.Offset(c.idx); got != c.off {
			t.Errorf("offset(%v): got %d, want %d", c.idx, got, c.off)
		}
	}
}

func TestDenseOffsetTraversal(t *testing.T) {
	box := space.Slice3D(0, 3, 2, 5, 1, 3)
	l := NewDense(box)
	idx := box.From
	want := int64(0)
	for {
		if got := l.Offset(idx); got != want {
			t.Fatalf("offset(%v): got %d, want %d", idx, got, want)
		}
		want++
		if !box.NextLex(&idx) {
			break
		}
	}
	if want != box.Size() {
		t.Errorf("traversed %d offsets, want %d", want, box.Size())
	}
}

// Pack then unpack into a fresh allocation with identical layout and
// slice reproduces the source bytes for that slice, including when
// the transfer buffer forces partial progress.
func TestPackUnpackRoundTrip(t *testing.T) {
	const elemSize = 8
	box := space.Slice2D(0, 8, 0, 8)
	slc := space.Slice2D(2, 7, 3, 6)
	l := NewDense(box)

	src := make([]byte, box.Size()*elemSize)
	for i := range src {
		src[i] = byte(i * 7)
	}
	dst := make([]byte, box.Size()*elemSize)

	for _, bufLen := range []int{elemSize, 3 * elemSize, 1 << 16} {
		for i := range dst {
			dst[i] = 0
		}
		buf := make([]byte, bufLen)
		packIdx, unpackIdx := slc.From, slc.From
		for packIdx != slc.To {
			n := l.Pack(src, elemSize, slc, &packIdx, buf)
			if n == 0 {
				t.Fatalf("buflen %d: pack made no progress", bufLen)
			}
			consumed := l.Unpack(dst, elemSize, slc, &unpackIdx, buf[:n])
			if consumed != n {
				t.Fatalf("buflen %d: unpacked %d of %d bytes", bufLen, consumed, n)
			}
		}
		if unpackIdx != slc.To {
			t.Fatalf("buflen %d: unpack cursor at %v, want %v", bufLen, unpackIdx, slc.To)
		}

		idx := slc.From
		for {
			off := l.Offset(idx) * elemSize
			if !bytes.Equal(src[off:off+elemSize], dst[off:off+elemSize]) {
				t.Fatalf("buflen %d: element %v differs", bufLen, idx)
			}
			if !slc.NextLex(&idx) {
				break
			}
		}
		// Elements outside the slice must be untouched.
		outside := space.Idx2(0, 0)
		off := l.Offset(outside) * elemSize
		for _, b := range dst[off : off+elemSize] {
			if b != 0 {
				t.Fatalf("buflen %d: element outside slice written", bufLen)
			}
		}
	}
}

func TestPackUnpackFuzz(t *testing.T) {
	const elemSize = 4
	fz := fuzz.New()
	var raw [7]uint8
	for iter := 0; iter < 200; iter++ {
		fz.Fuzz(&raw)
		dims := 1 + int(raw[0])%3
		box := space.Slice{Dims: dims}
		slc := space.Slice{Dims: dims}
		for d := 0; d < dims; d++ {
			box.To[d] = 1 + int64(raw[1+d]%8)
			from := int64(raw[4+(d+1)%3] % 8)
			to := int64(raw[4+d%3] % 9)
			if from > box.To[d] {
				from = box.To[d]
			}
			if to > box.To[d] {
				to = box.To[d]
			}
			if to < from {
				from, to = to, from
			}
			slc.From[d], slc.To[d] = from, to
		}
		if slc.IsEmpty() {
			continue
		}
		l := NewDense(box)
		src := make([]byte, box.Size()*elemSize)
		for i := range src {
			src[i] = byte(i*13 + iter)
		}
		dst := make([]byte, box.Size()*elemSize)
		buf := make([]byte, 2*elemSize+1)
		packIdx, unpackIdx := slc.From, slc.From
		for packIdx != slc.To {
			n := l.Pack(src, elemSize, slc, &packIdx, buf)
			if l.Unpack(dst, elemSize, slc, &unpackIdx, buf[:n]) != n {
				t.Fatal("unpack consumed fewer bytes than packed")
			}
		}
		idx := slc.From
		for {
			off := l.Offset(idx) * elemSize
			if !bytes.Equal(src[off:off+elemSize], dst[off:off+elemSize]) {
				t.Fatalf("element %v differs (box %s slc %s)", idx, box, slc)
			}
			if !slc.NextLex(&idx) {
				break
			}
		}
	}
}
