// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package collective

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestMemSendRecv(t *testing.T) {
	hub := NewHub(2)
	var g errgroup.Group
	g.Go(func() error {
		tp := hub.Transport(0)
		return tp.Send(1, []byte("hello"))
	})
	g.Go(func() error {
		tp := hub.Transport(1)
		buf := make([]byte, 16)
		n, err := tp.Recv(0, buf)
		if err != nil {
			return err
		}
		if string(buf[:n]) != "hello" {
			return fmt.Errorf("got %q", buf[:n])
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func sum64(dst, a, b []byte, n int) {
	for i := 0; i < n; i++ {
		av := int64(a[i*8])
		bv := int64(b[i*8])
		dst[i*8] = byte(av + bv)
	}
}

// All-reduce deposits the combined value at every rank; rooted reduce
// only at the root.
func TestMemReduce(t *testing.T) {
	for _, root := range []int{-1, 1} {
		hub := NewHub(3)
		var g errgroup.Group
		for rank := 0; rank < 3; rank++ {
			rank := rank
			g.Go(func() error {
				tp := hub.Transport(rank)
				in := make([]byte, 2*8)
				in[0], in[8] = byte(1<<uint(rank)), byte(10<<uint(rank))
				out := make([]byte, 2*8)
				if err := tp.Reduce(root, in, out, 8, sum64); err != nil {
					return err
				}
				if root >= 0 && rank != root {
					return nil
				}
				if out[0] != 7 || out[8] != 70 {
					return fmt.Errorf("root %d rank %d: got %d/%d, want 7/70", root, rank, out[0], out[8])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
	}
}

// In-place convention: out aliasing in still produces the correct
// result at the gatherer.
func TestMemReduceInPlace(t *testing.T) {
	hub := NewHub(2)
	var g errgroup.Group
	for rank := 0; rank < 2; rank++ {
		rank := rank
		g.Go(func() error {
			tp := hub.Transport(rank)
			buf := make([]byte, 8)
			buf[0] = byte(3 + rank)
			if err := tp.Reduce(-1, buf, buf, 8, sum64); err != nil {
				return err
			}
			if buf[0] != 7 {
				return fmt.Errorf("rank %d: got %d, want 7", rank, buf[0])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// A split transport renumbers ranks and routes between the members
// only.
func TestMemSplit(t *testing.T) {
	hub := NewHub(3)
	var g errgroup.Group
	for rank := 0; rank < 3; rank++ {
		rank := rank
		g.Go(func() error {
			tp := hub.Transport(rank)
			sub, err := tp.Split([]int{0, 2})
			if err != nil {
				return err
			}
			switch rank {
			case 1:
				if sub != nil {
					return fmt.Errorf("rank 1: expected nil transport after split")
				}
			case 0:
				if sub.Rank() != 0 || sub.Size() != 2 {
					return fmt.Errorf("rank 0: got rank %d size %d", sub.Rank(), sub.Size())
				}
				return sub.Send(1, []byte{42})
			case 2:
				if sub.Rank() != 1 {
					return fmt.Errorf("rank 2: got sub rank %d", sub.Rank())
				}
				buf := make([]byte, 1)
				if _, err := sub.Recv(0, buf); err != nil {
					return err
				}
				if buf[0] != 42 {
					return fmt.Errorf("rank 2: got %d", buf[0])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
