// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Bigpart-exchange is a small driver for the bigpart TCP backend: N
// processes bootstrap through a home process, fill a block-partitioned
// double container, rotate the blocks one rank to the left, and check
// what arrived. Start the same binary N times, e.g.:
//
//	BIGPART_SIZE=3 bigpart-exchange &
//	bigpart-exchange &
//	bigpart-exchange
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigpart"
	"github.com/grailbio/bigpart/space"
	"github.com/grailbio/bigpart/tcp"
)

func main() {
	var (
		size       = flag.Int("size", 0, "world size (home process only; default $BIGPART_SIZE)")
		homeHost   = flag.String("host", "", "home host (default $BIGPART_HOST or localhost)")
		homePort   = flag.Int("port", 0, "home port (default $BIGPART_PORT or 7777)")
		elems      = flag.Int64("elems", 16, "container elements per process")
		consoleVar = flag.Bool("status", false, "display transition status on stdout")
	)
	log.AddFlags()
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: bigpart-exchange [flags]

Bigpart-exchange bootstraps a bigpart world over TCP and rotates a
block-partitioned container across all processes once.
`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()

	b, err := tcp.Start(tcp.Options{
		HomeHost:  *homeHost,
		HomePort:  *homePort,
		WorldSize: *size,
	})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	inst := bigpart.NewInstance(b, b.WorldSize(), b.MyLID(), fmt.Sprintf("exchange:%d", b.MyLID()))
	bigpart.Register(inst)
	defer inst.Finalize()

	var stat status.Status
	group := stat.Group("bigpart-exchange")
	if *consoleVar {
		var console status.Reporter
		go console.Go(os.Stdout, &stat)
	}

	world := inst.World()
	n := int64(world.Size())
	sp := space.New1D(n * *elems)
	c := inst.NewContainer(world, sp, bigpart.Float64)

	task := group.Start("fill")
	blocks, err := bigpart.BlockPartitioning(world, sp, bigpart.ReadWrite, bigpart.OpNone)
	must.Nil(err)
	must.Nil(c.SetPartitioning(blocks))
	vals := c.Float64s()
	base := c.Mapping().Required().From[0]
	for i := range vals {
		vals[i] = float64(base) + float64(i)
	}
	task.Done()

	task = group.Start("rotate")
	rotated := bigpart.NewPartitioning(world, sp)
	for rank := int64(0); rank < n; rank++ {
		from := ((rank + 1) % n) * *elems
		rotated.Add(int(rank), space.Slice1D(from, from+*elems), bigpart.ReadWrite, bigpart.OpNone)
	}
	must.Nil(rotated.Update())
	must.Nil(c.SetPartitioning(rotated))
	task.Done()

	task = group.Start("verify")
	got := c.Float64s()
	base = c.Mapping().Required().From[0]
	for i := range got {
		want := float64(base) + float64(i)
		if got[i] != want {
			log.Fatalf("element %d: got %v, want %v", i, got[i], want)
		}
	}
	task.Done()

	st := c.Stats()
	log.Printf("lid %d: ok (%d transitions, %d sends, %d recvs)",
		b.MyLID(), st.Transitions, st.Sends, st.Recvs)
}
