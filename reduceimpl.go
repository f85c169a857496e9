// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"math"
	"reflect"
	"unsafe"

	"github.com/grailbio/base/must"
)

// The reducers below view raw mapping memory as typed slices. The
// byte slices come from mapping allocations or receive staging
// buffers, always sized in whole elements.

func float64s(p []byte, n int) (s []float64) {
	h := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	h.Data = uintptr(unsafe.Pointer(&p[0]))
	h.Len, h.Cap = n, n
	return
}

func float32s(p []byte, n int) (s []float32) {
	h := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	h.Data = uintptr(unsafe.Pointer(&p[0]))
	h.Len, h.Cap = n, n
	return
}

func int32s(p []byte, n int) (s []int32) {
	h := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	h.Data = uintptr(unsafe.Pointer(&p[0]))
	h.Len, h.Cap = n, n
	return
}

func int64s(p []byte, n int) (s []int64) {
	h := (*reflect.SliceHeader)(unsafe.Pointer(&s))
	h.Data = uintptr(unsafe.Pointer(&p[0]))
	h.Len, h.Cap = n, n
	return
}

func reduceFloat64(op ReduceOp, dst, a, b []byte, n int) {
	d, x, y := float64s(dst, n), float64s(a, n), float64s(b, n)
	switch op {
	case OpNone:
		copy(d, y)
	case OpSum:
		for i := 0; i < n; i++ {
			d[i] = x[i] + y[i]
		}
	case OpProd:
		for i := 0; i < n; i++ {
			d[i] = x[i] * y[i]
		}
	case OpMin:
		for i := 0; i < n; i++ {
			if x[i] < y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	case OpMax:
		for i := 0; i < n; i++ {
			if x[i] > y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	default:
		must.True(false, "float64: bad reduction op ", op)
	}
}

func initFloat64(op ReduceOp, dst []byte, n int) {
	d := float64s(dst, n)
	v := identityFloat64(op)
	for i := range d {
		d[i] = v
	}
}

func identityFloat64(op ReduceOp) float64 {
	switch op {
	case OpSum:
		return 0
	case OpProd:
		return 1
	case OpMin:
		return math.MaxFloat64
	case OpMax:
		return -math.MaxFloat64
	}
	must.True(false, "float64: no identity for op ", op)
	return 0
}

func reduceFloat32(op ReduceOp, dst, a, b []byte, n int) {
	d, x, y := float32s(dst, n), float32s(a, n), float32s(b, n)
	switch op {
	case OpNone:
		copy(d, y)
	case OpSum:
		for i := 0; i < n; i++ {
			d[i] = x[i] + y[i]
		}
	case OpProd:
		for i := 0; i < n; i++ {
			d[i] = x[i] * y[i]
		}
	case OpMin:
		for i := 0; i < n; i++ {
			if x[i] < y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	case OpMax:
		for i := 0; i < n; i++ {
			if x[i] > y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	default:
		must.True(false, "float32: bad reduction op ", op)
	}
}

func initFloat32(op ReduceOp, dst []byte, n int) {
	d := float32s(dst, n)
	var v float32
	switch op {
	case OpSum:
		v = 0
	case OpProd:
		v = 1
	case OpMin:
		v = math.MaxFloat32
	case OpMax:
		v = -math.MaxFloat32
	default:
		must.True(false, "float32: no identity for op ", op)
	}
	for i := range d {
		d[i] = v
	}
}

func reduceInt32(op ReduceOp, dst, a, b []byte, n int) {
	d, x, y := int32s(dst, n), int32s(a, n), int32s(b, n)
	switch op {
	case OpNone:
		copy(d, y)
	case OpSum:
		for i := 0; i < n; i++ {
			d[i] = x[i] + y[i]
		}
	case OpProd:
		for i := 0; i < n; i++ {
			d[i] = x[i] * y[i]
		}
	case OpMin:
		for i := 0; i < n; i++ {
			if x[i] < y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	case OpMax:
		for i := 0; i < n; i++ {
			if x[i] > y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	default:
		must.True(false, "int32: bad reduction op ", op)
	}
}

func initInt32(op ReduceOp, dst []byte, n int) {
	d := int32s(dst, n)
	var v int32
	switch op {
	case OpSum:
		v = 0
	case OpProd:
		v = 1
	case OpMin:
		v = math.MaxInt32
	case OpMax:
		v = math.MinInt32
	default:
		must.True(false, "int32: no identity for op ", op)
	}
	for i := range d {
		d[i] = v
	}
}

func reduceInt64(op ReduceOp, dst, a, b []byte, n int) {
	d, x, y := int64s(dst, n), int64s(a, n), int64s(b, n)
	switch op {
	case OpNone:
		copy(d, y)
	case OpSum:
		for i := 0; i < n; i++ {
			d[i] = x[i] + y[i]
		}
	case OpProd:
		for i := 0; i < n; i++ {
			d[i] = x[i] * y[i]
		}
	case OpMin:
		for i := 0; i < n; i++ {
			if x[i] < y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	case OpMax:
		for i := 0; i < n; i++ {
			if x[i] > y[i] {
				d[i] = x[i]
			} else {
				d[i] = y[i]
			}
		}
	default:
		must.True(false, "int64: bad reduction op ", op)
	}
}

func initInt64(op ReduceOp, dst []byte, n int) {
	d := int64s(dst, n)
	var v int64
	switch op {
	case OpSum:
		v = 0
	case OpProd:
		v = 1
	case OpMin:
		v = math.MaxInt64
	case OpMax:
		v = math.MinInt64
	default:
		must.True(false, "int64: no identity for op ", op)
	}
	for i := range d {
		d[i] = v
	}
}
