// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

import (
	"github.com/grailbio/base/must"
)

// Kind discriminates plain-old-data types from reducible ones.
// Reducible types carry an element-wise reduction and per-op identity
// initializers; plain-old-data types have neither.
type Kind int

const (
	// POD is a plain-old-data type: bytes are moved, never combined.
	POD Kind = iota
	// Reducible types support element-wise reduction.
	Reducible
)

// ReduceOp names an element-wise reduction operation.
type ReduceOp int

const (
	// OpNone overwrites the destination with the incoming value.
	OpNone ReduceOp = iota
	OpSum
	OpProd
	OpMin
	OpMax
)

var opNames = [...]string{
	OpNone: "none",
	OpSum:  "sum",
	OpProd: "prod",
	OpMin:  "min",
	OpMax:  "max",
}

func (op ReduceOp) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "invalid"
	}
	return opNames[op]
}

// A ReduceFunc combines n elements of a and b element-wise into dst.
// dst may alias a (the in-place convention); implementations must
// produce correct output regardless.
type ReduceFunc func(op ReduceOp, dst, a, b []byte, n int)

// An InitFunc writes n copies of op's identity value into dst.
type InitFunc func(op ReduceOp, dst []byte, n int)

// A Type describes the values stored in a container: a name, a kind,
// and the element size in bytes. Reducible types additionally carry
// their reduction and identity initializer.
type Type struct {
	name   string
	kind   Kind
	size   int
	reduce ReduceFunc
	init   InitFunc
}

// Builtin element types. The numeric types are reducible; Char moves
// raw bytes only.
var (
	Char    = NewType("char", POD, 1)
	Int32   = newReducibleType("int32", 4, reduceInt32, initInt32)
	Int64   = newReducibleType("int64", 8, reduceInt64, initInt64)
	Float32 = newReducibleType("float32", 4, reduceFloat32, initFloat32)
	Float64 = newReducibleType("float64", 8, reduceFloat64, initFloat64)
)

// NewType returns a type with the given name, kind, and element
// size, and no reduction; reducible types attach one through
// NewReducibleType.
func NewType(name string, kind Kind, size int) *Type {
	must.True(size > 0, "type ", name, ": zero element size")
	return &Type{name: name, kind: kind, size: size}
}

// NewReducibleType returns a reducible type with the given element
// size, reduction, and identity initializer.
func NewReducibleType(name string, size int, reduce ReduceFunc, init InitFunc) *Type {
	return newReducibleType(name, size, reduce, init)
}

func newReducibleType(name string, size int, reduce ReduceFunc, init InitFunc) *Type {
	must.True(size > 0, "type ", name, ": zero element size")
	must.True(reduce != nil && init != nil, "type ", name, ": missing reduce or init")
	return &Type{name: name, kind: Reducible, size: size, reduce: reduce, init: init}
}

// Name returns the type's name.
func (t *Type) Name() string { return t.name }

// Kind returns the type's kind.
func (t *Type) Kind() Kind { return t.kind }

// Size returns the element size in bytes.
func (t *Type) Size() int { return t.size }

// Reduce combines n elements of a and b into dst. dst == a is
// permitted. Reduce panics for plain-old-data types.
func (t *Type) Reduce(op ReduceOp, dst, a, b []byte, n int) {
	must.True(t.reduce != nil, "type ", t.name, " is not reducible")
	t.reduce(op, dst, a, b, n)
}

// Init writes n identity values for op into dst. Init panics for
// plain-old-data types.
func (t *Type) Init(op ReduceOp, dst []byte, n int) {
	must.True(t.init != nil, "type ", t.name, " is not reducible")
	t.init(op, dst, n)
}

func (t *Type) String() string { return t.name }
