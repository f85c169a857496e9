// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigpart

// Element accessors for code that addresses mapping memory through
// Mapping.At. Values use the platform's native representation, the
// same one the reducers and the wire encoding see.

// PutFloat64 stores v into the element bytes b.
func PutFloat64(b []byte, v float64) { float64s(b, 1)[0] = v }

// GetFloat64 reads the element bytes b.
func GetFloat64(b []byte) float64 { return float64s(b, 1)[0] }

// PutInt64 stores v into the element bytes b.
func PutInt64(b []byte, v int64) { int64s(b, 1)[0] = v }

// GetInt64 reads the element bytes b.
func GetInt64(b []byte) int64 { return int64s(b, 1)[0] }
