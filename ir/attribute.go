// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// AttrKind is the tag of an attribute value.
type AttrKind int

const (
	AttrInt64 AttrKind = iota
	AttrFloat32
	AttrBool
	AttrString
	AttrInt64s
	AttrFloat32s
	AttrBools
	AttrStrings
)

// String returns the name of the attribute kind.
func (k AttrKind) String() string {
	switch k {
	case AttrInt64:
		return "i64"
	case AttrFloat32:
		return "f32"
	case AttrBool:
		return "bool"
	case AttrString:
		return "string"
	case AttrInt64s:
		return "i64s"
	case AttrFloat32s:
		return "f32s"
	case AttrBools:
		return "bools"
	case AttrStrings:
		return "strings"
	default:
		return "unknown"
	}
}

// Attr is a tagged attribute value. The zero Attr carries the i64 tag but
// holds no value, so it is not a usable attribute; build attributes with the
// constructors below. Typed reads with the wrong tag fail with
// ErrInvalidArgument.
type Attr struct {
	kind  AttrKind
	value any
}

// IntAttr creates an i64 attribute.
func IntAttr(v int64) Attr { return Attr{AttrInt64, v} }

// FloatAttr creates an f32 attribute.
func FloatAttr(v float32) Attr { return Attr{AttrFloat32, v} }

// BoolAttr creates a bool attribute.
func BoolAttr(v bool) Attr { return Attr{AttrBool, v} }

// StringAttr creates a string attribute.
func StringAttr(v string) Attr { return Attr{AttrString, v} }

// IntsAttr creates an i64-list attribute. The slice is cloned.
func IntsAttr(v ...int64) Attr { return Attr{AttrInt64s, slices.Clone(v)} }

// FloatsAttr creates an f32-list attribute. The slice is cloned.
func FloatsAttr(v ...float32) Attr { return Attr{AttrFloat32s, slices.Clone(v)} }

// BoolsAttr creates a bool-list attribute. The slice is cloned.
func BoolsAttr(v ...bool) Attr { return Attr{AttrBools, slices.Clone(v)} }

// StringsAttr creates a string-list attribute. The slice is cloned.
func StringsAttr(v ...string) Attr { return Attr{AttrStrings, slices.Clone(v)} }

// Kind returns the tag of the attribute.
func (a Attr) Kind() AttrKind { return a.kind }

func attrKindError(want, got AttrKind) error {
	return errors.Wrapf(ErrInvalidArgument, "attribute holds %s, read as %s", got, want)
}

// Int returns the i64 value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Int() (int64, error) {
	if a.kind != AttrInt64 {
		return 0, attrKindError(AttrInt64, a.kind)
	}
	return a.value.(int64), nil
}

// Float returns the f32 value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Float() (float32, error) {
	if a.kind != AttrFloat32 {
		return 0, attrKindError(AttrFloat32, a.kind)
	}
	return a.value.(float32), nil
}

// Bool returns the bool value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Bool() (bool, error) {
	if a.kind != AttrBool {
		return false, attrKindError(AttrBool, a.kind)
	}
	return a.value.(bool), nil
}

// Str returns the string value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Str() (string, error) {
	if a.kind != AttrString {
		return "", attrKindError(AttrString, a.kind)
	}
	return a.value.(string), nil
}

// Ints returns the i64-list value, or ErrInvalidArgument on a tag mismatch.
// The returned slice is owned by the attribute and must not be modified.
func (a Attr) Ints() ([]int64, error) {
	if a.kind != AttrInt64s {
		return nil, attrKindError(AttrInt64s, a.kind)
	}
	return a.value.([]int64), nil
}

// Floats returns the f32-list value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Floats() ([]float32, error) {
	if a.kind != AttrFloat32s {
		return nil, attrKindError(AttrFloat32s, a.kind)
	}
	return a.value.([]float32), nil
}

// Bools returns the bool-list value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Bools() ([]bool, error) {
	if a.kind != AttrBools {
		return nil, attrKindError(AttrBools, a.kind)
	}
	return a.value.([]bool), nil
}

// Strs returns the string-list value, or ErrInvalidArgument on a tag mismatch.
func (a Attr) Strs() ([]string, error) {
	if a.kind != AttrStrings {
		return nil, attrKindError(AttrStrings, a.kind)
	}
	return a.value.([]string), nil
}

// MustInt is like Int but panics on a tag mismatch.
func (a Attr) MustInt() int64 {
	v, err := a.Int()
	if err != nil {
		exceptions.Panicf("Attr.MustInt: %v", err)
	}
	return v
}

// MustFloat is like Float but panics on a tag mismatch.
func (a Attr) MustFloat() float32 {
	v, err := a.Float()
	if err != nil {
		exceptions.Panicf("Attr.MustFloat: %v", err)
	}
	return v
}

// MustStr is like Str but panics on a tag mismatch.
func (a Attr) MustStr() string {
	v, err := a.Str()
	if err != nil {
		exceptions.Panicf("Attr.MustStr: %v", err)
	}
	return v
}

// MustInts is like Ints but panics on a tag mismatch.
func (a Attr) MustInts() []int64 {
	v, err := a.Ints()
	if err != nil {
		exceptions.Panicf("Attr.MustInts: %v", err)
	}
	return v
}

// Equal reports whether a and b hold the same tag and the same value, with
// deep comparison for list tags.
func (a Attr) Equal(b Attr) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case AttrInt64s:
		return slices.Equal(a.value.([]int64), b.value.([]int64))
	case AttrFloat32s:
		return slices.Equal(a.value.([]float32), b.value.([]float32))
	case AttrBools:
		return slices.Equal(a.value.([]bool), b.value.([]bool))
	case AttrStrings:
		return slices.Equal(a.value.([]string), b.value.([]string))
	default:
		return a.value == b.value
	}
}

// String implements fmt.Stringer.
func (a Attr) String() string {
	return fmt.Sprintf("%s{%v}", a.kind, a.value)
}
