// Copyright 2024-2026 The GraphFuse Authors. SPDX-License-Identifier: Apache-2.0

package ir

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttrTypedAccess(t *testing.T) {
	a := IntAttr(7)
	v, err := a.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	// Reading with the wrong tag fails with ErrInvalidArgument.
	_, err = a.Float()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = a.Strs()
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	f := FloatAttr(0.5)
	fv, err := f.Float()
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), fv)

	s := StringAttr("NCX")
	sv, err := s.Str()
	require.NoError(t, err)
	assert.Equal(t, "NCX", sv)

	ints := IntsAttr(1, 2, 3)
	iv, err := ints.Ints()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, iv)
}

func TestAttrEqual(t *testing.T) {
	assert.True(t, IntAttr(1).Equal(IntAttr(1)))
	assert.False(t, IntAttr(1).Equal(IntAttr(2)))
	assert.False(t, IntAttr(1).Equal(FloatAttr(1)))
	assert.True(t, IntsAttr(1, 2).Equal(IntsAttr(1, 2)))
	assert.False(t, IntsAttr(1, 2).Equal(IntsAttr(2, 1)))
	assert.True(t, StringsAttr("a", "b").Equal(StringsAttr("a", "b")))
	assert.False(t, BoolAttr(true).Equal(BoolAttr(false)))
}

func TestAttrListIsCloned(t *testing.T) {
	dims := []int64{1, 1}
	a := IntsAttr(dims...)
	dims[0] = 99
	got, err := a.Ints()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, got)
}

func TestOpAttrAccess(t *testing.T) {
	op := NewOp(0, Convolution, "conv")
	op.SetAttr("groups", IntAttr(1))
	op.SetAttr("epsilon", FloatAttr(0.001))

	g, err := op.IntAttr("groups")
	require.NoError(t, err)
	assert.Equal(t, int64(1), g)

	_, err = op.IntAttr("epsilon")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = op.IntAttr("missing")
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	kind, err := op.AttrKindOf("epsilon")
	require.NoError(t, err)
	assert.Equal(t, AttrFloat32, kind)
}
