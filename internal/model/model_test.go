package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreFileByPathIsIdempotent(t *testing.T) {
	s := NewStore()
	a := s.FileByPath("mod/a.c")
	b := s.FileByPath("mod/a.c")
	assert.Same(t, a, b)
	assert.Len(t, s.Files, 1)
}

func TestAddTagWiresBothSides(t *testing.T) {
	s := NewStore()
	f := s.FileByPath("a.c")
	rev := &Revision{Rev: "1.2", File: f}
	f.Revisions["1.2"] = rev

	tag := s.AddTag(f, "REL1", rev)

	assert.Equal(t, rev, f.Symbols["REL1"])
	assert.Contains(t, rev.Tags, tag)
	sym := s.Symbols["REL1"]
	assert.Contains(t, sym.Tags, tag)
	assert.Same(t, sym, tag.Sym)
}

func TestPatchSetRangeContains(t *testing.T) {
	r := PatchSetRange{Min: 5, Max: 10}
	assert.True(t, r.Contains(5))
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(4))
	assert.False(t, r.Contains(11))

	unbounded := PatchSetRange{Min: 5}
	assert.True(t, unbounded.Contains(1000))
	assert.False(t, unbounded.Contains(4))
}

func TestTagFlagString(t *testing.T) {
	assert.Equal(t, "ok", TagOK.String())
	assert.Equal(t, "funky", TagFunky.String())
	assert.Equal(t, "invalid", (TagFunky | TagInvalid).String())
	assert.Equal(t, "invalid(forced)", TagInvalidForced.String())
}
