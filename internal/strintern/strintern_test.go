package strintern

import "testing"

import "github.com/stretchr/testify/assert"

func TestInternReturnsSamePointer(t *testing.T) {
	p := NewPool()
	a := p.Intern("alice")
	b := p.Intern("alice")
	assert.Same(t, a, b)
	assert.Equal(t, "alice", *a)
}

func TestInternDistinguishesStrings(t *testing.T) {
	p := NewPool()
	a := p.Intern("alice")
	b := p.Intern("bob")
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, p.Len())
}

func TestZeroValuePool(t *testing.T) {
	var p Pool
	s := p.Intern("x")
	assert.Equal(t, "x", *s)
}
