package revnum

import "testing"

import "github.com/stretchr/testify/assert"

func TestBranchOf(t *testing.T) {
	b, ok := BranchOf("1.4.2.1")
	assert.True(t, ok)
	assert.Equal(t, "1.4.2", b)

	_, ok = BranchOf("1")
	assert.False(t, ok)
}

func TestLeafOf(t *testing.T) {
	n, err := LeafOf("1.4.2.7")
	assert.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestIsVendorBranch(t *testing.T) {
	assert.True(t, IsVendorBranch("1.1.1"))
	assert.False(t, IsVendorBranch("1.1.1.1"))
	assert.False(t, IsVendorBranch("1.2"))
}

func TestMagicBranchOf(t *testing.T) {
	branch, ok := MagicBranchOf("1.4.0.2")
	assert.True(t, ok)
	assert.Equal(t, "1.4.2", branch)

	branch, ok = MagicBranchOf("1.0.3")
	assert.True(t, ok)
	assert.Equal(t, "1.3", branch)

	_, ok = MagicBranchOf("1.4.2.1")
	assert.False(t, ok)
}

func TestRevisionAffectsBranchHead(t *testing.T) {
	assert.True(t, RevisionAffectsBranch("1.4", "HEAD", nil))
	assert.False(t, RevisionAffectsBranch("1.4.2.1", "HEAD", nil))
}

func TestRevisionAffectsBranchNamed(t *testing.T) {
	lookup := func(name string) (string, bool) {
		if name == "FEATURE" {
			return "1.4.2", true
		}
		return "", false
	}
	assert.True(t, RevisionAffectsBranch("1.4.2.3", "FEATURE", lookup))
	assert.False(t, RevisionAffectsBranch("1.5.2.3", "FEATURE", lookup))
	assert.False(t, RevisionAffectsBranch("1.4.2.3", "UNKNOWN", lookup))
}
