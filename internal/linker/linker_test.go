package linker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvsps/cvsps-go/internal/model"
)

func newFileWithRev(path, rev string, dead bool) (*model.File, *model.Revision) {
	f := model.NewFile(path)
	r := &model.Revision{Rev: rev, File: f, Branch: "HEAD", Dead: dead}
	f.Revisions[rev] = r
	return f, r
}

func TestLinkNilPrevIsNoop(t *testing.T) {
	assert.NotPanics(t, func() { Link(nil, nil) })
}

func TestLinkSameBranchSetsPreRev(t *testing.T) {
	f := model.NewFile("a.c")
	r12 := &model.Revision{Rev: "1.2", File: f, Branch: "HEAD"}
	r11 := &model.Revision{Rev: "1.1", File: f, Branch: "HEAD"}
	f.Revisions["1.2"] = r12
	f.Revisions["1.1"] = r11
	member := &model.PatchSetMember{File: f, PostRev: r12}

	Link(member, r11)

	assert.Same(t, r11, member.PreRev)
	assert.Same(t, member, r11.PrePSM)
}

func TestLinkFirstOnBranchFindsPredecessor(t *testing.T) {
	f := model.NewFile("a.c")
	trunk := &model.Revision{Rev: "1.4", File: f, Branch: "HEAD"}
	f.Revisions["1.4"] = trunk
	branchRev := &model.Revision{Rev: "1.4.2.1", File: f, Branch: "FEATURE"}
	f.Revisions["1.4.2.1"] = branchRev
	member := &model.PatchSetMember{File: f, PostRev: branchRev}
	other := &model.Revision{Rev: "1.5", File: f, Branch: "HEAD"}
	f.Revisions["1.5"] = other

	Link(member, other) // different branch => first-on-branch path

	assert.Same(t, trunk, member.PreRev)
	assert.Contains(t, trunk.BranchChildren, branchRev)
}

func TestLinkEndOfFileMarksInitialWhenNoAncestor(t *testing.T) {
	f, r := newFileWithRev("c.c", "1.1.2.1", true)
	ps := &model.PatchSet{}
	member := &model.PatchSetMember{File: f, PostRev: r, PS: ps}

	Link(member, nil)

	assert.Nil(t, member.PreRev)
	assert.True(t, ps.BranchAdd)
}

func TestLinkEndOfFileFindsGrandparent(t *testing.T) {
	f := model.NewFile("a.c")
	trunk := &model.Revision{Rev: "1.4", File: f, Branch: "HEAD"}
	f.Revisions["1.4"] = trunk
	oldestOnBranch := &model.Revision{Rev: "1.4.2.1", File: f, Branch: "FEATURE"}
	f.Revisions["1.4.2.1"] = oldestOnBranch
	member := &model.PatchSetMember{File: f, PostRev: oldestOnBranch, PS: &model.PatchSet{}}

	Link(member, nil)

	assert.Same(t, trunk, member.PreRev)
	assert.Contains(t, trunk.BranchChildren, oldestOnBranch)
}
