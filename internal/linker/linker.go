// Package linker assigns pre_rev of each patch-set member and wires
// branch-child lists on revisions, per spec.md §4.5.
package linker

import (
	"github.com/cvsps/cvsps-go/internal/model"
	"github.com/cvsps/cvsps-go/internal/revnum"
)

// Link is invoked by the parser once per revision line, with prevMember
// being the member built for the previous (more recent, in parse order)
// revision of the same file, and rev being the Revision just parsed (the
// chronological predecessor of prevMember), or nil at end-of-file.
func Link(prevMember *model.PatchSetMember, rev *model.Revision) {
	if prevMember == nil {
		return
	}
	if rev == nil {
		linkEndOfFile(prevMember)
		return
	}
	pre, _ := revnum.BranchOf(rev.Rev)
	post, _ := revnum.BranchOf(prevMember.PostRev.Rev)
	if pre == post {
		prevMember.PreRev = rev
		rev.PrePSM = prevMember
		return
	}
	linkFirstOnBranch(prevMember)
}

// linkFirstOnBranch handles the case where prevMember is the first
// member committed on a branch: its predecessor is the revision one
// level up the branch chain rather than rev (the next revision read, on
// a different branch entirely).
func linkFirstOnBranch(prevMember *model.PatchSetMember) {
	post, _ := revnum.BranchOf(prevMember.PostRev.Rev)
	branchPoint, ok := revnum.BranchOf(post)
	if !ok {
		markInitial(prevMember)
		return
	}
	predecessor := prevMember.File.GetRevision(branchPoint)
	if predecessor == nil {
		markInitial(prevMember)
		return
	}
	prevMember.PreRev = predecessor
	predecessor.BranchChildren = append(predecessor.BranchChildren, prevMember.PostRev)
}

// linkEndOfFile handles the oldest revision of a file: there is no
// earlier revision in the log, so the predecessor (if any) is found by
// chopping the revision number twice.
func linkEndOfFile(prevMember *model.PatchSetMember) {
	x, ok := revnum.BranchOf(prevMember.PostRev.Rev)
	if ok {
		if y, ok2 := revnum.BranchOf(x); ok2 {
			if predecessor := prevMember.File.GetRevision(y); predecessor != nil {
				prevMember.PreRev = predecessor
				predecessor.BranchChildren = append(predecessor.BranchChildren, prevMember.PostRev)
				return
			}
		}
	}
	markInitial(prevMember)
}

func markInitial(member *model.PatchSetMember) {
	member.PreRev = nil
	if member.PostRev.Dead && member.PS != nil {
		member.PS.BranchAdd = true
	}
}
