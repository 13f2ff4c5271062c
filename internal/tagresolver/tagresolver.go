// Package tagresolver maps each GlobalSymbol onto the latest patch set
// whose revisions include the tag, then validates and marks funky or
// invalid tags, per spec.md §4.7.
package tagresolver

import (
	"github.com/cvsps/cvsps-go/internal/model"
	"github.com/cvsps/cvsps-go/internal/revnum"
)

// Resolve walks every GlobalSymbol in store and assigns sym.PS and the
// associated PatchSet's TagFlags. restrictTagStart/restrictTagEnd are the
// optional -r boundary tags (spec.md §4.7 step 3): a patch set that is
// chronologically on the wrong side of the boundary but tag-wise on the
// right side gets its FunkFactor forced, discovered as a side effect of
// walking the boundary tag's own funk check.
func Resolve(store *model.Store, restrictTagStart, restrictTagEnd string) {
	for _, sym := range store.Symbols {
		resolveOne(sym, restrictTagStart, restrictTagEnd)
	}
}

func resolveOne(sym *model.GlobalSymbol, restrictTagStart, restrictTagEnd string) {
	var latest *model.PatchSet
	for _, tag := range sym.Tags {
		if tag.Rev == nil || tag.Rev.PostPSM == nil {
			continue
		}
		ps := tag.Rev.PostPSM.PS
		if ps == nil {
			continue
		}
		if latest == nil || ps.Date.After(latest.Date) {
			latest = ps
		}
	}
	if latest == nil {
		return
	}
	sym.PS = latest
	latest.Tag = sym.Tag

	sawInvalid := false
	sawFunky := false
	for _, tag := range sym.Tags {
		switch validateTag(tag, sym, restrictTagStart, restrictTagEnd) {
		case stateInvalid:
			sawInvalid = true
		case stateFunky:
			sawFunky = true
		}
	}
	switch {
	case sawInvalid:
		latest.TagFlags |= model.TagInvalid
	case sawFunky:
		latest.TagFlags |= model.TagFunky
	default:
		latest.TagFlags |= model.TagOK
	}
}

type tagState int

const (
	stateOK tagState = iota
	stateFunky
	stateInvalid
)

// validateTag implements spec.md §4.7 step 2: step one revision forward
// from tag.Rev along the resolved patch set's branch (revFollowBranch,
// §4.7's counter-intuitively named "forward" that steps to the
// chronologically later revision next on the branch). If that next
// revision's patch set is dated strictly before sym.PS, the tag didn't
// hold at a single point in time for every file -- checkRevFunk then
// decides whether that disagreement is merely funky or an outright
// ancestor violation (invalid).
func validateTag(tag *model.Tag, sym *model.GlobalSymbol, restrictTagStart, restrictTagEnd string) tagState {
	if tag.Rev == nil {
		return stateOK
	}
	next := revFollowBranch(tag.Rev, sym.PS.Branch)
	if next == nil || next.PostPSM == nil || next.PostPSM.PS == nil {
		return stateOK
	}
	if !next.PostPSM.PS.Date.Before(sym.PS.Date) {
		return stateOK
	}
	return checkRevFunk(sym.PS, next, restrictTagStart, restrictTagEnd)
}

// checkRevFunk walks forward from rev, along ps's branch, visiting every
// patch set dated at or before ps.Date. Any member of a visited patch set
// that is an ancestor violation (before_tag) makes the whole tag
// invalid; otherwise, having been called at all means something changed
// on this file before the nominally tagged date, so the verdict is funky.
//
// Along the way, if ps.Tag is one of the two possible -r boundary tags,
// the visited patch set is chronologically on the wrong side of ps but
// tag-wise on the right side, so its FunkFactor is forced to force it
// back in (restrictTagStart) or out (restrictTagEnd).
func checkRevFunk(ps *model.PatchSet, rev *model.Revision, restrictTagStart, restrictTagEnd string) tagState {
	cur := rev
	for cur != nil {
		nextPS := cur.PostPSM.PS
		if nextPS == nil {
			break
		}
		if nextPS.Date.After(ps.Date) {
			break
		}
		for _, m := range nextPS.Members {
			if beforeTag(m.PostRev, ps.Tag) {
				return stateInvalid
			}
		}
		if restrictTagStart != "" && ps.Tag == restrictTagStart {
			nextPS.FunkFactor = 1
		}
		if restrictTagEnd != "" && ps.Tag == restrictTagEnd {
			nextPS.FunkFactor = -1
		}
		cur = revFollowBranch(cur, ps.Branch)
	}
	return stateFunky
}

// revFollowBranch implements spec.md §4.7's rev_follow_branch. When rev
// sits on branch, it returns rev.PrePSM.PostRev: the member that has rev
// as its pre_rev, so the chronologically later revision next on the same
// branch. Otherwise it looks for a child of rev that starts the named
// branch.
func revFollowBranch(rev *model.Revision, branch string) *model.Revision {
	if rev.Branch == branch {
		if rev.PrePSM != nil {
			return rev.PrePSM.PostRev
		}
		return nil
	}
	for _, child := range rev.BranchChildren {
		if child.Branch == branch {
			return child
		}
	}
	return nil
}

// beforeTag implements spec.md §4.7's before_tag: rev is an ancestor
// violation for tagName if tagName's revision on rev's file, t, exists,
// rev affects t's branch, and rev's owning patch set is no later than
// t's owning patch set.
func beforeTag(rev *model.Revision, tagName string) bool {
	t, ok := rev.File.Symbols[tagName]
	if !ok || t == nil || t.PostPSM == nil {
		return false
	}
	lookup := func(name string) (string, bool) {
		b, ok := rev.File.BranchesSym[name]
		return b, ok
	}
	if !revnum.RevisionAffectsBranch(rev.Rev, t.Branch, lookup) {
		return false
	}
	if rev.PostPSM == nil || rev.PostPSM.PS == nil || t.PostPSM.PS == nil {
		return false
	}
	return !rev.PostPSM.PS.Date.After(t.PostPSM.PS.Date)
}

