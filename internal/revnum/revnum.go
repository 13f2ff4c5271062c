// Package revnum implements arithmetic over CVS dotted revision numbers:
// splitting off the enclosing branch, reading the leaf component, and
// detecting the magic-branch and vendor-branch encodings described in
// spec.md §4.2.
package revnum

import (
	"strconv"
	"strings"
)

// BranchOf removes the last dotted component of rev, leaving the
// enclosing branch revision. ok is false if rev has no dot (a bare
// revision like "1" never appears in practice, but is handled safely).
func BranchOf(rev string) (branch string, ok bool) {
	i := strings.LastIndexByte(rev, '.')
	if i < 0 {
		return "", false
	}
	return rev[:i], true
}

// LeafOf returns the integer value of the last dotted component of rev.
func LeafOf(rev string) (int, error) {
	parts := strings.Split(rev, ".")
	last := parts[len(parts)-1]
	return strconv.Atoi(last)
}

// DotCount returns the number of '.' separators in rev.
func DotCount(rev string) int {
	return strings.Count(rev, ".")
}

// IsVendorBranch reports whether rev has an even number of dots
// (e.g. "1.1.1"), the encoding CVS uses for vendor-branch
// roots. Such revisions are branch roots, not ordinary tag targets.
func IsVendorBranch(rev string) bool {
	return DotCount(rev)%2 == 0
}

// MagicBranchOf detects the "A.B.0.N" encoding a symbol's revision can
// carry in the symbolic-names table: a penultimate zero component marks
// the revision as naming a branch numbered "A.B.N", not a file revision.
// It reports the canonical branch revision and true if rev is such an
// encoding.
//
// Very old CVS repositories can also emit the degenerate root form
// "A.0.N" for a first-level branch (no "B" component); that is treated
// identically, yielding branch revision "A.N".
func MagicBranchOf(rev string) (branchRev string, ok bool) {
	parts := strings.Split(rev, ".")
	if len(parts) < 2 {
		return "", false
	}
	penultimate := parts[len(parts)-2]
	if penultimate != "0" {
		return "", false
	}
	n := parts[len(parts)-1]
	head := parts[:len(parts)-2]
	if len(head) == 0 {
		return n, true
	}
	return strings.Join(head, ".") + "." + n, true
}

// RevisionAffectsBranch implements spec.md §4.2's revision_affects_branch:
// branchName "HEAD" matches rev iff rev has exactly one dot (a plain
// trunk revision). Otherwise branchPointLookup must resolve branchName to
// its own branch-id revision (the same stripped form BranchOf produces,
// not necessarily the bare root). rev's enclosing branch is computed once
// and held fixed; the looked-up branch id is then walked up its own
// ancestry, one component at a time, re-deriving the leaf shed at each
// step, until it matches rev's enclosing branch or is exhausted. A match
// affects the branch only if rev's own leaf is no greater than the leaf
// recorded at the matching level -- a later branch can be rooted beyond
// where rev sits.
func RevisionAffectsBranch(rev, branchName string, branchPointLookup func(name string) (string, bool)) bool {
	if branchName == "HEAD" {
		return DotCount(rev) == 1
	}
	branchRev, ok := branchPointLookup(branchName)
	if !ok {
		return false
	}
	postRev, ok := BranchOf(rev)
	if !ok {
		return false
	}
	fileLeaf, err := LeafOf(rev)
	if err != nil {
		return false
	}
	branch := branchRev
	branchLeaf := fileLeaf
	for {
		if branch == postRev {
			return fileLeaf <= branchLeaf
		}
		leaf, err := LeafOf(branch)
		if err != nil {
			return false
		}
		next, ok := BranchOf(branch)
		if !ok {
			return false
		}
		branchLeaf = leaf
		branch = next
	}
}
