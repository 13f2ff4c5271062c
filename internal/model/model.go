// Package model holds the in-memory entities described in spec.md §3:
// File, Revision, Tag, PatchSet, PatchSetMember and GlobalSymbol, plus the
// Store (store.go) that owns their collections for the lifetime of one run.
//
// Ownership follows the teacher's GitFileMap/CommitMap shape (main.go):
// plain maps of owning pointers, with back-references stored as plain
// pointers rather than an intrusive list — the engine is the sole owner
// and nothing is destroyed before the run ends.
package model

import "time"

// TagFlag is a bitset recording a tag's resolved state.
type TagFlag uint8

const (
	TagOK TagFlag = 1 << iota
	TagFunky
	TagInvalid
	TagInvalidForced
)

func (f TagFlag) String() string {
	switch {
	case f&TagInvalidForced != 0:
		return "invalid(forced)"
	case f&TagInvalid != 0:
		return "invalid"
	case f&TagFunky != 0:
		return "funky"
	default:
		return "ok"
	}
}

// File is a single RCS/CVS file within the repository, keyed by its
// Attic-stripped repository-relative path.
type File struct {
	Path string

	// Revisions maps a revision string ("1.4.2.1") to its Revision.
	Revisions map[string]*Revision

	// Branches maps a branch-point revision to the branch name rooted
	// there; BranchesSym is its inverse.
	Branches    map[string]string
	BranchesSym map[string]string

	// Symbols maps a tag name to the Revision it tags on this file.
	Symbols map[string]*Revision

	// HaveBranches is set once the symbolic-names table has been fully
	// read for this file (spec.md §4.4, NEED_EOS -> NEED_START_LOG).
	HaveBranches bool
}

// NewFile creates a File with its maps ready to use.
func NewFile(path string) *File {
	return &File{
		Path:        path,
		Revisions:   make(map[string]*Revision),
		Branches:    make(map[string]string),
		BranchesSym: make(map[string]string),
		Symbols:     make(map[string]*Revision),
	}
}

// GetRevision returns the interned Revision for rev, or nil if rev is the
// sentinel "INITIAL" string or empty. An unknown revision string is not
// treated as fatal here: it also yields nil, and each caller decides what
// a nil result means.
func (f *File) GetRevision(rev string) *Revision {
	if rev == "INITIAL" || rev == "" {
		return nil
	}
	return f.Revisions[rev]
}

// Revision is one per-file commit in the CVS sense: a dotted revision
// number whose author and date are captured on the PatchSet of its
// PostPSM member.
type Revision struct {
	Rev    string
	File   *File
	Branch string // "HEAD" for trunk
	Dead   bool

	// PrePSM/PostPSM: at most one PatchSetMember has this Revision as
	// its post_rev (PostPSM) and at most one has it as pre_rev (PrePSM).
	PrePSM  *PatchSetMember
	PostPSM *PatchSetMember

	// BranchChildren holds the first revision of each branch rooted at
	// this revision.
	BranchChildren []*Revision

	// Tags carries every Tag pointing at this revision.
	Tags []*Tag
}

// PatchSet is an inferred logical commit: the equivalence class of
// per-file revisions sharing (author, descr, branch) and mutually
// fuzz-close in time (spec.md §4.3).
type PatchSet struct {
	ID     int
	Date   time.Time
	Author string
	Descr  string
	Branch string

	// Members is insertion-ordered, i.e. parse order.
	Members []*PatchSetMember

	Tag       string
	TagFlags  TagFlag
	BranchAdd bool

	// FunkFactor is -1, 0 or +1; see spec.md §4.7.
	FunkFactor int
}

// PatchSetMember links one File's Revision transition into a PatchSet.
type PatchSetMember struct {
	File    *File
	PostRev *Revision
	PreRev  *Revision // nil means INITIAL
	PS      *PatchSet
}

// GlobalSymbol is a tag name considered across every File that carries it.
type GlobalSymbol struct {
	Tag  string
	Tags []*Tag
	PS   *PatchSet // resolved patch set, nil until Resolve runs
}

// Tag is one File-local occurrence of a symbol.
type Tag struct {
	Tag string
	Rev *Revision
	Sym *GlobalSymbol
}

// PatchSetRange is an inclusive [Min, Max] id range for -s filtering. Max
// of 0 means unbounded.
type PatchSetRange struct {
	Min, Max int
}

// Contains reports whether id falls within the range.
func (r PatchSetRange) Contains(id int) bool {
	if id < r.Min {
		return false
	}
	if r.Max != 0 && id > r.Max {
		return false
	}
	return true
}
