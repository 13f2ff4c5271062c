// Package present implements the restriction filter and summary/diff
// output pass described in spec.md §4.8: a single walk over ps_by_time
// that assigns each surfaced PatchSet a visitation counter, narrows the
// walk by every configured restriction, and emits either a summary, a
// diff, or both (in two passes) for what survives.
//
// The shape follows cmd/gitgraph/gitgraph.go's squash-mode loop: iterate
// a sorted key list, maintain small per-branch running state
// (branchSkipCount there, the ps_counter here), and combine several
// independent boolean conditions into one compound predicate before
// deciding whether a record gets a graph node (there) or gets emitted
// (here).
package present

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cvsps/cvsps-go/internal/model"
)

// DiffRunner produces the patch text for one PatchSetMember's
// pre_rev -> post_rev transition. Implemented by internal/diffrun;
// accepted here as an interface so present never imports os/exec.
type DiffRunner interface {
	Diff(member *model.PatchSetMember) (string, error)
}

// Options holds every restriction spec.md §4.8 and §6 lists, all
// optional (the zero value selects everything).
type Options struct {
	DateSince time.Time
	DateUntil time.Time

	Author        string
	BodyRegex     *regexp.Regexp
	FileSubstring string
	Branch        string

	// Ranges, if non-empty, restricts output to patch sets whose
	// ps_counter falls in one of these ranges; a non-empty Ranges also
	// switches on per-member diff emission (spec.md §4.8).
	Ranges []model.PatchSetRange

	// RestrictTagStart/End are the resolved boundary patch sets for -r
	// start/end (nil if the corresponding flag was not given).
	RestrictTagStart *model.PatchSet
	RestrictTagEnd   *model.PatchSet

	SummaryFirst bool

	// BranchAlias rewrites a branch name for display only (config.go's
	// Config.Alias); restriction matching above always compares against
	// the raw branch name. A nil BranchAlias displays branches as-is.
	BranchAlias func(string) string
}

func (o Options) alias(branch string) string {
	if o.BranchAlias == nil {
		return branch
	}
	return o.BranchAlias(branch)
}

func (o Options) hasRanges() bool {
	return len(o.Ranges) > 0
}

// Selected is one PatchSet that survived every restriction, tagged with
// the ps_counter it was assigned during the walk.
type Selected struct {
	PS      *model.PatchSet
	Counter int
}

// Select walks all in (date, author, descr, branch) order, skips
// synthetic branch_add patch sets, assigns the monotonic ps_counter to
// every other one (so -s range numbers are stable across restriction
// changes), and returns those that also pass every other restriction.
func Select(all []*model.PatchSet, opts Options) []Selected {
	var out []Selected
	counter := 0
	for _, ps := range all {
		if ps.BranchAdd {
			continue
		}
		counter++
		if !matches(ps, counter, opts) {
			continue
		}
		out = append(out, Selected{PS: ps, Counter: counter})
	}
	return out
}

func matches(ps *model.PatchSet, counter int, opts Options) bool {
	if !opts.DateSince.IsZero() && ps.Date.Before(opts.DateSince) {
		return false
	}
	if !opts.DateUntil.IsZero() && ps.Date.After(opts.DateUntil) {
		return false
	}
	if opts.Author != "" && ps.Author != opts.Author {
		return false
	}
	if opts.BodyRegex != nil && !opts.BodyRegex.MatchString(ps.Descr) {
		return false
	}
	if opts.FileSubstring != "" && !anyMemberMatches(ps, opts.FileSubstring) {
		return false
	}
	if opts.Branch != "" && ps.Branch != opts.Branch {
		return false
	}
	if opts.hasRanges() && !inAnyRange(counter, opts.Ranges) {
		return false
	}
	if !inTagRange(ps, opts.RestrictTagStart, opts.RestrictTagEnd) {
		return false
	}
	return true
}

func anyMemberMatches(ps *model.PatchSet, substring string) bool {
	for _, m := range ps.Members {
		if strings.Contains(m.File.Path, substring) {
			return true
		}
	}
	return false
}

func inAnyRange(counter int, ranges []model.PatchSetRange) bool {
	for _, r := range ranges {
		if r.Contains(counter) {
			return true
		}
	}
	return false
}

// inTagRange implements spec.md §4.7 step 3 / §4.8's boundary-tag
// restriction: a patch set's FunkFactor, set by the tag resolver while
// walking the boundary tag's own ancestry, forces inclusion or exclusion
// regardless of where the date falls; otherwise the [start.Date, end.Date]
// window (either side optional) applies.
func inTagRange(ps *model.PatchSet, start, end *model.PatchSet) bool {
	switch ps.FunkFactor {
	case 1:
		return true
	case -1:
		return false
	}
	if start != nil && ps.Date.Before(start.Date) {
		return false
	}
	if end != nil && ps.Date.After(end.Date) {
		return false
	}
	return true
}

// Emit writes the selected patch sets to w: a summary for each, and, if
// opts.Ranges narrowed the walk, a per-member diff via diffRunner.
// SummaryFirst splits the two into separate passes over the full
// selection instead of interleaving them per patch set.
func Emit(w io.Writer, selected []Selected, opts Options, diffRunner DiffRunner) error {
	wantDiffs := opts.hasRanges() && diffRunner != nil

	if !opts.SummaryFirst {
		for _, s := range selected {
			if err := writeSummary(w, s, opts); err != nil {
				return err
			}
			if wantDiffs {
				if err := writeDiffs(w, s, diffRunner); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, s := range selected {
		if err := writeSummary(w, s, opts); err != nil {
			return err
		}
	}
	if !wantDiffs {
		return nil
	}
	for _, s := range selected {
		if err := writeDiffs(w, s, diffRunner); err != nil {
			return err
		}
	}
	return nil
}

func writeSummary(w io.Writer, s Selected, opts Options) error {
	ps := s.PS
	if _, err := fmt.Fprintf(w, "PatchSet %d \nDate: %d\nAuthor: %s\nBranch: %s\n",
		s.Counter, ps.Date.Unix(), ps.Author, opts.alias(ps.Branch)); err != nil {
		return err
	}
	if ps.Tag != "" {
		if _, err := fmt.Fprintf(w, "Tag: %s (%s)\n", ps.Tag, ps.TagFlags); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "Log:\n%s\n", ps.Descr); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "Members:"); err != nil {
		return err
	}
	for _, m := range ps.Members {
		pre := "INITIAL"
		if m.PreRev != nil {
			pre = m.PreRev.Rev
		}
		if _, err := fmt.Fprintf(w, "\t%s:%s->%s\n", m.File.Path, pre, m.PostRev.Rev); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

func writeDiffs(w io.Writer, s Selected, diffRunner DiffRunner) error {
	for _, m := range s.PS.Members {
		if m.PreRev == nil {
			continue
		}
		diff, err := diffRunner.Diff(m)
		if err != nil {
			return errors.Wrapf(err, "diffing %s %s->%s", m.File.Path, m.PreRev.Rev, m.PostRev.Rev)
		}
		if _, err := io.WriteString(w, diff); err != nil {
			return err
		}
	}
	return nil
}
