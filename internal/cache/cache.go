// Package cache reads and writes the persistent cache file described in
// spec.md §4.6: a text, line-oriented snapshot of every File and every
// PatchSet, keyed so an incremental run can skip straight past whatever
// the log source has already contributed.
//
// The shape follows journal/journal.go's Journal type: a struct wrapping
// an io.Writer with sequential Write* methods emitting a fixed line
// grammar, adapted here to return error instead of panicking, per
// spec.md §7's "cache-write errors are logged and non-fatal" -- and
// extended with a matching line-oriented Reader, since this cache (unlike
// the journal) must round-trip.
package cache

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cvsps/cvsps-go/internal/cluster"
	"github.com/cvsps/cvsps-go/internal/model"
	"github.com/cvsps/cvsps-go/internal/revnum"
)

const descrSentinel = "-=-END CVSPS DESCR-=-"

// Writer emits the cache file grammar to an underlying io.Writer.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write emits the full cache: header, every File in store (in map
// iteration order -- the loader rebuilds File.Revisions by path lookup,
// so order here is not significant), then every PatchSet in ps in the
// order given (the caller passes idx.InOrder()).
func (w *Writer) Write(cacheDate time.Time, store *model.Store, ps []*model.PatchSet) error {
	if err := w.writeHeader(cacheDate); err != nil {
		return err
	}
	for _, f := range store.Files {
		if err := w.writeFile(f); err != nil {
			return errors.Wrapf(err, "writing file %s", f.Path)
		}
	}
	if _, err := fmt.Fprintln(w.w); err != nil {
		return errors.Wrap(err, "writing cache section separator")
	}
	for _, p := range ps {
		if err := w.writePatchSet(p); err != nil {
			return errors.Wrapf(err, "writing patchset %d", p.ID)
		}
	}
	return nil
}

func (w *Writer) writeHeader(cacheDate time.Time) error {
	_, err := fmt.Fprintf(w.w, "cache date: %d\n", cacheDate.Unix())
	return errors.Wrap(err, "writing cache header")
}

func (w *Writer) writeFile(f *model.File) error {
	if _, err := fmt.Fprintf(w.w, "file: %s\n", f.Path); err != nil {
		return err
	}
	for rev, r := range f.Revisions {
		branch := r.Branch
		if branch == "" {
			branch = "INITIAL"
		}
		dead := 0
		if r.Dead {
			dead = 1
		}
		if _, err := fmt.Fprintf(w.w, "%s %s %d\n", rev, branch, dead); err != nil {
			return err
		}
	}
	for rev, tag := range f.Branches {
		if _, err := fmt.Fprintf(w.w, "branch: %s %s\n", rev, tag); err != nil {
			return err
		}
	}
	for tag, rev := range f.Symbols {
		if _, err := fmt.Fprintf(w.w, "symbol: %s %s\n", tag, rev.Rev); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w)
	return err
}

func (w *Writer) writePatchSet(p *model.PatchSet) error {
	if _, err := fmt.Fprintf(w.w, "patchset: %d\n", p.ID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "date: %d\n", p.Date.Unix()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "author: %s\n", p.Author); err != nil {
		return err
	}
	if p.Tag != "" {
		if _, err := fmt.Fprintf(w.w, "tag: %s\n", p.Tag); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.w, "tag_flags: %d\n", p.TagFlags); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "branch: %s\n", p.Branch); err != nil {
		return err
	}
	branchAdd := 0
	if p.BranchAdd {
		branchAdd = 1
	}
	if _, err := fmt.Fprintf(w.w, "branch_add: %d\n", branchAdd); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "descr:\n%s\n%s\n", p.Descr, descrSentinel); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w.w, "members:"); err != nil {
		return err
	}
	for _, m := range p.Members {
		preRev := "INITIAL"
		if m.PreRev != nil {
			preRev = m.PreRev.Rev
		}
		dead := 0
		if m.PostRev.Dead {
			dead = 1
		}
		if _, err := fmt.Fprintf(w.w, "file: %s; pre_rev: %s; post_rev: %s; dead: %d\n",
			m.File.Path, preRev, m.PostRev.Rev, dead); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w.w)
	return err
}

// Reader loads a cache file previously produced by Writer, rebuilding
// every cross-reference the loader is responsible for (spec.md §4.6):
// File.Revisions, Revision.PrePSM/PostPSM, PatchSetMember.File/PostRev/
// PreRev/PS, and Revision.BranchChildren.
type Reader struct {
	scanner *bufio.Scanner
	store   *model.Store
	idx     *cluster.Index
}

// NewReader returns a Reader that populates store and idx as it loads.
func NewReader(r io.Reader, store *model.Store, idx *cluster.Index) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{scanner: scanner, store: store, idx: idx}
}

// intern canonicalizes s through the store's string pool (spec.md §4.1),
// the same interner the live parser feeds, so a cached and a freshly
// parsed run converge on identical backing strings.
func (r *Reader) intern(s string) string {
	return *r.store.Strings.Intern(s)
}

// Load reads the whole cache and returns the cache date recorded in the
// header. A zero time.Time return (with a nil error) means the stream held
// no usable header line -- spec.md §4.6's "no usable cache" signal.
func (r *Reader) Load() (time.Time, error) {
	if !r.scanner.Scan() {
		return time.Time{}, nil
	}
	line := r.scanner.Text()
	const prefix = "cache date: "
	if !strings.HasPrefix(line, prefix) {
		return time.Time{}, nil
	}
	epoch, err := strconv.ParseInt(strings.TrimPrefix(line, prefix), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parsing cache header")
	}
	cacheDate := time.Unix(epoch, 0)

	if err := r.readFiles(); err != nil {
		return time.Time{}, err
	}
	if err := r.readPatchSets(); err != nil {
		return time.Time{}, err
	}
	if err := r.scanner.Err(); err != nil {
		return time.Time{}, errors.Wrap(err, "reading cache stream")
	}
	return cacheDate, nil
}

func (r *Reader) readFiles() error {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			return nil
		}
		if !strings.HasPrefix(line, "file: ") {
			return errors.Errorf("expected \"file: \", got %q", line)
		}
		f := r.store.FileByPath(strings.TrimPrefix(line, "file: "))
		if err := r.readOneFile(f); err != nil {
			return errors.Wrapf(err, "reading file %s", f.Path)
		}
	}
	return nil
}

func (r *Reader) readOneFile(f *model.File) error {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			return nil
		}
		switch {
		case strings.HasPrefix(line, "branch: "):
			fields := strings.SplitN(strings.TrimPrefix(line, "branch: "), " ", 2)
			if len(fields) != 2 {
				return errors.Errorf("malformed branch line %q", line)
			}
			branchRev, tag := r.intern(fields[0]), r.intern(fields[1])
			f.Branches[branchRev] = tag
			f.BranchesSym[tag] = branchRev
		case strings.HasPrefix(line, "symbol: "):
			fields := strings.SplitN(strings.TrimPrefix(line, "symbol: "), " ", 2)
			if len(fields) != 2 {
				return errors.Errorf("malformed symbol line %q", line)
			}
			rev := f.GetRevision(fields[1])
			if rev == nil {
				return errors.Errorf("symbol %s refers to unknown revision %s", fields[0], fields[1])
			}
			r.store.AddTag(f, r.intern(fields[0]), rev)
		default:
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return errors.Errorf("malformed revision line %q", line)
			}
			branch := fields[1]
			if branch == "INITIAL" {
				branch = ""
			}
			rev := &model.Revision{
				Rev:    r.intern(fields[0]),
				File:   f,
				Branch: r.intern(branch),
				Dead:   fields[2] == "1",
			}
			f.Revisions[rev.Rev] = rev
		}
	}
	return nil
}

func (r *Reader) readPatchSets() error {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "patchset: ") {
			return errors.Errorf("expected \"patchset: \", got %q", line)
		}
		id, err := strconv.Atoi(strings.TrimPrefix(line, "patchset: "))
		if err != nil {
			return errors.Wrapf(err, "parsing patchset id %q", line)
		}
		ps, err := r.readOnePatchSet(id)
		if err != nil {
			return errors.Wrapf(err, "reading patchset %d", id)
		}
		r.idx.InsertKnown(ps)
	}
	return nil
}

func (r *Reader) readOnePatchSet(id int) (*model.PatchSet, error) {
	ps := &model.PatchSet{ID: id}

	if !r.scanner.Scan() {
		return nil, errors.New("unexpected end of cache reading date")
	}
	epoch, err := strconv.ParseInt(strings.TrimPrefix(r.scanner.Text(), "date: "), 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parsing patchset date")
	}
	ps.Date = time.Unix(epoch, 0)

	if !r.scanner.Scan() {
		return nil, errors.New("unexpected end of cache reading author")
	}
	ps.Author = r.intern(strings.TrimPrefix(r.scanner.Text(), "author: "))

	if !r.scanner.Scan() {
		return nil, errors.New("unexpected end of cache reading tag or tag_flags")
	}
	line := r.scanner.Text()
	if strings.HasPrefix(line, "tag: ") {
		ps.Tag = r.intern(strings.TrimPrefix(line, "tag: "))
		if !r.scanner.Scan() {
			return nil, errors.New("unexpected end of cache reading tag_flags")
		}
		line = r.scanner.Text()
	}
	flags, err := strconv.Atoi(strings.TrimPrefix(line, "tag_flags: "))
	if err != nil {
		return nil, errors.Wrap(err, "parsing tag_flags")
	}
	ps.TagFlags = model.TagFlag(flags)

	if !r.scanner.Scan() {
		return nil, errors.New("unexpected end of cache reading branch")
	}
	ps.Branch = r.intern(strings.TrimPrefix(r.scanner.Text(), "branch: "))

	if !r.scanner.Scan() {
		return nil, errors.New("unexpected end of cache reading branch_add")
	}
	ps.BranchAdd = strings.TrimPrefix(r.scanner.Text(), "branch_add: ") == "1"

	if !r.scanner.Scan() || r.scanner.Text() != "descr:" {
		return nil, errors.New("expected \"descr:\" line")
	}
	var descr strings.Builder
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == descrSentinel {
			break
		}
		if descr.Len() > 0 {
			descr.WriteByte('\n')
		}
		descr.WriteString(line)
	}
	ps.Descr = descr.String()

	if !r.scanner.Scan() || r.scanner.Text() != "members:" {
		return nil, errors.New("expected \"members:\" line")
	}
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			break
		}
		member, err := r.parseMember(line, ps)
		if err != nil {
			return nil, err
		}
		ps.Members = append(ps.Members, member)
	}
	return ps, nil
}

// parseMember parses "file: <path>; pre_rev: <r|INITIAL>; post_rev: <r>;
// dead: <0|1>". The file path itself may contain "; " only in pathological
// cases the source repertoire never produces, so a straight split on the
// three known field markers is sufficient.
func (r *Reader) parseMember(line string, ps *model.PatchSet) (*model.PatchSetMember, error) {
	rest := strings.TrimPrefix(line, "file: ")
	filePath, rest, ok := cutField(rest, "; pre_rev: ")
	if !ok {
		return nil, errors.Errorf("malformed member line %q", line)
	}
	preRev, rest, ok := cutField(rest, "; post_rev: ")
	if !ok {
		return nil, errors.Errorf("malformed member line %q", line)
	}
	postRev, rest, ok := cutField(rest, "; dead: ")
	if !ok {
		return nil, errors.Errorf("malformed member line %q", line)
	}
	_ = rest // "0" or "1"; the post_rev's own Dead flag is authoritative

	f := r.store.FileByPath(filePath)
	post := f.GetRevision(postRev)
	if post == nil {
		return nil, errors.Errorf("member refers to unknown post_rev %s on %s", postRev, filePath)
	}
	member := &model.PatchSetMember{File: f, PostRev: post, PS: ps}
	post.PostPSM = member

	if preRev != "INITIAL" {
		pre := f.GetRevision(preRev)
		if pre == nil {
			return nil, errors.Errorf("member refers to unknown pre_rev %s on %s", preRev, filePath)
		}
		member.PreRev = pre
		preBranch, _ := revnum.BranchOf(pre.Rev)
		postBranch, _ := revnum.BranchOf(post.Rev)
		if preBranch == postBranch {
			pre.PrePSM = member
		} else {
			pre.BranchChildren = append(pre.BranchChildren, post)
		}
	}
	return member, nil
}

// cutField splits s at the first occurrence of sep, returning the part
// before it and the remainder after it.
func cutField(s, sep string) (before, after string, ok bool) {
	i := strings.Index(s, sep)
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+len(sep):], true
}
