// Package logparser implements the streaming state machine described in
// spec.md §4.4: it consumes the textual per-file revision log one line
// at a time and emits File, Revision, and PatchSetMember entities into a
// model.Store, clustering members into PatchSets via a cluster.Index and
// wiring predecessor/branch links via the linker package as it goes.
//
// The state machine mirrors the shape of main.go's GitParse loop -- a
// line/command reader feeding a big switch, with per-record state held on
// the Parser and log/debug calls through a *logrus.Logger -- generalized
// from libfastimport commands to the fixed line grammar CVS log output
// uses.
package logparser

import (
	"bufio"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cvsps/cvsps-go/internal/cluster"
	"github.com/cvsps/cvsps-go/internal/linker"
	"github.com/cvsps/cvsps-go/internal/model"
	"github.com/cvsps/cvsps-go/internal/revnum"
)

// state is the parser's position in spec.md §4.4's state machine.
type state int

const (
	needFile state = iota
	needSyms
	needEOS
	needStartLog
	needRevision
	needDateAuthorState
	needEOM
)

func (s state) String() string {
	switch s {
	case needFile:
		return "NEED_FILE"
	case needSyms:
		return "NEED_SYMS"
	case needEOS:
		return "NEED_EOS"
	case needStartLog:
		return "NEED_START_LOG"
	case needRevision:
		return "NEED_REVISION"
	case needDateAuthorState:
		return "NEED_DATE_AUTHOR_STATE"
	case needEOM:
		return "NEED_EOM"
	}
	return "UNKNOWN"
}

const (
	revisionBoundary = "----------------------------"
	fileBoundary     = "============================================================================="
	// logBodyMax bounds the per-revision log body accumulator; the line
	// that crosses it is cut at exactly logBodyMax bytes, so a truncated
	// body can end mid-line, and the lines after it are dropped.
	logBodyMax    = 16 * 1024
	cvsDateLayout = "2006/01/02 15:04:05"
)

var (
	reRCSFile  = regexp.MustCompile(`^RCS file: (.+),v$`)
	reSymName  = regexp.MustCompile(`^\t([^:]+): (\S+)$`)
	reRevision = regexp.MustCompile(`^revision (\S+)`)
	reDateAuth = regexp.MustCompile(`^date:\s*([^;]+);\s*author:\s*([^;]+);\s*state:\s*([^;]+);`)
	reMetadata = regexp.MustCompile(`^\S+:.*;$`)
)

// Parser holds the state of one streaming parse over a log. A Parser is
// not safe for concurrent use; spec.md §5 requires the core be
// single-threaded and cooperative.
type Parser struct {
	store   *model.Store
	idx     *cluster.Index
	logger  *logrus.Logger
	prefix  string // repository prefix to strip from "RCS file:" paths

	st state

	file *model.File

	// per-revision accumulator, valid from NEED_REVISION through NEED_EOM
	curMember *model.PatchSetMember
	curRev    *model.Revision
	date      time.Time
	author    string
	dead      bool
	descr     strings.Builder
	haveBody  bool

	// prevMember is the PatchSetMember built for the previous (more
	// recent, in parse order) revision of the current file.
	prevMember *model.PatchSetMember
}

// New returns a Parser that clusters members into idx and creates
// entities in store. prefix is the repository-relative path prefix
// computed from CVS/Root and CVS/Repository (spec.md §6); it is stripped
// from the front of every "RCS file:" path, and the first "Attic/"
// component anywhere in the path is removed.
func New(store *model.Store, idx *cluster.Index, prefix string, logger *logrus.Logger) *Parser {
	return &Parser{
		store:  store,
		idx:    idx,
		prefix: prefix,
		logger: logger,
		st:     needFile,
	}
}

// Parse reads r line by line, driving the state machine to completion.
// It returns an error for any condition spec.md §4.4/§7 marks fatal:
// a malformed revision number, a malformed date/author/state line, or
// ending in any state other than NEED_FILE. Ending in NEED_SYMS gets its
// own message, since it means the source never emitted a symbolic-names
// table at all.
func (p *Parser) Parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := p.step(scanner.Text()); err != nil {
			return errors.Wrapf(err, "line %d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading log stream")
	}
	switch p.st {
	case needFile:
		return nil
	case needSyms:
		return errors.New("log source never emitted a symbolic-names table; bypass its config file and retry")
	default:
		return errors.Errorf("unexpected end of log in state %s", p.st)
	}
}

func (p *Parser) step(line string) error {
	switch p.st {
	case needFile:
		return p.stepNeedFile(line)
	case needSyms:
		return p.stepNeedSyms(line)
	case needEOS:
		return p.stepNeedEOS(line)
	case needStartLog:
		return p.stepNeedStartLog(line)
	case needRevision:
		return p.stepNeedRevision(line)
	case needDateAuthorState:
		return p.stepNeedDateAuthorState(line)
	case needEOM:
		return p.stepNeedEOM(line)
	}
	return errors.Errorf("unreachable state %s", p.st)
}

func (p *Parser) stepNeedFile(line string) error {
	m := reRCSFile.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	path := p.stripPath(m[1])
	p.file = p.store.FileByPath(path)
	p.prevMember = nil
	p.logger.Debugf("RCS file: %s", path)
	p.st = needSyms
	return nil
}

func (p *Parser) stripPath(path string) string {
	if p.prefix != "" && strings.HasPrefix(path, p.prefix) {
		path = path[len(p.prefix):]
	}
	path = strings.Replace(path, "Attic/", "", 1)
	return path
}

func (p *Parser) stepNeedSyms(line string) error {
	if line == "symbolic names:" {
		p.st = needEOS
	}
	return nil
}

func (p *Parser) stepNeedEOS(line string) error {
	if m := reSymName.FindStringSubmatch(line); m != nil {
		p.addSymbolicName(m[1], m[2])
		return nil
	}
	p.file.HaveBranches = true
	p.st = needStartLog
	return p.stepNeedStartLog(line)
}

// intern canonicalizes s through the store's string pool (spec.md §4.1):
// every persistent short string -- tag, author, branch, revision -- is
// expected to flow through here before it lands on a model entity.
func (p *Parser) intern(s string) string {
	return *p.store.Strings.Intern(s)
}

// addSymbolicName classifies one "<tag>: <rev>" line from the symbolic
// names table per spec.md §4.2: a magic-branch or vendor-branch encoding
// registers a branch; anything else registers a tag.
func (p *Parser) addSymbolicName(tag, rev string) {
	tag = p.intern(tag)
	rev = p.intern(rev)
	if branchRev, ok := revnum.MagicBranchOf(rev); ok {
		p.file.Branches[branchRev] = tag
		p.file.BranchesSym[tag] = branchRev
		return
	}
	if revnum.IsVendorBranch(rev) {
		p.file.Branches[rev] = tag
		p.file.BranchesSym[tag] = rev
		return
	}
	target := p.file.GetRevision(rev)
	if target == nil {
		target = &model.Revision{Rev: rev, File: p.file}
		p.file.Revisions[rev] = target
	}
	p.store.AddTag(p.file, tag, target)
}

func (p *Parser) stepNeedStartLog(line string) error {
	if line == revisionBoundary {
		p.st = needRevision
	}
	return nil
}

func (p *Parser) stepNeedRevision(line string) error {
	m := reRevision.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	tok := truncateRevisionToken(m[1])
	if tok == "" || strings.HasPrefix(tok, ".") || strings.HasSuffix(tok, ".") || strings.Contains(tok, "..") {
		return errors.Errorf("malformed revision %q", m[1])
	}
	rev := p.intern(tok)

	existing := p.file.GetRevision(rev)
	alreadyParsed := existing != nil && existing.PostPSM != nil
	var cur *model.Revision
	if existing != nil {
		cur = existing
	} else {
		cur = &model.Revision{Rev: rev, File: p.file}
		p.file.Revisions[rev] = cur
	}
	cur.Branch = p.intern("HEAD")
	if enclosing, ok := revnum.BranchOf(rev); ok {
		if branch, ok := p.file.Branches[enclosing]; ok {
			cur.Branch = p.intern(branch)
		}
	}

	if alreadyParsed {
		// Incremental-refresh overlap (spec.md §7): this revision is
		// already in the cache. Skip straight to NEED_EOM without
		// emitting a new member or touching the linker.
		p.curMember = nil
		p.curRev = nil
		p.st = needEOM
		return nil
	}

	linker.Link(p.prevMember, cur)

	member := &model.PatchSetMember{File: p.file, PostRev: cur}
	cur.PostPSM = member
	p.prevMember = member

	p.curMember = member
	p.curRev = cur
	p.date = time.Time{}
	p.author = ""
	p.dead = false
	p.descr.Reset()
	p.haveBody = false
	p.st = needDateAuthorState
	return nil
}

func (p *Parser) stepNeedDateAuthorState(line string) error {
	m := reDateAuth.FindStringSubmatch(line)
	if m == nil {
		return errors.Errorf("expected date/author/state line, got %q", line)
	}
	date, err := time.Parse(cvsDateLayout, strings.TrimSpace(m[1]))
	if err != nil {
		return errors.Wrapf(err, "parsing revision date %q", m[1])
	}
	p.date = date
	p.author = p.intern(strings.TrimSpace(m[2]))
	p.dead = strings.TrimSpace(m[3]) == "dead"
	p.curRev.Dead = p.dead
	p.st = needEOM
	return nil
}

func (p *Parser) stepNeedEOM(line string) error {
	switch line {
	case revisionBoundary:
		p.finishMember()
		p.st = needRevision
		return nil
	case fileBoundary:
		p.finishMember()
		linker.Link(p.prevMember, nil)
		p.file = nil
		p.prevMember = nil
		p.st = needFile
		return nil
	}
	if p.curMember == nil {
		// Skipped member (incremental overlap): discard the body lines
		// that belong to the already-cached revision.
		return nil
	}
	if !p.haveBody && reMetadata.MatchString(line) {
		return nil
	}
	p.appendBody(line)
	return nil
}

func (p *Parser) appendBody(line string) {
	p.haveBody = true
	if p.descr.Len() >= logBodyMax {
		return
	}
	if p.descr.Len() > 0 {
		p.descr.WriteByte('\n')
	}
	if p.descr.Len()+len(line) > logBodyMax {
		p.logger.Warnf("%s revision %s: log body truncated at %d bytes", p.file.Path, p.curRev.Rev, logBodyMax)
		remaining := logBodyMax - p.descr.Len()
		if remaining > 0 {
			p.descr.WriteString(line[:remaining])
		}
		return
	}
	p.descr.WriteString(line)
}

// finishMember clusters the accumulated (date, author, descr, branch)
// into a PatchSet per spec.md §4.3 and attaches curMember to it. A no-op
// if the current revision was skipped as an incremental overlap.
func (p *Parser) finishMember() {
	if p.curMember == nil {
		return
	}
	candidate := &model.PatchSet{
		Date:   p.date,
		Author: p.author,
		Descr:  p.descr.String(),
		Branch: p.curRev.Branch,
	}
	ps, _ := p.idx.FindOrInsert(candidate)
	p.curMember.PS = ps
	ps.Members = append(ps.Members, p.curMember)
	p.curMember = nil
	p.curRev = nil
}

// truncateRevisionToken drops a "revision <rev> locked by: ..." suffix,
// keeping only the leading digit/dot run.
func truncateRevisionToken(tok string) string {
	for i, r := range tok {
		if r != '.' && (r < '0' || r > '9') {
			return tok[:i]
		}
	}
	return tok
}
