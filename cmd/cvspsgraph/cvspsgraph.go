// Command cvspsgraph renders the patch-set DAG reconstructed from a CVS
// repository as a Graphviz dot file (and, optionally, a PNG), to make the
// branch/merge shape cvsps infers visible at a glance.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/emicklei/dot"
	graphviz "github.com/goccy/go-graphviz"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cvsps/cvsps-go/config"
	"github.com/cvsps/cvsps-go/internal/cache"
	"github.com/cvsps/cvsps-go/internal/cluster"
	"github.com/cvsps/cvsps-go/internal/logparser"
	"github.com/cvsps/cvsps-go/internal/model"
	"github.com/cvsps/cvsps-go/internal/rcsroot"
	"github.com/cvsps/cvsps-go/internal/tagresolver"
	"github.com/cvsps/cvsps-go/internal/version"
)

// graphOption mirrors cmd/gitgraph's GitGraphOption: one flat struct of
// everything main() parsed, handed to the grapher.
type graphOption struct {
	outputDot    string
	outputPNG    string
	squash       bool
	maxPatchSets int
}

// patchSetGraph builds a dot.Graph over the patch sets an Index holds,
// the same "walk sorted keys, track running per-branch state, decide node
// vs skip" shape as cmd/gitgraph.ParseGitImport/createGraphEdges, adapted
// from git commits+parent/merge marks to PatchSets+predecessor members.
type patchSetGraph struct {
	logger *logrus.Logger
	opts   graphOption
	graph  *dot.Graph
	nodes  map[int]dot.Node
}

func newPatchSetGraph(logger *logrus.Logger, opts *graphOption) *patchSetGraph {
	return &patchSetGraph{
		logger: logger,
		opts:   *opts,
		nodes:  make(map[int]dot.Node),
	}
}

// build walks all in chronological order (idx.InOrder()'s own ordering)
// and draws one node per non-branch_add patch set and one edge per
// distinct other patch set that a member's pre_rev belongs to, i.e. the
// predecessor links the linker wired, collapsed per parent patch set.
// With squash set, a patch set that only continues its branch -- not the
// first on its branch, at most one parent patch set, no tag -- is folded
// into the node last drawn on its branch the way cmd/gitgraph folds a
// single-parent, single-child, same-branch commit.
func (g *patchSetGraph) build(all []*model.PatchSet) {
	lastOnBranch := make(map[string]*branchState)

	count := 0
	for _, ps := range all {
		if ps.BranchAdd {
			continue
		}
		if g.opts.maxPatchSets != 0 && count >= g.opts.maxPatchSets {
			break
		}
		count++

		parents := g.predecessors(ps)
		branches := len(parents) > 1
		firstOnBranch := lastOnBranch[ps.Branch] == nil
		if !g.opts.squash || firstOnBranch || branches || ps.Tag != "" || g.opts.maxPatchSets == count {
			label := fmt.Sprintf("PatchSet %d\n%s\n%s", ps.ID, ps.Author, ps.Branch)
			node := g.graph.Node(label)
			g.nodes[ps.ID] = node
			for _, parent := range parents {
				g.drawEdge(parent, ps, node, lastOnBranch)
			}
			st := lastOnBranch[ps.Branch]
			if st == nil {
				st = &branchState{}
				lastOnBranch[ps.Branch] = st
			}
			st.lastNode = node
			st.skipCount = 0
		} else if st := lastOnBranch[ps.Branch]; st != nil {
			st.skipCount++
			g.nodes[ps.ID] = st.lastNode
		}
	}
}

// predecessors returns the distinct patch sets ps inherited a revision
// from, via its members' pre_rev.
func (g *patchSetGraph) predecessors(ps *model.PatchSet) []*model.PatchSet {
	seen := make(map[int]bool)
	var out []*model.PatchSet
	for _, m := range ps.Members {
		if m.PreRev == nil || m.PreRev.PostPSM == nil || m.PreRev.PostPSM.PS == nil {
			continue
		}
		parent := m.PreRev.PostPSM.PS
		if parent.ID == ps.ID || seen[parent.ID] {
			continue
		}
		seen[parent.ID] = true
		out = append(out, parent)
	}
	return out
}

func (g *patchSetGraph) drawEdge(parent *model.PatchSet, ps *model.PatchSet, node dot.Node, lastOnBranch map[string]*branchState) {
	parentNode, ok := g.nodes[parent.ID]
	if !ok {
		return
	}
	label := "p"
	if st, ok := lastOnBranch[parent.Branch]; ok && st.skipCount > 0 {
		label = fmt.Sprintf("p%d", st.skipCount)
	}
	g.graph.Edge(parentNode, node, label)
}

// branchState tracks, per branch name, the most recently drawn node and
// how many patch sets on that branch were squashed since it was drawn.
type branchState struct {
	lastNode  dot.Node
	skipCount int
}

func main() {
	var (
		outputDot = kingpin.Flag(
			"output",
			"Graphviz dot file to write the patch-set graph to.",
		).Default("cvsps.dot").Short('o').String()
		outputPNG = kingpin.Flag(
			"png",
			"Also render a PNG image to this path.",
		).String()
		squash = kingpin.Flag(
			"squash",
			"Squash linear chains, keeping branch points, merges and tags only.",
		).Short('s').Bool()
		maxPatchSets = kingpin.Flag(
			"max.patchsets",
			"Max number of patch sets to include (0 means all).",
		).Default("0").Short('m').Int()
		debug = kingpin.Flag(
			"debug",
			"Enable debugging level.",
		).Default("0").Int()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("cvspsgraph")).Author("cvsps-go")
	kingpin.CommandLine.Help = "Renders the patch-set graph cvsps reconstructs from a CVS repository.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug > 0 {
		logger.Level = logrus.DebugLevel
	}
	startTime := time.Now()
	logger.Infof("%v", version.Print("cvspsgraph"))
	logger.Infof("Starting %s", startTime)

	opts := &graphOption{
		outputDot:    *outputDot,
		outputPNG:    *outputPNG,
		squash:       *squash,
		maxPatchSets: *maxPatchSets,
	}
	logger.Infof("Options: %+v", opts)

	store, idx, err := loadPatchSets(logger)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	logger.Infof("%d files, %d patch sets", len(store.Files), idx.Len())

	g := newPatchSetGraph(logger, opts)
	g.graph = dot.NewGraph(dot.Directed)
	g.build(idx.InOrder())

	if err := writeDot(opts.outputDot, g.graph.String()); err != nil {
		logger.Errorf("writing dot file: %v", err)
		os.Exit(1)
	}
	if opts.outputPNG != "" {
		if err := renderPNG(g.graph.String(), opts.outputPNG); err != nil {
			logger.Errorf("rendering PNG: %v", err)
			os.Exit(1)
		}
	}
}

func writeDot(path, contents string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(contents))
	return err
}

func renderPNG(dotContents, path string) error {
	gv := graphviz.New()
	defer gv.Close()
	graph, err := graphviz.ParseBytes([]byte(dotContents))
	if err != nil {
		return errors.Wrap(err, "parsing generated dot")
	}
	defer graph.Close()
	return gv.RenderFilename(graph, graphviz.PNG, path)
}

// loadPatchSets reconstructs the store/index the same way cvsps does: a
// prior cache if present, otherwise a direct "cvs log" stream, with tags
// resolved either way. It intentionally does not write the cache back --
// cvspsgraph is a read-only presentation tool.
func loadPatchSets(logger *logrus.Logger) (*model.Store, *cluster.Index, error) {
	prefix, err := rcsroot.Prefix("CVS/Root", "CVS/Repository")
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading CVS/Root and CVS/Repository")
	}

	store := model.NewStore()
	idx := cluster.NewIndex(config.DefaultFuzz)

	home, err := os.UserHomeDir()
	if err == nil {
		cacheFile := filepath.Join(home, config.DefaultCacheDirName, "cvsps.cache")
		if f, openErr := os.Open(cacheFile); openErr == nil {
			defer f.Close()
			date, loadErr := cache.NewReader(f, store, idx).Load()
			if loadErr != nil {
				return nil, nil, errors.Wrap(loadErr, "loading cache")
			}
			if !date.IsZero() {
				tagresolver.Resolve(store, "", "")
				return store, idx, nil
			}
		}
	}

	cmd := exec.Command("cvs", "log")
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.Wrap(err, "creating stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, errors.Wrap(err, "spawning cvs log")
	}
	parser := logparser.New(store, idx, prefix, logger)
	if err := parser.Parse(stdout); err != nil {
		return nil, nil, errors.Wrap(err, "parsing log")
	}
	if err := cmd.Wait(); err != nil {
		logger.Warnf("cvs log exited with error: %v", err)
	}
	tagresolver.Resolve(store, "", "")
	return store, idx, nil
}
