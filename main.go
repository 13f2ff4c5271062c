// Command cvsps reconstructs logical patch sets from a CVS repository's
// per-file RCS log, per spec.md: it reads CVS/Root and CVS/Repository to
// compute the path prefix, streams "cvs log" output through
// internal/logparser, clusters revisions into patch sets, resolves global
// tags, maintains a persistent cache across runs, and prints a restricted
// summary (and, with -s, a diff) of the result.
package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cvsps/cvsps-go/config"
	"github.com/cvsps/cvsps-go/internal/cache"
	"github.com/cvsps/cvsps-go/internal/cluster"
	"github.com/cvsps/cvsps-go/internal/diffrun"
	"github.com/cvsps/cvsps-go/internal/logparser"
	"github.com/cvsps/cvsps-go/internal/model"
	"github.com/cvsps/cvsps-go/internal/present"
	"github.com/cvsps/cvsps-go/internal/rcsroot"
	"github.com/cvsps/cvsps-go/internal/tagresolver"
	"github.com/cvsps/cvsps-go/internal/version"
)

// runOptions collects everything main needs to drive one run, mirroring
// the teacher's GitParserOptions shape: flags land here once at startup
// and every later stage reads from this struct instead of touching the
// flag vars directly.
type runOptions struct {
	cfg *config.Config

	fuzz         int
	norc         bool
	ignoreCache  bool
	refreshCache bool
	patchDir     string
	summaryFirst bool
	stats        bool

	ranges    []model.PatchSetRange
	author    string
	fileSub   string
	branch    string
	bodyRegex *regexp.Regexp
	dateSince time.Time
	dateUntil time.Time
	tagStart  string
	tagEnd    string
}

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for cvsps.",
		).Default("cvsps.yaml").Short('c').String()
		fuzz = kingpin.Flag(
			"fuzz",
			"Time fuzz factor (seconds) for clustering revisions into a patch set.",
		).Default(strconv.Itoa(config.DefaultFuzz)).Short('z').Int()
		ranges = kingpin.Flag(
			"patchset",
			"Comma-separated list of patch-set numbers or ranges (N or N-M) to report.",
		).Short('s').String()
		author = kingpin.Flag(
			"author",
			"Restrict output to patch sets by this author.",
		).Short('a').String()
		fileSub = kingpin.Flag(
			"file",
			"Restrict output to patch sets touching a file whose path contains this substring.",
		).Short('f').String()
		logRegex = kingpin.Flag(
			"log-regex",
			"Restrict output to patch sets whose log message matches this regular expression.",
		).Short('l').String()
		branch = kingpin.Flag(
			"branch",
			"Restrict output to patch sets on this branch.",
		).Short('b').String()
		dates = kingpin.Flag(
			"date",
			"Restrict to patch sets since this date (give twice for a since/until window).",
		).Short('d').Strings()
		tags = kingpin.Flag(
			"tag",
			"Restrict to patch sets bounded by this tag (give twice for a start/end window).",
		).Short('r').Strings()
		refreshCache = kingpin.Flag(
			"update-cache",
			"Update the persistent cache with any log entries newer than its last run.",
		).Short('u').Bool()
		ignoreCache = kingpin.Flag(
			"ignore-cache",
			"Ignore any existing cache and rebuild it from scratch.",
		).Short('x').Bool()
		patchDir = kingpin.Flag(
			"patch-dir",
			"Write one summary+diff file per selected patch set under this directory, instead of stdout.",
		).Short('p').String()
		verbose = kingpin.Flag(
			"verbose",
			"Enable debug-level logging.",
		).Short('v').Bool()
		stats = kingpin.Flag(
			"stats",
			"Print file/patch-set counts on exit.",
		).Short('t').Bool()
		norc = kingpin.Flag(
			"norc",
			"Run the underlying cvs invocation with -f, so it skips its ~/.cvsrc.",
		).Bool()
		summaryFirst = kingpin.Flag(
			"summary-first",
			"Emit every patch-set summary before any diff, instead of interleaving them.",
		).Bool()
		enableProfile = kingpin.Flag(
			"profile",
			"Write a memory profile (mem.pprof, in a temporary directory) of this run.",
		).Bool()
	)
	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("cvsps")).Author("cvsps-go")
	kingpin.CommandLine.Help = "Reconstructs logical patch sets from a CVS repository's RCS log.\n"
	kingpin.HelpFlag.Short('h')
	kingpin.Parse()

	if *enableProfile {
		defer profile.Start(profile.MemProfile).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *verbose {
		logger.Level = logrus.DebugLevel
	}

	cfg, err := config.LoadConfigFile(*configFile)
	if err != nil {
		logger.Debugf("no config file loaded (%v); using defaults", err)
		cfg, _ = config.Unmarshal(nil)
	}
	if *fuzz != config.DefaultFuzz {
		cfg.Fuzz = *fuzz
	}

	opts := &runOptions{
		cfg:          cfg,
		fuzz:         cfg.Fuzz,
		norc:         *norc,
		ignoreCache:  *ignoreCache,
		refreshCache: *refreshCache,
		patchDir:     *patchDir,
		summaryFirst: *summaryFirst,
		stats:        *stats,
		author:       *author,
		fileSub:      *fileSub,
		branch:       *branch,
	}

	if *ranges != "" {
		parsed, err := parseRanges(*ranges)
		if err != nil {
			logger.Errorf("invalid -s value %q: %v", *ranges, err)
			os.Exit(1)
		}
		opts.ranges = parsed
	}
	if *logRegex != "" {
		re, err := regexp.Compile(*logRegex)
		if err != nil {
			logger.Errorf("invalid -l regex %q: %v", *logRegex, err)
			os.Exit(1)
		}
		opts.bodyRegex = re
	}
	if len(*dates) > 0 {
		since, err := parseDate((*dates)[0])
		if err != nil {
			logger.Errorf("invalid -d value %q: %v", (*dates)[0], err)
			os.Exit(1)
		}
		opts.dateSince = since
	}
	if len(*dates) > 1 {
		until, err := parseDate((*dates)[1])
		if err != nil {
			logger.Errorf("invalid -d value %q: %v", (*dates)[1], err)
			os.Exit(1)
		}
		opts.dateUntil = until
	}
	if len(*tags) > 0 {
		opts.tagStart = (*tags)[0]
	}
	if len(*tags) > 1 {
		opts.tagEnd = (*tags)[1]
	}

	logger.Infof("%v", version.Print("cvsps"))
	if err := run(logger, opts); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

// run executes one end-to-end pass: load any cache, stream the log,
// resolve tags, refresh the cache, then select and emit output. It
// mirrors the teacher's NewGitP4Transfer/GitParse/journal-write
// sequencing, generalized from a channel-driven commit stream to a
// single blocking parse since spec.md §5 requires one cooperative thread
// of control.
func run(logger *logrus.Logger, opts *runOptions) error {
	prefix, err := rcsroot.Prefix("CVS/Root", "CVS/Repository")
	if err != nil {
		return errors.Wrap(err, "reading CVS/Root and CVS/Repository")
	}

	cacheDir := opts.cfg.CacheDir
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "resolving cache directory")
		}
		cacheDir = filepath.Join(home, config.DefaultCacheDirName)
	}
	if err := os.MkdirAll(cacheDir, 0o777); err != nil {
		return errors.Wrapf(err, "creating cache directory %s", cacheDir)
	}
	cacheFile := filepath.Join(cacheDir, "cvsps.cache")

	store := model.NewStore()
	idx := cluster.NewIndex(opts.fuzz)

	var cacheDate time.Time
	updateCache := opts.ignoreCache
	if !opts.ignoreCache {
		loaded, ok, err := loadCache(cacheFile, store, idx)
		if err != nil {
			return errors.Wrap(err, "loading cache")
		}
		if !ok {
			updateCache = true
		} else {
			cacheDate = loaded
		}
	}
	if opts.refreshCache {
		updateCache = true
	}

	logSource, err := openLogSource(opts.norc, cacheDate, updateCache)
	if err != nil {
		return errors.Wrap(err, "acquiring log source")
	}
	defer logSource.Close()

	parser := logparser.New(store, idx, prefix, logger)
	if err := parser.Parse(logSource); err != nil {
		return errors.Wrap(err, "parsing log")
	}
	if err := logSource.wait(); err != nil {
		logger.Warnf("log source exited with error: %v", err)
	}

	tagresolver.Resolve(store, opts.tagStart, opts.tagEnd)

	if updateCache {
		if err := writeCache(cacheFile, store, idx); err != nil {
			// spec.md §7: cache-write failure is logged and non-fatal.
			logger.Errorf("writing cache: %v", err)
		}
	}

	var restrictStart, restrictEnd *model.PatchSet
	if opts.tagStart != "" {
		if sym, ok := store.Symbols[opts.tagStart]; ok {
			restrictStart = sym.PS
		}
	}
	if opts.tagEnd != "" {
		if sym, ok := store.Symbols[opts.tagEnd]; ok {
			restrictEnd = sym.PS
		}
	}

	selectOpts := present.Options{
		DateSince:        opts.dateSince,
		DateUntil:        opts.dateUntil,
		Author:           opts.author,
		BodyRegex:        opts.bodyRegex,
		FileSubstring:    opts.fileSub,
		Branch:           opts.branch,
		Ranges:           opts.ranges,
		RestrictTagStart: restrictStart,
		RestrictTagEnd:   restrictEnd,
		SummaryFirst:     opts.summaryFirst,
		BranchAlias:      opts.cfg.Alias,
	}
	selected := present.Select(idx.InOrder(), selectOpts)

	runner := diffrun.NewRunner(opts.cfg.DiffCommand, logger)

	if opts.patchDir != "" {
		if err := emitPerPatchSetFiles(opts.patchDir, selected, selectOpts, runner); err != nil {
			return errors.Wrapf(err, "writing patch-set files under %s", opts.patchDir)
		}
	} else if err := present.Emit(os.Stdout, selected, selectOpts, runner); err != nil {
		return errors.Wrap(err, "writing output")
	}

	if opts.stats {
		logger.Infof("%d files, %d patch sets, %d selected", len(store.Files), idx.Len(), len(selected))
	}
	return nil
}

func loadCache(path string, store *model.Store, idx *cluster.Index) (time.Time, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	defer f.Close()

	date, err := cache.NewReader(f, store, idx).Load()
	if err != nil {
		return time.Time{}, false, err
	}
	if date.IsZero() {
		return time.Time{}, false, nil
	}
	return date, true, nil
}

func writeCache(path string, store *model.Store, idx *cluster.Index) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return cache.NewWriter(f).Write(time.Now(), store, idx.InOrder())
}

// emitPerPatchSetFiles writes one "<counter>.patch" file per selected
// patch set, each containing that patch set's full summary and diff,
// per spec.md §6's -p. cvsps.c's own -p implementation (patch_set_dir)
// names files this way directly -- no directory tree beyond the flat
// target dir is ever built.
func emitPerPatchSetFiles(dir string, selected []present.Selected, opts present.Options, runner present.DiffRunner) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	forceDiffs := opts
	forceDiffs.Ranges = []model.PatchSetRange{{Min: 0, Max: 0}}

	for _, s := range selected {
		path := filepath.Join(dir, fmt.Sprintf("%d.patch", s.Counter))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = present.Emit(f, []present.Selected{s}, forceDiffs, runner)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "writing %s", path)
		}
	}
	return nil
}

func parseRanges(spec string) ([]model.PatchSetRange, error) {
	var out []model.PatchSetRange
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i := strings.IndexByte(part, '-'); i >= 0 {
			minStr, maxStr := part[:i], part[i+1:]
			min, err := strconv.Atoi(strings.TrimSpace(minStr))
			if err != nil {
				return nil, errors.Wrapf(err, "parsing range %q", part)
			}
			max := 0
			if maxStr = strings.TrimSpace(maxStr); maxStr != "" {
				max, err = strconv.Atoi(maxStr)
				if err != nil {
					return nil, errors.Wrapf(err, "parsing range %q", part)
				}
			}
			out = append(out, model.PatchSetRange{Min: min, Max: max})
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing patch-set number %q", part)
		}
		out = append(out, model.PatchSetRange{Min: n, Max: n})
	}
	return out, nil
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized date %q", s)
}

// logSource is a ReadCloser over the external log command's stdout, with
// a wait method to reap the child and surface its (non-fatal) exit error.
type logSource struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *logSource) wait() error {
	if s.cmd == nil {
		return nil
	}
	return s.cmd.Wait()
}

// openLogSource spawns the "cvs log" invocation that feeds the parser.
// When updateCache is true and a prior cache date is known, -d'>date' asks
// cvs to emit only revisions newer than the cache, per spec.md §7's
// incremental-refresh overlap; norc adds cvs's global -f option (skip
// ~/.cvsrc) ahead of "log", the "config flags the underlying tool also understands" idiom spec.md
// §6 describes for -b/-d/-r feeding straight through to both layers.
func openLogSource(norc bool, cacheDate time.Time, updateCache bool) (*logSource, error) {
	args := []string{"log"}
	if norc {
		args = append([]string{"-f"}, args...)
	}
	if updateCache && !cacheDate.IsZero() {
		args = append(args, "-d", fmt.Sprintf(">%s", cacheDate.UTC().Format("2006-01-02 15:04:05")))
	}
	cmd := exec.Command("cvs", args...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "creating stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "spawning cvs log")
	}
	return &logSource{ReadCloser: stdout, cmd: cmd}, nil
}
