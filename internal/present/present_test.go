package present

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsps/cvsps-go/internal/model"
)

func buildPatchSets() []*model.PatchSet {
	f := &model.File{Path: "a.c"}
	r1 := &model.Revision{Rev: "1.1", File: f}
	r2 := &model.Revision{Rev: "1.2", File: f}

	ps1 := &model.PatchSet{ID: 1, Date: time.Unix(1000, 0), Author: "alice", Descr: "initial import", Branch: "HEAD"}
	ps1.Members = []*model.PatchSetMember{{File: f, PostRev: r1, PS: ps1}}

	ps2 := &model.PatchSet{ID: 2, Date: time.Unix(2000, 0), Author: "bob", Descr: "fix bug", Branch: "HEAD"}
	ps2.Members = []*model.PatchSetMember{{File: f, PostRev: r2, PreRev: r1, PS: ps2}}

	ps3 := &model.PatchSet{ID: 3, Date: time.Unix(3000, 0), Author: "alice", Descr: "branch add", Branch: "FEATURE", BranchAdd: true}

	return []*model.PatchSet{ps1, ps2, ps3}
}

func TestSelectSkipsBranchAddAndAssignsCounter(t *testing.T) {
	sel := Select(buildPatchSets(), Options{})
	require.Len(t, sel, 2)
	assert.Equal(t, 1, sel[0].Counter)
	assert.Equal(t, 2, sel[1].Counter)
}

func TestSelectFiltersByAuthor(t *testing.T) {
	sel := Select(buildPatchSets(), Options{Author: "bob"})
	require.Len(t, sel, 1)
	assert.Equal(t, "fix bug", sel[0].PS.Descr)
}

func TestSelectFiltersByBodyRegex(t *testing.T) {
	sel := Select(buildPatchSets(), Options{BodyRegex: regexp.MustCompile(`^fix`)})
	require.Len(t, sel, 1)
	assert.Equal(t, 2, sel[0].Counter)
}

func TestSelectFiltersByRange(t *testing.T) {
	sel := Select(buildPatchSets(), Options{Ranges: []model.PatchSetRange{{Min: 1, Max: 1}}})
	require.Len(t, sel, 1)
	assert.Equal(t, 1, sel[0].Counter)
}

func TestSelectTagRangeRespectsFunkFactor(t *testing.T) {
	all := buildPatchSets()
	start := &model.PatchSet{Date: time.Unix(1500, 0)}
	// ps1 (t=1000) falls before the start boundary but FunkFactor forces it in.
	all[0].FunkFactor = 1

	sel := Select(all, Options{RestrictTagStart: start})
	counters := make([]int, 0, len(sel))
	for _, s := range sel {
		counters = append(counters, s.Counter)
	}
	assert.Contains(t, counters, 1)
	assert.Contains(t, counters, 2)
}

func TestSelectTagRangeExcludesBeforeStart(t *testing.T) {
	all := buildPatchSets()
	start := &model.PatchSet{Date: time.Unix(1500, 0)}

	sel := Select(all, Options{RestrictTagStart: start})
	require.Len(t, sel, 1)
	assert.Equal(t, 2, sel[0].Counter)
}

type stubDiffRunner struct{ calls int }

func (s *stubDiffRunner) Diff(m *model.PatchSetMember) (string, error) {
	s.calls++
	return "--- diff ---\n", nil
}

func TestEmitWritesDiffsOnlyWhenRangesGiven(t *testing.T) {
	all := buildPatchSets()
	sel := Select(all, Options{})

	var buf bytes.Buffer
	runner := &stubDiffRunner{}
	require.NoError(t, Emit(&buf, sel, Options{}, runner))
	assert.Equal(t, 0, runner.calls)
	assert.Contains(t, buf.String(), "PatchSet 1")

	buf.Reset()
	require.NoError(t, Emit(&buf, sel, Options{Ranges: []model.PatchSetRange{{Min: 1, Max: 2}}}, runner))
	assert.Equal(t, 1, runner.calls, "only ps2 has a non-INITIAL predecessor to diff")
	assert.Contains(t, buf.String(), "--- diff ---")
}

func TestEmitSummaryFirstOrdersBothPasses(t *testing.T) {
	all := buildPatchSets()
	sel := Select(all, Options{Ranges: []model.PatchSetRange{{Min: 1, Max: 2}}})

	var buf bytes.Buffer
	runner := &stubDiffRunner{}
	require.NoError(t, Emit(&buf, sel, Options{Ranges: []model.PatchSetRange{{Min: 1, Max: 2}}, SummaryFirst: true}, runner))

	out := buf.String()
	secondSummary := indexOf(out, "PatchSet 2")
	firstDiff := indexOf(out, "--- diff ---")
	require.NotEqual(t, -1, secondSummary)
	require.NotEqual(t, -1, firstDiff)
	assert.True(t, secondSummary < firstDiff, "all summaries must precede all diffs")
}

func TestEmitAppliesBranchAliasToDisplayOnly(t *testing.T) {
	all := buildPatchSets()
	sel := Select(all, Options{Branch: "HEAD"})
	require.Len(t, sel, 2)

	var buf bytes.Buffer
	opts := Options{BranchAlias: func(b string) string {
		if b == "HEAD" {
			return "trunk"
		}
		return b
	}}
	require.NoError(t, Emit(&buf, sel, opts, &stubDiffRunner{}))
	assert.Contains(t, buf.String(), "Branch: trunk")
	assert.NotContains(t, buf.String(), "Branch: HEAD")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
