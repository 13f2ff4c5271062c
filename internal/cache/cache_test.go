package cache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsps/cvsps-go/internal/cluster"
	"github.com/cvsps/cvsps-go/internal/model"
)

// buildFixture constructs a small two-file, two-patchset store: file a.c
// goes 1.1 -> 1.2 (PS1, PS2), file b.c carries a vendor branch and a tag.
func buildFixture() (*model.Store, *cluster.Index, []*model.PatchSet) {
	store := model.NewStore()
	idx := cluster.NewIndex(0)

	fa := store.FileByPath("a.c")
	ra1 := &model.Revision{Rev: "1.1", File: fa, Branch: "HEAD"}
	ra2 := &model.Revision{Rev: "1.2", File: fa, Branch: "HEAD"}
	fa.Revisions["1.1"] = ra1
	fa.Revisions["1.2"] = ra2

	ps1 := &model.PatchSet{ID: 1, Date: time.Unix(1000, 0), Author: "alice", Descr: "initial", Branch: "HEAD"}
	m1 := &model.PatchSetMember{File: fa, PostRev: ra1, PS: ps1}
	ra1.PostPSM = m1
	ps1.Members = append(ps1.Members, m1)

	ps2 := &model.PatchSet{ID: 2, Date: time.Unix(2000, 0), Author: "alice", Descr: "fix\nmultiline", Branch: "HEAD", TagFlags: model.TagOK}
	m2 := &model.PatchSetMember{File: fa, PostRev: ra2, PreRev: ra1, PS: ps2}
	ra2.PostPSM = m2
	ra1.PrePSM = m2
	ps2.Members = append(ps2.Members, m2)
	ps2.Tag = "REL1"

	fb := store.FileByPath("b.c")
	rb := &model.Revision{Rev: "1.1.1.1", File: fb, Branch: ""}
	fb.Revisions["1.1.1.1"] = rb
	fb.Branches["1.1.1"] = "IMPORT"
	fb.BranchesSym["IMPORT"] = "1.1.1"

	idx.InsertKnown(ps1)
	idx.InsertKnown(ps2)

	return store, idx, idx.InOrder()
}

func TestWriteLoadRoundTrip(t *testing.T) {
	store, _, ps := buildFixture()

	var buf bytes.Buffer
	cacheDate := time.Unix(5000, 0)
	require.NoError(t, NewWriter(&buf).Write(cacheDate, store, ps))

	loadedStore := model.NewStore()
	loadedIdx := cluster.NewIndex(0)
	got, err := NewReader(&buf, loadedStore, loadedIdx).Load()
	require.NoError(t, err)
	assert.Equal(t, cacheDate.Unix(), got.Unix())

	fa := loadedStore.Files["a.c"]
	require.NotNil(t, fa)
	ra1 := fa.GetRevision("1.1")
	ra2 := fa.GetRevision("1.2")
	require.NotNil(t, ra1)
	require.NotNil(t, ra2)
	assert.Equal(t, "HEAD", ra1.Branch)
	assert.Same(t, ra1, ra2.PostPSM.PreRev)
	assert.Same(t, ra2.PostPSM, ra1.PrePSM)

	fb := loadedStore.Files["b.c"]
	require.NotNil(t, fb)
	assert.Equal(t, "IMPORT", fb.Branches["1.1.1"])
	assert.Equal(t, "1.1.1", fb.BranchesSym["IMPORT"])

	loaded := loadedIdx.InOrder()
	require.Len(t, loaded, 2)
	assert.Equal(t, "alice", loaded[0].Author)
	assert.Equal(t, "initial", loaded[0].Descr)
	assert.Equal(t, "fix\nmultiline", loaded[1].Descr)
	assert.Equal(t, "REL1", loaded[1].Tag)
	assert.NotZero(t, loaded[1].TagFlags&model.TagOK)
	assert.True(t, loaded[1].Date.Equal(time.Unix(2000, 0)))

	assert.Equal(t, ra2, loaded[1].Members[0].PostRev)
	assert.Equal(t, ra1, loaded[1].Members[0].PreRev)
}

func TestWriteLoadRoundTripWithTag(t *testing.T) {
	store, _, ps := buildFixture()
	fa := store.Files["a.c"]
	store.AddTag(fa, "V1", fa.GetRevision("1.1"))

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(time.Unix(9000, 0), store, ps))

	loadedStore := model.NewStore()
	loadedIdx := cluster.NewIndex(0)
	_, err := NewReader(&buf, loadedStore, loadedIdx).Load()
	require.NoError(t, err)

	fa2 := loadedStore.Files["a.c"]
	require.NotNil(t, fa2)
	rev := fa2.Symbols["V1"]
	require.NotNil(t, rev)
	assert.Equal(t, "1.1", rev.Rev)

	sym := loadedStore.Symbols["V1"]
	require.NotNil(t, sym)
	assert.Len(t, sym.Tags, 1)
}

// TestLoadBranchMemberDoesNotOverwriteSameBranchPrePSM reconstructs a
// branch point -- 1.2 on HEAD is both the predecessor of 1.3 (same
// branch) and the root of 1.2.2.1 (FEATURE) -- and checks that loading
// the cache leaves 1.2's PrePSM pointing at the 1.3 member, matching
// what the live linker produces, rather than letting the later-written
// branch member clobber it.
func TestLoadBranchMemberDoesNotOverwriteSameBranchPrePSM(t *testing.T) {
	store := model.NewStore()
	idx := cluster.NewIndex(0)

	f := store.FileByPath("a.c")
	r12 := &model.Revision{Rev: "1.2", File: f, Branch: "HEAD"}
	r13 := &model.Revision{Rev: "1.3", File: f, Branch: "HEAD"}
	r1221 := &model.Revision{Rev: "1.2.2.1", File: f, Branch: "FEATURE"}
	f.Revisions["1.2"] = r12
	f.Revisions["1.3"] = r13
	f.Revisions["1.2.2.1"] = r1221

	psHead := &model.PatchSet{ID: 1, Date: time.Unix(1000, 0), Author: "alice", Branch: "HEAD"}
	mHead := &model.PatchSetMember{File: f, PostRev: r13, PreRev: r12, PS: psHead}
	r13.PostPSM = mHead
	r12.PrePSM = mHead
	psHead.Members = append(psHead.Members, mHead)

	psFeature := &model.PatchSet{ID: 2, Date: time.Unix(1100, 0), Author: "alice", Branch: "FEATURE"}
	mFeature := &model.PatchSetMember{File: f, PostRev: r1221, PreRev: r12, PS: psFeature}
	r1221.PostPSM = mFeature
	r12.BranchChildren = append(r12.BranchChildren, r1221)
	psFeature.Members = append(psFeature.Members, mFeature)

	idx.InsertKnown(psHead)
	idx.InsertKnown(psFeature)

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Write(time.Unix(5000, 0), store, idx.InOrder()))

	loadedStore := model.NewStore()
	loadedIdx := cluster.NewIndex(0)
	_, err := NewReader(&buf, loadedStore, loadedIdx).Load()
	require.NoError(t, err)

	f2 := loadedStore.Files["a.c"]
	require.NotNil(t, f2)
	r12Loaded := f2.GetRevision("1.2")
	require.NotNil(t, r12Loaded)
	require.NotNil(t, r12Loaded.PrePSM)
	assert.Equal(t, "1.3", r12Loaded.PrePSM.PostRev.Rev, "branch-point PrePSM must still point at its same-branch successor")
	require.Len(t, r12Loaded.BranchChildren, 1)
	assert.Equal(t, "1.2.2.1", r12Loaded.BranchChildren[0].Rev)
}

func TestLoadEmptyStreamSignalsNoCache(t *testing.T) {
	store := model.NewStore()
	idx := cluster.NewIndex(0)
	got, err := NewReader(bytes.NewReader(nil), store, idx).Load()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestLoadMalformedHeaderSignalsNoCache(t *testing.T) {
	store := model.NewStore()
	idx := cluster.NewIndex(0)
	got, err := NewReader(bytes.NewReader([]byte("not a cache file\n")), store, idx).Load()
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
