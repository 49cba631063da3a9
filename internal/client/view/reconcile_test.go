package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// recordingRenderer counts applied mutations and tracks scroll calls.
type recordingRenderer struct {
	applied  []Mutation
	offset   int
	restored []int
}

func (r *recordingRenderer) Apply(m Mutation)         { r.applied = append(r.applied, m) }
func (r *recordingRenderer) ScrollOffset() int        { return r.offset }
func (r *recordingRenderer) RestoreScroll(offset int) { r.restored = append(r.restored, offset) }

func rec(id string, cat types.Category, added int64) types.JobRecord {
	return types.JobRecord{
		ID:         types.JobID(id),
		Name:       "job " + id,
		State:      types.StateDownloading,
		Progress:   0.5,
		SizeBytes:  1 << 30,
		SeedCount:  10,
		PeerCount:  3,
		ETASeconds: 600,
		Category:   cat,
		AddedAt:    added,
	}
}

func snapOf(recs ...types.JobRecord) *types.Snapshot {
	return &types.Snapshot{Jobs: recs}
}

func kinds(muts []Mutation) []MutationKind {
	out := make([]MutationKind, len(muts))
	for i, m := range muts {
		out[i] = m.Kind
	}
	return out
}

func ids(s ...string) []types.JobID {
	out := make([]types.JobID, len(s))
	for i, x := range s {
		out[i] = types.JobID(x)
	}
	return out
}

func TestInitialRenderGroupsAndSorts(t *testing.T) {
	r := &recordingRenderer{}
	rc := NewReconciler(r)

	rc.Apply(snapOf(
		rec("m-old", types.CategoryMovies, 100),
		rec("tv", types.CategoryTVShows, 150),
		rec("m-new", types.CategoryMovies, 200),
	))

	v := rc.State()
	assert.False(t, v.Placeholder())
	assert.Equal(t, 2, v.Section(types.CategoryMovies).Count)
	assert.Equal(t, 1, v.Section(types.CategoryTVShows).Count)
	assert.True(t, v.Section(types.CategoryOther).Hidden)
	assert.Equal(t, ids("m-new", "m-old"), v.Section(types.CategoryMovies).IDs())
	assert.Equal(t, ids("m-new", "m-old", "tv"), v.Order())
}

func TestUnknownCategoryGoesToOther(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(rec("x", "documentaries", 1), rec("y", "", 2)))
	assert.Equal(t, ids("y", "x"), rc.State().Section(types.CategoryOther).IDs())
}

func TestStableSortKeepsSnapshotOrderOnTies(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(rec("b", types.CategoryOther, 5), rec("a", types.CategoryOther, 5), rec("c", types.CategoryOther, 0)))
	assert.Equal(t, ids("b", "a", "c"), rc.State().Order())
}

func TestIdempotentSecondPass(t *testing.T) {
	r := &recordingRenderer{}
	rc := NewReconciler(r)
	s := snapOf(rec("a", types.CategoryMovies, 3), rec("b", types.CategoryTVShows, 2), rec("c", "", 1))

	first := rc.Apply(s)
	require.NotEmpty(t, first)
	assert.Empty(t, rc.Apply(s))

	copied := snapOf(append([]types.JobRecord(nil), s.Jobs...)...)
	assert.Empty(t, rc.Apply(copied), "an equal snapshot is as good as the same one")
	assert.Len(t, r.applied, len(first))
}

func TestMinimalDiffOnProgressChange(t *testing.T) {
	rc := NewReconciler(nil)
	a, b := rec("a", types.CategoryMovies, 2), rec("b", types.CategoryMovies, 1)
	rc.Apply(snapOf(a, b))
	elB, _ := rc.State().Element("b")

	b.Progress = 0.75
	muts := rc.Apply(snapOf(a, b))

	require.NotEmpty(t, muts)
	for _, m := range muts {
		assert.Equal(t, MutUpdate, m.Kind)
		assert.Equal(t, types.JobID("b"), m.ID)
		assert.Contains(t, []Attr{AttrProgressWidth, AttrPercent}, m.Attr)
	}
	assert.Len(t, muts, 2)

	after, _ := rc.State().Element("b")
	assert.Same(t, elB, after, "element reused")
	assert.Equal(t, "75.0%", after.Attrs.Get(AttrPercent))
}

func TestRemovalDoesNotTouchOthers(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(rec("a", types.CategoryMovies, 3), rec("b", types.CategoryMovies, 2), rec("c", types.CategoryMovies, 1)))
	elA, _ := rc.State().Element("a")
	elC, _ := rc.State().Element("c")

	muts := rc.Apply(snapOf(rec("a", types.CategoryMovies, 3), rec("c", types.CategoryMovies, 1)))

	assert.Equal(t, []MutationKind{MutRemove, MutSetCount}, kinds(muts))
	assert.Equal(t, types.JobID("b"), muts[0].ID)
	_, ok := rc.State().Element("b")
	assert.False(t, ok)

	a2, _ := rc.State().Element("a")
	c2, _ := rc.State().Element("c")
	assert.Same(t, elA, a2)
	assert.Same(t, elC, c2)
	assert.Equal(t, ids("a", "c"), rc.State().Order())
}

func TestInsertAtTargetIndex(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(rec("a", types.CategoryMovies, 3), rec("c", types.CategoryMovies, 1)))

	muts := rc.Apply(snapOf(rec("a", types.CategoryMovies, 3), rec("b", types.CategoryMovies, 2), rec("c", types.CategoryMovies, 1)))
	assert.Equal(t, []MutationKind{MutCreate, MutSetCount}, kinds(muts))
	assert.Equal(t, 1, muts[0].Index)
	assert.Equal(t, ids("a", "b", "c"), rc.State().Order())
}

func TestRepositionOnAddedAtChange(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(rec("a", types.CategoryOther, 2), rec("b", types.CategoryOther, 1)))

	muts := rc.Apply(snapOf(rec("a", types.CategoryOther, 2), rec("b", types.CategoryOther, 3)))
	assert.Equal(t, []MutationKind{MutReposition}, kinds(muts))
	assert.Equal(t, ids("b", "a"), rc.State().Order())
}

func TestCategoryChangeMovesElement(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(rec("x", types.CategoryOther, 2), rec("y", types.CategoryOther, 1)))
	el, _ := rc.State().Element("x")

	muts := rc.Apply(snapOf(rec("x", types.CategoryMovies, 2), rec("y", types.CategoryOther, 1)))

	assert.Equal(t, []MutationKind{MutMove, MutSetCount, MutShowSection, MutSetCount}, kinds(muts))
	assert.Equal(t, types.CategoryMovies, muts[0].Section)
	moved, _ := rc.State().Element("x")
	assert.Same(t, el, moved)
	assert.Equal(t, types.CategoryMovies, moved.Section)
	assert.Equal(t, ids("y"), rc.State().Section(types.CategoryOther).IDs())
}

func TestFilterRoundTrip(t *testing.T) {
	rc := NewReconciler(nil)
	rc.Apply(snapOf(
		rec("m1", types.CategoryMovies, 5),
		rec("t1", types.CategoryTVShows, 4),
		rec("m2", types.CategoryMovies, 6),
		rec("o1", types.CategoryOther, 1),
	))
	before := rc.State().Order()

	rc.SetFilter(FilterMovies)
	v := rc.State()
	assert.Equal(t, ids("m2", "m1"), v.Order())
	assert.True(t, v.Section(types.CategoryTVShows).Hidden)
	assert.True(t, v.Section(types.CategoryOther).Hidden)
	assert.Len(t, v.Sections(), 3, "hidden sections stay in the structure")

	rc.SetFilter(FilterAll)
	assert.Equal(t, before, rc.State().Order())
	assert.False(t, rc.State().Section(types.CategoryTVShows).Hidden)
}

func TestPlaceholderSwap(t *testing.T) {
	rc := NewReconciler(nil)
	assert.Empty(t, rc.Apply(snapOf()), "empty stays empty")

	muts := rc.Apply(snapOf(rec("a", types.CategoryMovies, 1)))
	assert.Equal(t, MutHidePlaceholder, muts[0].Kind)

	muts = rc.Apply(snapOf())
	assert.Equal(t, []MutationKind{MutRemove, MutShowPlaceholder, MutSetCount, MutHideSection}, kinds(muts))
	assert.True(t, rc.State().Placeholder())
	assert.Zero(t, rc.State().Len())
}

func TestScrollOffsetRestored(t *testing.T) {
	r := &recordingRenderer{offset: 7}
	rc := NewReconciler(r)
	rc.Apply(snapOf(rec("a", types.CategoryMovies, 1)))
	r.offset = 12
	rc.Apply(snapOf(rec("a", types.CategoryMovies, 1), rec("b", types.CategoryMovies, 2)))
	assert.Equal(t, []int{7, 12}, r.restored)
}

func TestStateFlipUpdatesOnlyThatCard(t *testing.T) {
	r := &recordingRenderer{offset: 40}
	rc := NewReconciler(r)

	m1 := rec("m1", types.CategoryMovies, 300)
	m2 := rec("m2", types.CategoryMovies, 100)
	tv := rec("tv", types.CategoryTVShows, 200)
	rc.Apply(snapOf(m2, tv, m1))

	v := rc.State()
	assert.Equal(t, 2, v.Section(types.CategoryMovies).Count)
	assert.Equal(t, 1, v.Section(types.CategoryTVShows).Count)
	assert.Equal(t, ids("m1", "m2"), v.Section(types.CategoryMovies).IDs())
	el, _ := v.Element("m1")

	m1.State = types.StateSeeding
	m1.Progress = 1
	muts := rc.Apply(snapOf(m2, tv, m1))

	changed := map[Attr]string{}
	for _, m := range muts {
		require.Equal(t, MutUpdate, m.Kind)
		require.Equal(t, types.JobID("m1"), m.ID)
		changed[m.Attr] = m.Value
	}
	assert.Equal(t, map[Attr]string{
		AttrStateLabel:    "Seeding",
		AttrStateClass:    "seeding",
		AttrProgressWidth: "100.00",
		AttrPercent:       "100.0%",
	}, changed)

	after, _ := v.Element("m1")
	assert.Same(t, el, after)
	assert.Equal(t, []int{40, 40}, r.restored)
}

func TestDuplicateIDKeepsFirst(t *testing.T) {
	rc := NewReconciler(nil)
	first := rec("a", types.CategoryMovies, 1)
	dup := rec("a", types.CategoryTVShows, 2)
	rc.Apply(snapOf(first, dup))
	assert.Equal(t, 1, rc.State().Len())
	el, _ := rc.State().Element("a")
	assert.Equal(t, types.CategoryMovies, el.Section)
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("TV_Shows")
	require.NoError(t, err)
	assert.Equal(t, FilterTVShows, f)
	f, _ = ParseFilter("")
	assert.Equal(t, FilterAll, f)
	_, err = ParseFilter("music")
	assert.Error(t, err)
	assert.Equal(t, FilterMovies, FilterAll.Next())
	assert.Equal(t, FilterAll, FilterOther.Next())
}

func TestFormatting(t *testing.T) {
	a := RenderAttrs(types.JobRecord{
		SizeBytes:    1536 << 20,
		DownloadRate: 2 << 20,
		ETASeconds:   3725,
		Enrichment:   &types.Enrichment{Rating: 7.84, Genres: []string{"Drama", "Comedy"}},
	})
	assert.Equal(t, "1.5 GiB", a.Get(AttrSize))
	assert.Equal(t, "2.0 MiB/s", a.Get(AttrDownRate))
	assert.Equal(t, "0 B/s", a.Get(AttrUpRate))
	assert.Equal(t, "1h 02m", a.Get(AttrETA))
	assert.Equal(t, "★ 7.8 · Drama, Comedy", a.Get(AttrEnrichment))

	assert.Equal(t, "∞", FormatETA(-1))
	assert.Equal(t, "∞", FormatETA(8640000))
	assert.Equal(t, "45s", FormatETA(45))
	assert.Equal(t, "2d 03h", FormatETA(2*86400+3*3600))
}
