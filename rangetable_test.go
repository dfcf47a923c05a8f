package mimicidx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeTableSetBulkAndGet(t *testing.T) {
	rt := NewRangeTable()
	assert.NoError(t, rt.SetBulk("chartevents", map[int64]Range{
		10: {Start: 0, End: 100},
		20: {Start: 100, End: 250},
	}))

	rng, ok := rt.Get("chartevents", 10)
	assert.True(t, ok)
	assert.Equal(t, Range{Start: 0, End: 100}, rng)

	_, ok = rt.Get("chartevents", 999)
	assert.False(t, ok)

	_, ok = rt.Get("labevents", 10)
	assert.False(t, ok)

	assert.True(t, rt.HasColumns("chartevents"))
	assert.False(t, rt.HasColumns("labevents"))
}

func TestRangeTableSaveLoadRoundTrip(t *testing.T) {
	rt := NewRangeTable()
	assert.NoError(t, rt.SetBulk("chartevents", map[int64]Range{
		30: {Start: 0, End: 50},
		10: {Start: 50, End: 120},
	}))

	path := filepath.Join(t.TempDir(), "subject_range_table.csv")
	assert.NoError(t, rt.Save(path))

	rt2 := NewRangeTable()
	assert.NoError(t, rt2.Load(path))

	rng, ok := rt2.Get("chartevents", 30)
	assert.True(t, ok)
	assert.Equal(t, Range{Start: 0, End: 50}, rng)

	assert.Equal(t, []int64{10, 30}, rt2.KnownSubjects())
}

func TestRangeTableSaveIsIdempotentAfterRepeatedBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subject_range_table.csv")

	rt := NewRangeTable()
	assert.NoError(t, rt.SetBulk("chartevents", map[int64]Range{5: {Start: 0, End: 40}}))
	assert.NoError(t, rt.Save(path))
	first, err := os.ReadFile(path)
	assert.NoError(t, err)

	rt2 := NewRangeTable()
	assert.NoError(t, rt2.Load(path))
	assert.NoError(t, rt2.SetBulk("chartevents", map[int64]Range{5: {Start: 0, End: 40}}))
	assert.NoError(t, rt2.Save(path))
	second, err := os.ReadFile(path)
	assert.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRangeTableRebuildMarksMissingSubjectsAbsent(t *testing.T) {
	rt := NewRangeTable()
	assert.NoError(t, rt.SetBulk("chartevents", map[int64]Range{1: {Start: 0, End: 10}, 2: {Start: 10, End: 20}}))

	// A rebuild of chartevents that no longer sees subject 2 (e.g. its
	// rows were removed upstream) must mark it absent, not leave a
	// stale range.
	assert.NoError(t, rt.SetBulk("chartevents", map[int64]Range{1: {Start: 0, End: 15}}))

	rng, ok := rt.Get("chartevents", 2)
	assert.True(t, ok)
	assert.Equal(t, Range{}, rng)
}

func TestRangeTableLoadMissingFileIsEmptyNotError(t *testing.T) {
	rt := NewRangeTable()
	err := rt.Load(filepath.Join(t.TempDir(), "does-not-exist.csv"))
	assert.NoError(t, err)
	assert.Empty(t, rt.KnownSubjects())
}

func TestRangeTableLoadRejectsUnpairedColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	assert.NoError(t, os.WriteFile(path, []byte("subject_id,chartevents_start\n1,0\n"), 0644))

	rt := NewRangeTable()
	err := rt.Load(path)
	assert.Error(t, err)
}
