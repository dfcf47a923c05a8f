package mimicidx

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChartEventsFixture writes a small gzip CSV sorted by
// subject_id, with a variable number of rows per subject, the way a
// real chartevents extract would look.
func buildChartEventsFixture(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("subject_id,value\n")
	buf.WriteString("10,a\n")
	buf.WriteString("10,b\n")
	buf.WriteString("20,c\n")
	buf.WriteString("30,d\n")
	buf.WriteString("30,e\n")
	buf.WriteString("30,f\n")

	path := filepath.Join(t.TempDir(), "chartevents.csv.gz")
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(buf.Bytes())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, gz.Bytes(), 0644))
	return path
}

func newTestEngine(t *testing.T, filePath string) (*Catalog, *RangeTable) {
	t.Helper()
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{
		DatasetID:  "chartevents",
		FilePath:   filePath,
		SortColumn: "subject_id",
	}))

	rangeTable := NewRangeTable()
	builder := NewBuilder(catalog, rangeTable, 64, nil)
	require.NoError(t, builder.Build("chartevents"))

	return catalog, rangeTable
}

// TestScenarioE1MinimalBuildAndQuery covers the smallest end-to-end
// path: build a dataset's index, then fetch one subject's rows.
func TestScenarioE1MinimalBuildAndQuery(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog, rangeTable := newTestEngine(t, path)

	engine, err := NewQueryEngine(catalog, rangeTable, "chartevents", nil)
	require.NoError(t, err)

	batch, err := engine.Search(30)
	require.NoError(t, err)
	assert.Equal(t, []string{"30,d", "30,e", "30,f"}, batch.Lines)
}

// TestScenarioE2SubjectNotPresent covers a subject id that is never
// seen at all -- not an error, just an empty batch (spec: SubjectAbsent
// is not a failure).
func TestScenarioE2SubjectNotPresent(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog, rangeTable := newTestEngine(t, path)

	engine, err := NewQueryEngine(catalog, rangeTable, "chartevents", nil)
	require.NoError(t, err)

	batch, err := engine.Search(999)
	require.NoError(t, err)
	assert.Empty(t, batch.Lines)
}

// TestScenarioE2bIndexedDatasetWithoutColumnsIsIndexMissing covers the
// distinct failure path: a dataset that has never been built at all.
func TestScenarioE2bIndexedDatasetWithoutColumnsIsIndexMissing(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "labevents", FilePath: "unused.csv.gz", SortColumn: "subject_id"}))
	rangeTable := NewRangeTable()

	engine, err := NewQueryEngine(catalog, rangeTable, "labevents", nil)
	require.NoError(t, err)

	_, err = engine.Search(10)
	require.Error(t, err)
	engineErr, ok := err.(*EngineError)
	require.True(t, ok)
	assert.Equal(t, KindIndexMissing, engineErr.Kind)
}

// TestScenarioE3SingleRowSubject covers a subject with exactly one
// row, the minimal non-empty range.
func TestScenarioE3SingleRowSubject(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog, rangeTable := newTestEngine(t, path)

	engine, err := NewQueryEngine(catalog, rangeTable, "chartevents", nil)
	require.NoError(t, err)

	batch, err := engine.Search(20)
	require.NoError(t, err)
	assert.Equal(t, []string{"20,c"}, batch.Lines)
}

// TestScenarioE4QueryUnknownDataset covers the usage-error path: a
// QueryEngine can't even be constructed for a dataset the catalog
// doesn't know.
func TestScenarioE4QueryUnknownDataset(t *testing.T) {
	catalog := NewCatalog()
	rangeTable := NewRangeTable()

	_, err := NewQueryEngine(catalog, rangeTable, "nope", nil)
	require.Error(t, err)
	engineErr, ok := err.(*EngineError)
	require.True(t, ok)
	assert.Equal(t, KindUsage, engineErr.Kind)
}

// TestBuilderProducesSameRangesWhenDataUnchanged is P4 (idempotence):
// building the same unchanged dataset from scratch twice, into two
// independent tables, must give byte-identical Subject-Range Table
// output.
func TestBuilderProducesSameRangesWhenDataUnchanged(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "chartevents", FilePath: path, SortColumn: "subject_id"}))

	tablePath := filepath.Join(t.TempDir(), "subject_range_table.csv")

	rt1 := NewRangeTable()
	require.NoError(t, NewBuilder(catalog, rt1, 64, nil).Build("chartevents"))
	require.NoError(t, rt1.Save(tablePath))
	first, err := os.ReadFile(tablePath)
	require.NoError(t, err)

	rt2 := NewRangeTable()
	require.NoError(t, NewBuilder(catalog, rt2, 64, nil).Build("chartevents"))
	require.NoError(t, rt2.Save(tablePath))
	second, err := os.ReadFile(tablePath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// TestScenarioE5SecondBuildIsNoOpWhenAlreadyPopulated covers the
// actual no-op contract: re-indexing a dataset that already has
// recorded ranges must skip the rescan entirely rather than
// overwrite them, unless Force is set. Detected here by manually
// corrupting the table's recorded range after the first build and
// confirming a second (non-forced) Build leaves the corruption in
// place instead of recomputing it.
func TestScenarioE5SecondBuildIsNoOpWhenAlreadyPopulated(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "chartevents", FilePath: path, SortColumn: "subject_id"}))

	rangeTable := NewRangeTable()
	builder := NewBuilder(catalog, rangeTable, 64, nil)
	require.NoError(t, builder.Build("chartevents"))

	require.NoError(t, rangeTable.SetBulk("chartevents", map[int64]Range{30: {Start: 999, End: 999}}))

	require.NoError(t, builder.Build("chartevents"))

	rng, ok := rangeTable.Get("chartevents", 30)
	require.True(t, ok)
	assert.Equal(t, Range{Start: 999, End: 999}, rng, "second Build must be a no-op, not overwrite the corrupted range")
}

// TestScenarioE5ForceRebuildsDespiteExistingData confirms Force
// bypasses the no-op guard and recomputes ranges from the dataset
// file, undoing a manually corrupted entry.
func TestScenarioE5ForceRebuildsDespiteExistingData(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "chartevents", FilePath: path, SortColumn: "subject_id"}))

	rangeTable := NewRangeTable()
	builder := NewBuilder(catalog, rangeTable, 64, nil)
	require.NoError(t, builder.Build("chartevents"))

	require.NoError(t, rangeTable.SetBulk("chartevents", map[int64]Range{30: {Start: 999, End: 999}}))

	builder.Force = true
	require.NoError(t, builder.Build("chartevents"))

	rng, ok := rangeTable.Get("chartevents", 30)
	require.True(t, ok)
	assert.Equal(t, Range{Start: 32, End: 47}, rng)
}

func TestBuilderDisjointCoverage(t *testing.T) {
	path := buildChartEventsFixture(t)
	catalog, rangeTable := newTestEngine(t, path)

	r10, ok := rangeTable.Get("chartevents", 10)
	require.True(t, ok)
	r20, ok := rangeTable.Get("chartevents", 20)
	require.True(t, ok)
	r30, ok := rangeTable.Get("chartevents", 30)
	require.True(t, ok)

	// P1: ranges for distinct subjects never overlap and tile the
	// stream contiguously in sort order.
	assert.Equal(t, r10.End, r20.Start)
	assert.Equal(t, r20.End, r30.Start)

	_ = catalog
}

func TestBuilderRejectsUnknownDataset(t *testing.T) {
	catalog := NewCatalog()
	rangeTable := NewRangeTable()
	builder := NewBuilder(catalog, rangeTable, 64, nil)

	err := builder.Build("nope")
	require.Error(t, err)
	engineErr, ok := err.(*EngineError)
	require.True(t, ok)
	assert.Equal(t, KindUsage, engineErr.Kind)
}
