package mimicidx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacadeGetAllQueriesEveryWiredDataset(t *testing.T) {
	chartPath := buildChartEventsFixture(t)

	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "chartevents", FilePath: chartPath, SortColumn: "subject_id"}))

	rangeTable := NewRangeTable()
	require.NoError(t, NewBuilder(catalog, rangeTable, 64, nil).Build("chartevents"))

	facade := NewFacade(catalog, rangeTable, nil)
	assert.Equal(t, []string{"chartevents"}, facade.DatasetIDs())

	results := facade.GetAll(30)
	require.Contains(t, results, "chartevents")
	assert.Equal(t, []string{"30,d", "30,e", "30,f"}, results["chartevents"].Lines)
}

// TestFacadeOneDatasetFailureDoesNotAffectAnother covers the
// independence guarantee: a dataset that was never indexed still
// leaves the facade usable for the datasets that were.
func TestFacadeOneDatasetFailureDoesNotAffectAnother(t *testing.T) {
	chartPath := buildChartEventsFixture(t)

	catalog := NewCatalog()
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "chartevents", FilePath: chartPath, SortColumn: "subject_id"}))
	require.NoError(t, catalog.Register(Descriptor{DatasetID: "labevents", FilePath: "missing.csv.gz", SortColumn: "subject_id"}))

	rangeTable := NewRangeTable()
	require.NoError(t, NewBuilder(catalog, rangeTable, 64, nil).Build("chartevents"))
	// labevents is deliberately never built: its columns never exist.

	facade := NewFacade(catalog, rangeTable, nil)
	results := facade.GetAll(10)

	assert.Contains(t, results, "chartevents")
	assert.NotContains(t, results, "labevents")
}
