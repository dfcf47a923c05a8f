package mimicidx

import (
	"github.com/rs/zerolog"
)

// Facade is the multi-dataset front door. It holds one QueryEngine
// per dataset and fans a subject lookup out across all of them: a
// per-dataset engine is built once at construction (failures there are
// logged and that dataset is simply skipped, never fatal to the whole
// facade), and a lookup loops over engines independently, catching a
// per-dataset failure so the rest proceed.
type Facade struct {
	engines map[string]*QueryEngine
	order   []string
	logger  *zerolog.Logger
}

// NewFacade builds a QueryEngine for every dataset registered in
// catalog. A dataset whose engine can't be constructed (NewQueryEngine
// fails only for a dataset the catalog does not know) is logged and
// omitted rather than aborting construction of the whole facade.
func NewFacade(catalog *Catalog, rangeTable *RangeTable, logger *zerolog.Logger) *Facade {
	f := &Facade{engines: make(map[string]*QueryEngine), logger: logger}
	for _, id := range catalog.IDs() {
		eng, err := NewQueryEngine(catalog, rangeTable, id, logger)
		if err != nil {
			if logger != nil {
				logger.Warn().Err(err).Str("dataset", id).Msg("skipping dataset: engine construction failed")
			}
			continue
		}
		f.engines[id] = eng
		f.order = append(f.order, id)
	}
	return f
}

// DatasetIDs returns the datasets the facade can query, in catalog
// registration order.
func (f *Facade) DatasetIDs() []string {
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// GetAll queries every wired dataset for subjectID and returns a
// RowBatch per dataset id that produced one. A dataset whose Search
// fails (index missing, checkpoint missing, corrupt index) is
// logged and omitted from the result map rather than aborting the
// whole call -- the other datasets' results are unaffected.
func (f *Facade) GetAll(subjectID int64) map[string]RowBatch {
	out := make(map[string]RowBatch, len(f.engines))
	for _, id := range f.order {
		batch, err := f.engines[id].Search(subjectID)
		if err != nil {
			if f.logger != nil {
				f.logger.Warn().Err(err).Str("dataset", id).Int64("subject_id", subjectID).Msg("dataset query failed")
			}
			continue
		}
		out[id] = batch
	}
	return out
}
