package mimicidx

import (
	"time"

	"github.com/rs/zerolog"
)

// RowBatch is every row belonging to one subject within one dataset
// , returned verbatim -- no parsing beyond splitting on line
// boundaries.
type RowBatch struct {
	DatasetID string
	SubjectID int64
	Lines     []string
}

// QueryEngine is a single-dataset lookup path built from a
// Catalog entry, a shared RangeTable, and a fresh Reader per query
// : each query owns its own Reader. It never falls back to
// a sequential scan over unindexed rows; a verification mismatch is
// always KindCorruptIndex. A missing or stale checkpoint sidecar is
// not fatal -- Search rebuilds it on the fly at the cost of a slow
// first query.
type QueryEngine struct {
	Catalog    *Catalog
	RangeTable *RangeTable
	DatasetID  string
	Logger     *zerolog.Logger

	// Spacing controls the checkpoint spacing used if Search has to
	// rebuild a missing sidecar. Zero uses DefaultCheckpointSpacing.
	Spacing int64
}

// NewQueryEngine builds a QueryEngine for datasetID, failing fast
// if the dataset isn't registered.
func NewQueryEngine(catalog *Catalog, rangeTable *RangeTable, datasetID string, logger *zerolog.Logger) (*QueryEngine, error) {
	if _, ok := catalog.Lookup(datasetID); !ok {
		return nil, errUsage("unknown dataset %q", datasetID)
	}
	return &QueryEngine{Catalog: catalog, RangeTable: rangeTable, DatasetID: datasetID, Logger: logger, Spacing: DefaultCheckpointSpacing}, nil
}

// Search resolves subjectID to its byte range in the Subject-Range
// Table, opens a fresh Reader over the dataset's gzip file, seeks to
// the range, and reads every line within it. It verifies the first
// row's sort-column value equals subjectID and returns
// KindCorruptIndex rather than any partial result on mismatch.
func (e *QueryEngine) Search(subjectID int64) (RowBatch, error) {
	started := time.Now()
	if !e.RangeTable.HasColumns(e.DatasetID) {
		return RowBatch{}, errIndexMissing(e.DatasetID)
	}

	rng, ok := e.RangeTable.Get(e.DatasetID, subjectID)
	if !ok || (rng.Start == 0 && rng.End == 0) {
		// Absent (no row at all) and the recorded (-1,-1) sentinel both
		// mean "subject not present in this dataset" -- a normal empty
		// result, not an error (spec: KindSubjectAbsent is not a failure).
		return RowBatch{DatasetID: e.DatasetID, SubjectID: subjectID}, nil
	}

	desc, ok := e.Catalog.Lookup(e.DatasetID)
	if !ok {
		return RowBatch{}, errUsage("unknown dataset %q", e.DatasetID)
	}

	r, err := NewReader(desc.FilePath, ReaderOptions{Logger: e.Logger})
	if err != nil {
		return RowBatch{}, err
	}
	defer r.Close()

	if err := r.ImportIndex(desc.FilePath); err != nil {
		if e.Logger != nil {
			e.Logger.Warn().Err(err).Str("dataset", e.DatasetID).Msg("checkpoint sidecar missing or stale; rebuilding on the fly")
		}
		spacing := e.Spacing
		if spacing <= 0 {
			spacing = DefaultCheckpointSpacing
		}
		if err := r.BuildFullIndex(spacing); err != nil {
			return RowBatch{}, err
		}
		if err := r.ExportIndex(desc.FilePath); err != nil {
			return RowBatch{}, err
		}
	}

	if err := r.Seek(0); err != nil {
		return RowBatch{}, err
	}
	header, err := r.ReadLine()
	if err != nil {
		return RowBatch{}, errIO(desc.FilePath, err)
	}
	sortColIdx, err := sortColumnIndex(header, desc.SortColumn)
	if err != nil {
		return RowBatch{}, err
	}

	if err := r.Seek(rng.Start); err != nil {
		return RowBatch{}, err
	}

	var lines []string
	first := true
	for r.Tell() < rng.End {
		line, err := r.ReadLine()
		if err != nil {
			return RowBatch{}, errIO(desc.FilePath, err)
		}
		if first {
			sid, ok := extractSortValue(line, sortColIdx)
			if !ok || sid != subjectID {
				return RowBatch{}, errCorruptIndex(e.DatasetID, subjectID, firstFieldOrEmpty(line))
			}
			first = false
		}
		lines = append(lines, string(line))
	}

	if e.Logger != nil {
		e.Logger.Debug().Int64("subject_id", subjectID).Str("dataset", e.DatasetID).
			Int64("range_start", rng.Start).Int64("range_end", rng.End).
			Dur("elapsed", time.Since(started)).Msg("resolved query range")
	}

	return RowBatch{DatasetID: e.DatasetID, SubjectID: subjectID, Lines: lines}, nil
}

func firstFieldOrEmpty(line []byte) string {
	for i, b := range line {
		if b == ',' {
			return string(line[:i])
		}
	}
	return string(line)
}
