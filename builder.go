package mimicidx

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Builder walks a dataset's decompressed CSV once, finds the
// byte range owned by each run of identical sort-column values, and
// writes both the gzip checkpoint sidecar and the Subject-Range Table
// columns for that dataset: open the stream, skip the header, track
// the current subject and its run-start offset across a single
// forward pass, and flush a range whenever the sort column's value
// changes or the stream ends.
type Builder struct {
	Catalog    *Catalog
	RangeTable *RangeTable
	Spacing    int64
	Logger     *zerolog.Logger

	// Force, when true, rebuilds the checkpoint sidecar even if one
	// already exists and passes its staleness check (operator override
	// for a sidecar that is valid but suspected corrupt).
	Force bool

	// mu serializes builds within this process -- an in-process mutex guarding the shared Subject-Range Table
	// file; cross-process serialization would need a file lock and is
	// out of scope.
	mu sync.Mutex
}

// NewBuilder wires a Builder to a Catalog and the RangeTable it should
// update. Spacing of 0 uses DefaultCheckpointSpacing.
func NewBuilder(catalog *Catalog, rangeTable *RangeTable, spacing int64, logger *zerolog.Logger) *Builder {
	if spacing <= 0 {
		spacing = DefaultCheckpointSpacing
	}
	return &Builder{Catalog: catalog, RangeTable: rangeTable, Spacing: spacing, Logger: logger}
}

func (b *Builder) logf(format string, args ...interface{}) {
	if b.Logger != nil {
		b.Logger.Info().Msgf(format, args...)
	}
}

// Build indexes one dataset: it opens the dataset's gzip file, builds
// (or reuses, when a valid sidecar already exists) the checkpoint set,
// then does a single sequential pass over the decompressed rows
// recording, for each run of equal sort-column values, the byte range
// it occupies. The resulting ranges replace datasetID's columns in
// the Subject-Range Table via SetBulk.
//
// Re-indexing an already-populated dataset is a no-op: if the table
// already has at least one non-sentinel range for datasetID, Build
// logs and returns without touching the dataset file, unless Force is
// set.
func (b *Builder) Build(datasetID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	started := time.Now()

	desc, ok := b.Catalog.Lookup(datasetID)
	if !ok {
		return errUsage("unknown dataset %q", datasetID)
	}

	if !b.Force && b.RangeTable.HasIndexedSubjects(datasetID) {
		b.logf("dataset %q: already populated; skipping", datasetID)
		return nil
	}

	r, err := NewReader(desc.FilePath, ReaderOptions{Logger: b.Logger})
	if err != nil {
		return err
	}
	defer r.Close()

	if b.Force || r.ImportIndex(desc.FilePath) != nil {
		if err := r.BuildFullIndex(b.Spacing); err != nil {
			return err
		}
		if err := r.ExportIndex(desc.FilePath); err != nil {
			return err
		}
	}

	ranges, warnings, err := b.scan(r, desc)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		b.logf("dataset %q: %s", datasetID, w)
	}

	if err := b.RangeTable.SetBulk(datasetID, ranges); err != nil {
		return err
	}
	b.logf("dataset %q: indexed %d subjects in %s", datasetID, len(ranges), time.Since(started))
	return nil
}

// scan performs the single forward pass reusing
// r.ReadLine so it benefits from the same decoder the checkpoints were
// built against. It returns ranges keyed by sort-column value (the
// subject id) plus human-readable warnings for any monotonicity
// violation encountered -- warn, don't fail: a
// pre-sorted assumption that no longer holds is a data quality issue
// for the caller to investigate, not a reason to abort the whole
// build).
func (b *Builder) scan(r *Reader, desc Descriptor) (map[int64]Range, []string, error) {
	if err := r.Seek(0); err != nil {
		return nil, nil, err
	}

	header, err := r.ReadLine()
	if err != nil {
		return nil, nil, errIO(desc.FilePath, err)
	}
	sortColIdx, err := sortColumnIndex(header, desc.SortColumn)
	if err != nil {
		return nil, nil, err
	}

	ranges := make(map[int64]Range)
	var warnings []string
	var seen = make(map[int64]bool)

	var currentSubject int64
	var haveCurrent bool
	var runStart int64 = r.Tell()

	for {
		lineStart := r.Tell()
		line, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errIO(desc.FilePath, err)
		}

		sid, ok := extractSortValue(line, sortColIdx)
		if !ok {
			continue // blank trailing line
		}

		if !haveCurrent {
			currentSubject = sid
			haveCurrent = true
			runStart = lineStart
		} else if sid != currentSubject {
			ranges[currentSubject] = Range{Start: runStart, End: lineStart}
			if seen[sid] {
				warnings = append(warnings, "subject "+strconv.FormatInt(sid, 10)+" reappears after a non-adjacent run; dataset is not sorted by "+desc.SortColumn)
			}
			seen[currentSubject] = true
			currentSubject = sid
			runStart = lineStart
		}
	}
	if haveCurrent {
		ranges[currentSubject] = Range{Start: runStart, End: r.Tell()}
	}

	return ranges, warnings, nil
}

func sortColumnIndex(header []byte, sortColumn string) (int, error) {
	cols := bytes.Split(header, []byte(","))
	for i, c := range cols {
		if string(bytes.TrimSpace(c)) == sortColumn {
			return i, nil
		}
	}
	return 0, errUsage("sort column %q not found in header %q", sortColumn, string(header))
}

// extractSortValue splits off only the first idx+1 comma-delimited
// fields of line, avoiding the cost of a full split on every row, and
// parses the idx'th field as an integer subject id, stripping
// surrounding quotes before parsing.
func extractSortValue(line []byte, idx int) (int64, bool) {
	parts := bytes.SplitN(line, []byte(","), idx+2)
	if len(parts) <= idx {
		return 0, false
	}
	field := bytes.Trim(parts[idx], `"`)
	sid, err := strconv.ParseInt(string(field), 10, 64)
	if err != nil {
		return 0, false
	}
	return sid, true
}
