package mimicidx

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/jinzhu/copier"
	"golang.org/x/exp/slices"
)

// absentStart/absentEnd are the on-disk sentinel for "this subject has
// no rows in this dataset".
const (
	absentStart int64 = -1
	absentEnd   int64 = -1
)

// Range is a half-open byte range [Start, End) into a dataset's
// uncompressed stream.
type Range struct {
	Start int64
	End   int64
}

// row is one line of the Subject-Range Table: a subject id plus a
// Range per dataset that has been indexed for it. A dataset with no
// entry in Ranges means "never indexed for this subject", distinct
// from an indexed-but-absent subject (Range{absentStart, absentEnd}).
type row struct {
	subjectID int64
	ranges    map[string]Range
}

// RangeTable is the persisted subject_id -> per-dataset byte-range
// table. It is safe for concurrent readers once Load has returned;
// writes (SetBulk, Save) take the table's own mutex.
type RangeTable struct {
	mu       sync.RWMutex
	rows     map[int64]*row
	datasets map[string]bool // which {D}_start/{D}_end columns exist
}

// NewRangeTable returns an empty table with no columns yet.
func NewRangeTable() *RangeTable {
	return &RangeTable{
		rows:     make(map[int64]*row),
		datasets: make(map[string]bool),
	}
}

// Load reads the CSV at path into the table, replacing its contents.
// The header's first column must be subject_id; every other column
// must be named "{dataset_id}_start" or "{dataset_id}_end". A
// dataset missing either half of its pair is a usage error: the table
// on disk is malformed rather than simply stale.
func (rt *RangeTable) Load(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// An absent table is a fresh, empty table -- the builder
			// creates it on first use, it is never a fatal condition.
			rt.mu.Lock()
			rt.rows = make(map[int64]*row)
			rt.datasets = make(map[string]bool)
			rt.mu.Unlock()
			return nil
		}
		return errIO(path, err)
	}
	defer fh.Close()

	reader := csv.NewReader(fh)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return errUsage("subject range table %q is empty (missing header)", path)
	}
	if err != nil {
		return errIO(path, err)
	}

	starts, ends, err := parseRangeColumns(header)
	if err != nil {
		return err
	}

	rows := make(map[int64]*row)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errIO(path, err)
		}
		sid, err := strconv.ParseInt(record[0], 10, 64)
		if err != nil {
			return errUsage("subject range table %q: malformed subject_id %q", path, record[0])
		}

		r := &row{subjectID: sid, ranges: make(map[string]Range)}
		for dataset, startIdx := range starts {
			endIdx := ends[dataset]
			start, err := strconv.ParseInt(record[startIdx], 10, 64)
			if err != nil {
				return errUsage("subject range table %q: malformed %s_start for subject %d", path, dataset, sid)
			}
			end, err := strconv.ParseInt(record[endIdx], 10, 64)
			if err != nil {
				return errUsage("subject range table %q: malformed %s_end for subject %d", path, dataset, sid)
			}
			r.ranges[dataset] = Range{Start: start, End: end}
		}
		rows[sid] = r
	}

	datasets := make(map[string]bool, len(starts))
	for dataset := range starts {
		datasets[dataset] = true
	}

	rt.mu.Lock()
	rt.rows = rows
	rt.datasets = datasets
	rt.mu.Unlock()
	return nil
}

func parseRangeColumns(header []string) (starts, ends map[string]int, err error) {
	starts = make(map[string]int)
	ends = make(map[string]int)
	for i, col := range header[1:] {
		idx := i + 1
		switch {
		case len(col) > len("_start") && col[len(col)-len("_start"):] == "_start":
			starts[col[:len(col)-len("_start")]] = idx
		case len(col) > len("_end") && col[len(col)-len("_end"):] == "_end":
			ends[col[:len(col)-len("_end")]] = idx
		default:
			return nil, nil, errUsage("subject range table header has unrecognized column %q", col)
		}
	}
	for dataset := range starts {
		if _, ok := ends[dataset]; !ok {
			return nil, nil, errUsage("subject range table: dataset %q has a _start column but no _end column", dataset)
		}
	}
	for dataset := range ends {
		if _, ok := starts[dataset]; !ok {
			return nil, nil, errUsage("subject range table: dataset %q has an _end column but no _start column", dataset)
		}
	}
	return starts, ends, nil
}

// Save writes the table to path as CSV, always re-sorted by
// subject_id,
// columns in a stable order so repeated saves produce byte-identical
// output for unchanged data (P4, idempotence).
func (rt *RangeTable) Save(path string) error {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	datasets := make([]string, 0, len(rt.datasets))
	for d := range rt.datasets {
		datasets = append(datasets, d)
	}
	slices.Sort(datasets)

	subjects := make([]int64, 0, len(rt.rows))
	for sid := range rt.rows {
		subjects = append(subjects, sid)
	}
	slices.Sort(subjects)

	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errIO(path, err)
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	header := []string{"subject_id"}
	for _, d := range datasets {
		header = append(header, d+"_start", d+"_end")
	}
	if err := w.Write(header); err != nil {
		return errIO(path, err)
	}

	for _, sid := range subjects {
		r := rt.rows[sid]
		record := []string{strconv.FormatInt(sid, 10)}
		for _, d := range datasets {
			rng, ok := r.ranges[d]
			if !ok {
				rng = Range{Start: absentStart, End: absentEnd}
			}
			record = append(record, strconv.FormatInt(rng.Start, 10), strconv.FormatInt(rng.End, 10))
		}
		if err := w.Write(record); err != nil {
			return errIO(path, err)
		}
	}
	w.Flush()
	return w.Error()
}

// Get returns the byte range for subjectID in datasetID, and whether
// one is recorded. A recorded (-1, -1) range (subject indexed but
// absent from the dataset) reports ok=true with a zero-length Range,
// distinct from "never indexed", which reports ok=false.
func (rt *RangeTable) Get(datasetID string, subjectID int64) (Range, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	r, ok := rt.rows[subjectID]
	if !ok {
		return Range{}, false
	}
	rng, ok := r.ranges[datasetID]
	if !ok {
		return Range{}, false
	}
	if rng.Start == absentStart && rng.End == absentEnd {
		return Range{}, true
	}
	return rng, true
}

// HasColumns reports whether datasetID has ever been indexed into the
// table (i.e. its {D}_start/{D}_end columns exist), independent of any
// particular subject.
func (rt *RangeTable) HasColumns(datasetID string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.datasets[datasetID]
}

// HasIndexedSubjects reports whether datasetID already has at least
// one recorded range that isn't the absence sentinel -- i.e. whether
// a prior build actually populated it with real data, as opposed to
// merely declaring its columns. A Builder uses this to decide whether
// a rebuild is a no-op.
func (rt *RangeTable) HasIndexedSubjects(datasetID string) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	if !rt.datasets[datasetID] {
		return false
	}
	for _, r := range rt.rows {
		rng, ok := r.ranges[datasetID]
		if ok && !(rng.Start == absentStart && rng.End == absentEnd) {
			return true
		}
	}
	return false
}

// KnownSubjects returns every subject id that has at least one row in
// the table, in ascending order.
func (rt *RangeTable) KnownSubjects() []int64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]int64, 0, len(rt.rows))
	for sid := range rt.rows {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

// SetBulk replaces datasetID's columns for every subject in ranges in
// a single locked pass, used by Builder after a full rebuild. Subjects
// present in the table but absent from ranges get the absence
// sentinel for datasetID rather than a missing column, so a rebuild
// of D never leaves a stale range for a subject D no longer covers.
func (rt *RangeTable) SetBulk(datasetID string, ranges map[int64]Range) error {
	if datasetID == "" {
		return errUsage("SetBulk requires a non-empty dataset id")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.datasets[datasetID] = true
	for sid, rng := range ranges {
		r, ok := rt.rows[sid]
		if !ok {
			r = &row{subjectID: sid, ranges: make(map[string]Range)}
			rt.rows[sid] = r
		}
		r.ranges[datasetID] = rng
	}
	for sid, r := range rt.rows {
		if _, ok := ranges[sid]; !ok {
			// This subject exists in the table (from another dataset)
			// but was not seen while rebuilding datasetID: a defensive
			// copy via copier keeps row extension consistent with how
			// the rest of the codebase clones structs before mutating.
			var clone row
			if err := copier.Copy(&clone, r); err != nil {
				return errIO(datasetID, err)
			}
			clone.ranges = cloneRangeMap(r.ranges)
			clone.ranges[datasetID] = Range{Start: absentStart, End: absentEnd}
			rt.rows[sid] = &clone
		}
	}
	return nil
}

func cloneRangeMap(m map[string]Range) map[string]Range {
	out := make(map[string]Range, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
