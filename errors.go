package mimicidx

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind categorizes the ways a query or build can fail.
type Kind int

const (
	// KindUsage covers unknown dataset ids, malformed subject ids, and
	// similar input rejected at the boundary before reaching a Builder
	// or QueryEngine.
	KindUsage Kind = iota
	// KindIndexMissing means the Subject-Range Table has not been
	// loaded, or has no columns for the requested dataset.
	KindIndexMissing
	// KindCheckpointMissing means the gzip checkpoint sidecar could not
	// be found; callers may rebuild it on the fly at the cost of a slow
	// first query.
	KindCheckpointMissing
	// KindSubjectAbsent is not a failure: the subject simply does not
	// appear in the dataset. Kept as a Kind so callers can distinguish
	// "no data" from "index broken" using the same type.
	KindSubjectAbsent
	// KindCorruptIndex means the byte range read back did not contain
	// the expected subject id. Fatal; the caller must rebuild. The
	// engine never falls back to a sequential scan on this error.
	KindCorruptIndex
	// KindIO covers transient I/O errors, propagated unchanged.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindIndexMissing:
		return "index_missing"
	case KindCheckpointMissing:
		return "checkpoint_missing"
	case KindSubjectAbsent:
		return "subject_absent"
	case KindCorruptIndex:
		return "corrupt_index"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// EngineError is the tagged error type every domain-facing operation
// returns, each carrying its own message so a
// caller never has to string-match an error to act on it.
type EngineError struct {
	Kind    Kind
	Dataset string
	cause   error
}

func (e *EngineError) Error() string {
	if e.Dataset != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Dataset, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e *EngineError) Unwrap() error { return e.cause }

// Is reports whether target is an *EngineError with the same Kind,
// so callers can write `errors.Is(err, &EngineError{Kind: KindCorruptIndex})`.
func (e *EngineError) Is(target error) bool {
	other, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

func newEngineError(kind Kind, dataset string, cause error) *EngineError {
	return &EngineError{Kind: kind, Dataset: dataset, cause: cause}
}

// errIndexMissing builds the actionable "run the index builder" error
// required when a caller needs to rebuild.
func errIndexMissing(dataset string) *EngineError {
	return newEngineError(KindIndexMissing, dataset,
		errors.Errorf("no Subject-Range Table columns for dataset %q; run `mimicidx-index %s` to build it", dataset, dataset))
}

func errCheckpointMissing(dataset string, cause error) *EngineError {
	return newEngineError(KindCheckpointMissing, dataset,
		errors.Wrapf(cause, "checkpoint sidecar missing for dataset %q", dataset))
}

func errCorruptIndex(dataset string, subjectID int64, got string) *EngineError {
	return newEngineError(KindCorruptIndex, dataset,
		errors.Errorf("range for subject %d returned a record for %q instead; rebuild with `mimicidx-index %s`", subjectID, got, dataset))
}

func errUsage(format string, args ...interface{}) *EngineError {
	return newEngineError(KindUsage, "", errors.Errorf(format, args...))
}

func errIO(dataset string, cause error) *EngineError {
	return newEngineError(KindIO, dataset, errors.WithStack(cause))
}
