package mimicidx

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"sort"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"
	kgzip "github.com/itchio/kompress/gzip"
	"gopkg.in/yaml.v3"
)

// checkpointSchemaVersion is stamped on every sidecar we write: an unrecognized version is treated the same as a
// missing sidecar, so the reader rebuilds rather than misinterpreting
// bytes written by an incompatible decoder.
const checkpointSchemaVersion = 1

// Checkpoint is one saved decompressor state: the
// uncompressed offset it was taken at, and an opaque blob holding
// whatever the decompressor needs to resume decoding mid-stream
// (for kompress/gzip, a gob-encoded *gzip.Checkpoint — the compressed
// byte offset plus the flate window and bit position).
type Checkpoint struct {
	UncompressedOffset int64  `yaml:"u"`
	Blob               []byte `yaml:"b"`
}

// CheckpointSet is the ordered, strictly-increasing sequence of
// Checkpoints for one dataset file. It is persisted to the
// `.idx` sidecar next to the dataset, zstd-compressed.
type CheckpointSet struct {
	Version  int          `yaml:"version"`
	Spacing  int64        `yaml:"spacing"`
	Epoch    int64        `yaml:"epoch"` // dataset file modtime, for staleness checks
	List     []Checkpoint `yaml:"list"`
}

// SidecarPath returns the `.idx` sidecar path for a dataset file path.
func SidecarPath(datasetPath string) string {
	return datasetPath + ".idx"
}

func fileEpoch(path string) (int64, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return stat.ModTime().Unix(), nil
}

// nearestAtOrBefore returns the last checkpoint whose uncompressed
// offset is <= offset. The checkpoint set always has an entry at
// uncompressed offset 0, so this never fails once
// the set is non-empty.
func (cs *CheckpointSet) nearestAtOrBefore(offset int64) (Checkpoint, bool) {
	if len(cs.List) == 0 {
		return Checkpoint{}, false
	}
	i := sort.Search(len(cs.List), func(i int) bool {
		return cs.List[i].UncompressedOffset > offset
	})
	if i == 0 {
		return Checkpoint{}, false
	}
	return cs.List[i-1], true
}

// exportCheckpointSet writes cs to path as a zstd-compressed yaml
// document.
func exportCheckpointSet(cs *CheckpointSet, path string) error {
	data, err := yaml.Marshal(cs)
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint set")
	}

	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "create checkpoint sidecar")
	}
	defer fh.Close()

	w := zstd.NewWriter(fh)
	if _, err := w.Write(data); err != nil {
		return errors.Wrap(err, "write checkpoint sidecar")
	}
	return w.Close()
}

// importCheckpointSet loads a sidecar written by exportCheckpointSet.
// Returns an error (never a fallback to sequential scan) if the
// sidecar is absent, unreadable, or stamped with an unrecognized
// version.
func importCheckpointSet(path string) (*CheckpointSet, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err // caller maps os.IsNotExist to KindCheckpointMissing
	}
	defer fh.Close()

	r := zstd.NewReader(fh)
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "decompress checkpoint sidecar")
	}

	cs := CheckpointSet{}
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, errors.Wrap(err, "parse checkpoint sidecar")
	}
	if cs.Version != checkpointSchemaVersion {
		return nil, errors.Errorf("checkpoint sidecar %q has unrecognized schema version %d", path, cs.Version)
	}
	return &cs, nil
}

// gobEncodeCheckpoint serializes a *kgzip.Checkpoint into an opaque
// blob for Checkpoint.Blob. kompress's Checkpoint (and its embedded
// flate.Checkpoint) expose their window/bit-position state through
// exported fields for exactly this purpose, so the standard encoding/gob
// machinery round-trips it without any bespoke (de)serialization code.
func gobEncodeCheckpoint(cp *kgzip.Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cp); err != nil {
		return nil, errors.Wrap(err, "gob-encode gzip checkpoint")
	}
	return buf.Bytes(), nil
}

func gobDecodeCheckpoint(blob []byte) (*kgzip.Checkpoint, error) {
	var cp kgzip.Checkpoint
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&cp); err != nil {
		return nil, errors.Wrap(err, "gob-decode gzip checkpoint")
	}
	return &cp, nil
}
