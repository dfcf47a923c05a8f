package mimicidx

import (
	"bytes"
	"io"
	"os"

	kflate "github.com/itchio/kompress/flate"
	kgzip "github.com/itchio/kompress/gzip"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"launchpad.net/gommap"
)

// Reader is the gzip random-access reader: it mmaps the compressed
// file once and drives a kompress/gzip SaverReader that can snapshot
// and resume mid-stream decompression state. Seek binary-searches the
// loaded CheckpointSet for the nearest checkpoint at or before the
// target offset, resumes decoding from there, and discards the
// remainder up to the requested offset.
type Reader struct {
	Index *CheckpointSet

	path    string
	file    *os.File
	mmap    gommap.MMap
	decoder kgzip.SaverReader
	pending []byte // decoded bytes not yet delivered to a caller
	pos     int64  // logical uncompressed offset of the front of pending
	logger  *zerolog.Logger
}

// ReaderOptions configures NewReader. Logger may be nil.
type ReaderOptions struct {
	Logger *zerolog.Logger
}

// mmapReaderAt turns a gommap.MMap slice into an io.Reader starting at
// byte offset off, without copying the backing bytes.
type mmapReaderAt struct {
	data []byte
	off  int64
}

func (m *mmapReaderAt) Read(p []byte) (int, error) {
	if m.off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.off:])
	m.off += int64(n)
	return n, nil
}

// NewReader opens the gzip file at path, mmaps it read-only, and
// starts a fresh decoder positioned at uncompressed offset 0. It does
// not load or build a checkpoint set; call ImportIndex or
// BuildFullIndex next.
func NewReader(path string, opts ReaderOptions) (*Reader, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errIO(path, err)
	}

	mm, err := gommap.Map(fh.Fd(), gommap.PROT_READ, gommap.MAP_PRIVATE)
	if err != nil {
		fh.Close()
		return nil, errIO(path, errors.Wrap(err, "mmap dataset file"))
	}

	dec, err := kgzip.NewSaverReader(&mmapReaderAt{data: mm})
	if err != nil {
		fh.Close()
		return nil, errIO(path, errors.Wrap(err, "open gzip stream"))
	}

	return &Reader{
		path:    path,
		file:    fh,
		mmap:    mm,
		decoder: dec,
		logger:  opts.Logger,
	}, nil
}

func (r *Reader) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Debug().Msgf(format, args...)
	}
}

// BuildFullIndex decodes the entire stream from the current position
// (normally 0, right after NewReader) once, taking a checkpoint every
// spacing uncompressed bytes. Unlike a subject-aware index this
// records purely by distance; it has no notion of subjects.
// The first checkpoint, at uncompressed offset 0, is always recorded
// even if spacing is larger than the whole file. The result replaces
// r.Index.
func (r *Reader) BuildFullIndex(spacing int64) error {
	if spacing <= 0 {
		spacing = DefaultCheckpointSpacing
	}
	cs := &CheckpointSet{Version: checkpointSchemaVersion, Spacing: spacing}

	buf := make([]byte, 64*1024)
	var sinceLastCheckpoint int64 = spacing // force a checkpoint at offset 0

	for {
		if sinceLastCheckpoint >= spacing {
			if err := r.saveCheckpoint(cs); err != nil {
				return err
			}
			sinceLastCheckpoint = 0
		}

		n, err := r.decoder.Read(buf)
		if n > 0 {
			r.pos += int64(n)
			sinceLastCheckpoint += int64(n)
		}
		if err == kflate.ReadyToSaveError {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errIO(r.path, err)
		}
	}

	r.logf("built %d checkpoints spanning %d uncompressed bytes", len(cs.List), r.pos)
	r.Index = cs
	r.pos = 0 // BuildFullIndex exhausts the decoder; a later Seek always restarts it
	return nil
}

func (r *Reader) saveCheckpoint(cs *CheckpointSet) error {
	r.decoder.WantSave()
	// Draining reads until the decoder reports it has reached a safe
	// save boundary is the documented protocol for SaverReader: Read
	// returns flate.ReadyToSaveError exactly once it can save cleanly.
	buf := make([]byte, 4096)
	for {
		n, err := r.decoder.Read(buf)
		if n > 0 {
			r.pos += int64(n)
		}
		if err == kflate.ReadyToSaveError {
			break
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errIO(r.path, err)
		}
	}

	cp, err := r.decoder.Save()
	if err != nil {
		return errIO(r.path, errors.Wrap(err, "save decoder checkpoint"))
	}
	blob, err := gobEncodeCheckpoint(cp)
	if err != nil {
		return errIO(r.path, err)
	}
	cs.List = append(cs.List, Checkpoint{UncompressedOffset: r.pos, Blob: blob})
	return nil
}

// ExportIndex persists r.Index next to the dataset file (path + ".idx").
func (r *Reader) ExportIndex(path string) error {
	if r.Index == nil {
		return errUsage("no checkpoint set to export; call BuildFullIndex first")
	}
	epoch, err := fileEpoch(r.path)
	if err != nil {
		return errIO(r.path, err)
	}
	r.Index.Epoch = epoch
	if err := exportCheckpointSet(r.Index, SidecarPath(path)); err != nil {
		return errIO(path, err)
	}
	return nil
}

// ImportIndex loads a previously exported CheckpointSet for path into
// r.Index. It returns errCheckpointMissing if the sidecar is absent or
// stale relative to the dataset file's modtime: a caller
// should treat this as "rebuild", never fall back to sequential
// scanning.
func (r *Reader) ImportIndex(path string) error {
	cs, err := importCheckpointSet(SidecarPath(path))
	if err != nil {
		return errCheckpointMissing(path, err)
	}
	epoch, err := fileEpoch(path)
	if err != nil {
		return errIO(path, err)
	}
	if epoch != cs.Epoch {
		return errCheckpointMissing(path, errors.New("sidecar is older than dataset file"))
	}
	r.Index = cs
	return nil
}

// Seek repositions the reader at uncompressed offset target, resuming
// decompression from the nearest checkpoint in r.Index at or before
// target and discarding bytes up to it: binary search
// the checkpoint list, resume, discard to offset.
func (r *Reader) Seek(offset int64) error {
	if r.Index == nil {
		return errCheckpointMissing(r.path, errors.New("no checkpoint set loaded"))
	}
	cp, ok := r.Index.nearestAtOrBefore(offset)
	if !ok {
		return errCheckpointMissing(r.path, errors.New("checkpoint set is empty"))
	}

	gcp, err := gobDecodeCheckpoint(cp.Blob)
	if err != nil {
		return errIO(r.path, err)
	}

	src := &mmapReaderAt{data: r.mmap, off: gcp.Roffset}
	dec, err := gcp.Resume(src)
	if err != nil {
		return errIO(r.path, errors.Wrap(err, "resume from checkpoint"))
	}

	r.decoder = dec
	r.pending = nil
	r.pos = cp.UncompressedOffset

	toDiscard := offset - r.pos
	if toDiscard < 0 {
		return errCorruptIndex(r.path, 0, "negative discard distance")
	}
	if toDiscard > 0 {
		if err := r.discard(toDiscard); err != nil {
			return errIO(r.path, errors.Wrap(err, "discard to target offset"))
		}
	}
	return nil
}

// decodeMore pulls one chunk of decoded bytes from the decoder into
// r.pending. It never advances r.pos: pos only moves when bytes are
// actually delivered to a caller via Read/ReadLine/discard, so Tell
// always reflects what the caller has logically consumed, never what
// the decoder has merely buffered ahead.
func (r *Reader) decodeMore() error {
	buf := make([]byte, 4096)
	for {
		n, err := r.decoder.Read(buf)
		if n > 0 {
			r.pending = append(r.pending, buf[:n]...)
		}
		if err == kflate.ReadyToSaveError {
			continue
		}
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

// discard advances the logical position by exactly n bytes without
// returning them.
func (r *Reader) discard(n int64) error {
	for n > 0 {
		if len(r.pending) == 0 {
			if err := r.decodeMore(); err != nil {
				return err
			}
			continue
		}
		take := n
		if take > int64(len(r.pending)) {
			take = int64(len(r.pending))
		}
		r.pending = r.pending[take:]
		r.pos += take
		n -= take
	}
	return nil
}

// Read reads up to n uncompressed bytes starting at the current
// position, advancing it. At end of stream it returns the bytes it
// could read together with io.EOF.
func (r *Reader) Read(n int) ([]byte, error) {
	for len(r.pending) < n {
		if err := r.decodeMore(); err != nil {
			if err == io.EOF {
				break
			}
			return nil, errIO(r.path, err)
		}
	}
	take := n
	if take > len(r.pending) {
		take = len(r.pending)
	}
	out := make([]byte, take)
	copy(out, r.pending[:take])
	r.pending = r.pending[take:]
	r.pos += int64(take)
	if take < n {
		return out, io.EOF
	}
	return out, nil
}

// ReadLine reads one '\n'-terminated line (the trailing newline and
// any carriage return are stripped). At true end of stream with
// nothing left to give, it returns (nil, io.EOF).
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		if idx := bytes.IndexByte(r.pending, '\n'); idx >= 0 {
			line := make([]byte, idx+1)
			copy(line, r.pending[:idx+1])
			r.pending = r.pending[idx+1:]
			r.pos += int64(len(line))
			return trimNewline(line), nil
		}

		err := r.decodeMore()
		if err == io.EOF {
			if len(r.pending) == 0 {
				return nil, io.EOF
			}
			line := r.pending
			r.pending = nil
			r.pos += int64(len(line))
			return trimNewline(line), nil
		}
		if err != nil {
			return nil, errIO(r.path, err)
		}
	}
}

func trimNewline(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// Tell returns the current uncompressed byte offset.
func (r *Reader) Tell() int64 { return r.pos }

// Close releases the mmap and underlying file handle.
func (r *Reader) Close() error {
	var firstErr error
	if err := r.decoder.Close(); err != nil {
		firstErr = err
	}
	if err := r.mmap.UnsafeUnmap(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
