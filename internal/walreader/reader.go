// Package walreader implements the WAL decoder's core loop from
// the design: page-by-page record assembly with a partial-record
// accumulator, CRC32C validation, 8-byte record alignment, and
// cross-segment continuation. It operates on already-decoded (that is,
// decompressed and decrypted) segment byte streams — compression and
// encryption codec bindings are explicitly out of scope (the design) —
// so a Source here need only hand back the plain segment bytes.
//
// There is no close equivalent to ground this on elsewhere in the
// codebase: the WAL type this grew out of (internal/storage/wal) is a
// JSON event log for job-queue replay, not a binary page format, so
// this package follows the wire format directly, resolving exact field
// semantics against _examples/original_source/src/walinfo.c where
// ambiguous.
package walreader

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/walformat"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// Source resolves a WAL segment filename to its (already decoded) byte
// stream.
type Source interface {
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
}

// DirSource reads segments as plain files from a directory, the common
// case for a local on-disk WAL archive.
type DirSource struct{ Dir string }

func (d DirSource) Open(_ context.Context, filename string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.Dir, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pgerrors.Wrap(pgerrors.UnexpectedEOF, "segment file missing", err).WithPath(filename)
		}
		return nil, pgerrors.Wrap(pgerrors.IOError, "cannot open segment", err).WithPath(filename)
	}
	return f, nil
}

// Reader decodes a contiguous stream of WAL records starting at a given
// segment and timeline, handling continuation across pages and
// segments.
type Reader struct {
	source   Source
	timeline types.Timeline

	segNo   uint64
	rc      io.ReadCloser
	long    walformat.LongHeader
	isFirst bool // true until the first page of the current segment has been read

	pageBody []byte // current page's bytes after its header
	bodyOff  int
	pageLSN  types.LSN
	contLen  uint32 // current page's declared continuation length, unconsumed portion

	acc            []byte
	haveHeader     bool
	accExpected    uint32
	recordStartLSN types.LSN
}

// Open begins reading at segNo within timeline, positioned at the start
// of that segment's first page.
func Open(ctx context.Context, source Source, timeline types.Timeline, segNo uint64) (*Reader, error) {
	r := &Reader{source: source, timeline: timeline, segNo: segNo, isFirst: true}
	if err := r.openSegment(ctx, segNo); err != nil {
		return nil, err
	}
	if err := r.advancePage(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) openSegment(ctx context.Context, segNo uint64) error {
	if r.rc != nil {
		r.rc.Close()
	}
	filename := walformat.SegmentFilename(r.timeline, segNo)
	rc, err := r.source.Open(ctx, filename)
	if err != nil {
		return err
	}
	r.rc = rc
	r.segNo = segNo
	r.isFirst = true
	return nil
}

// remaining reports the unconsumed byte count in the current page body.
func (r *Reader) remaining() int { return len(r.pageBody) - r.bodyOff }

func (r *Reader) consume(n int) []byte {
	b := r.pageBody[r.bodyOff : r.bodyOff+n]
	r.bodyOff += n
	r.pageLSN += types.LSN(n)
	return b
}

func (r *Reader) peek(n int) []byte {
	return r.pageBody[r.bodyOff : r.bodyOff+n]
}

// advancePage reads the next physical page, opening the following
// segment if the current one is exhausted, and validates continuity
// per the cross-segment rule.
func (r *Reader) advancePage(ctx context.Context) error {
	headerSize := walformat.ShortHeaderSize
	if r.isFirst {
		headerSize = walformat.LongHeaderSize
	}

	buf := make([]byte, walformat.PageSize)
	n, err := io.ReadFull(r.rc, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// current segment exhausted; open the next one in sequence
		nextSegNo := r.segNo + 1
		prevLong := r.long
		if err := r.openSegment(ctx, nextSegNo); err != nil {
			return pgerrors.Wrap(pgerrors.UnexpectedEOF, "record continues past missing next segment", err)
		}
		return r.advancePageValidated(ctx, &prevLong)
	}
	if err != nil {
		return pgerrors.Wrap(pgerrors.IOError, "reading WAL page", err)
	}
	_ = n

	if r.isFirst {
		long, err := walformat.DecodeLongHeader(buf)
		if err != nil {
			return pgerrors.Wrap(pgerrors.FormatError, "decoding segment long header", err)
		}
		r.long = long
		r.pageLSN = long.PageLSN
		r.contLen = long.ContinuationLength
		r.pageBody = buf[headerSize:]
	} else {
		short, err := walformat.DecodeShortHeader(buf)
		if err != nil {
			return pgerrors.Wrap(pgerrors.FormatError, "decoding page short header", err)
		}
		r.pageLSN = short.PageLSN
		r.contLen = short.ContinuationLength
		r.pageBody = buf[headerSize:]
	}
	r.bodyOff = 0
	r.isFirst = false

	if len(r.acc) > 0 {
		r.absorbContinuation()
	}
	return nil
}

// advancePageValidated reads the first page of a newly-opened segment
// and checks it matches the timeline of the segment it continues from.
func (r *Reader) advancePageValidated(ctx context.Context, prevLong *walformat.LongHeader) error {
	buf := make([]byte, walformat.PageSize)
	if _, err := io.ReadFull(r.rc, buf); err != nil {
		return pgerrors.Wrap(pgerrors.UnexpectedEOF, "reading continuation segment's first page", err)
	}
	long, err := walformat.DecodeLongHeader(buf)
	if err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "decoding continuation segment long header", err)
	}
	if prevLong.ShortHeader.Timeline != 0 && long.Timeline != prevLong.ShortHeader.Timeline {
		return pgerrors.New(pgerrors.Corruption, "continuation segment timeline mismatch")
	}
	r.long = long
	r.pageLSN = long.PageLSN
	r.contLen = long.ContinuationLength
	r.pageBody = buf[walformat.LongHeaderSize:]
	r.bodyOff = 0
	r.isFirst = false

	if len(r.acc) > 0 {
		r.absorbContinuation()
	}
	return nil
}

// absorbContinuation consumes this page's declared continuation bytes
// (step 1 of the core loop: "read exactly
// continuation_length of the next page into the accumulator").
func (r *Reader) absorbContinuation() {
	take := int(r.contLen)
	if take > r.remaining() {
		take = r.remaining()
	}
	r.acc = append(r.acc, r.consume(take)...)
	r.noteHeaderIfComplete()
}

func (r *Reader) noteHeaderIfComplete() {
	if !r.haveHeader && len(r.acc) >= walformat.RecordHeaderSize {
		h, err := walformat.DecodeHeader(r.acc[:walformat.RecordHeaderSize])
		if err == nil {
			r.accExpected = h.TotalLength
			r.haveHeader = true
		}
	}
}

func (r *Reader) accComplete() bool {
	return r.haveHeader && uint32(len(r.acc)) >= r.accExpected
}

// Next produces the next decoded record, or an error. It never returns
// io.EOF: when the next segment is missing, whether or not a record is
// still incomplete, the error is a pgerrors.UnexpectedEOF.
func (r *Reader) Next(ctx context.Context) (*walformat.DecodedRecord, error) {
	for {
		if len(r.acc) > 0 {
			if r.accComplete() {
				return r.finishRecord()
			}
			if r.remaining() == 0 {
				if err := r.advancePage(ctx); err != nil {
					return nil, err
				}
				continue
			}
			// mid-page continuation beyond what absorbContinuation
			// already took (rare: contLen exceeded remaining() on a
			// prior page); pull whatever is left toward accExpected.
			need := int(r.accExpected) - len(r.acc)
			take := need
			if take > r.remaining() {
				take = r.remaining()
			}
			r.acc = append(r.acc, r.consume(take)...)
			r.noteHeaderIfComplete()
			continue
		}

		if r.remaining() < walformat.RecordHeaderSize {
			r.recordStartLSN = r.pageLSN
			r.acc = append([]byte{}, r.consume(r.remaining())...)
			r.haveHeader = false
			r.accExpected = 0
			r.noteHeaderIfComplete()
			if err := r.advancePage(ctx); err != nil {
				return nil, err
			}
			continue
		}

		startLSN := r.pageLSN
		headerBytes := r.peek(walformat.RecordHeaderSize)
		h, err := walformat.DecodeHeader(headerBytes)
		if err != nil {
			return nil, pgerrors.Wrap(pgerrors.FormatError, "decoding record header", err)
		}
		if h.TotalLength == 0 {
			// zero-fill padding to end of page
			if err := r.advancePage(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if h.TotalLength > uint32(r.remaining()) {
			r.recordStartLSN = startLSN
			r.acc = append([]byte{}, r.consume(r.remaining())...)
			r.haveHeader = false
			r.accExpected = 0
			r.noteHeaderIfComplete()
			if err := r.advancePage(ctx); err != nil {
				return nil, err
			}
			continue
		}

		full := append([]byte{}, r.consume(int(h.TotalLength))...)
		r.skipAlignment()
		return decodeRecord(startLSN, full)
	}
}

func (r *Reader) finishRecord() (*walformat.DecodedRecord, error) {
	full := r.acc
	startLSN := r.recordStartLSN
	r.acc = nil
	r.haveHeader = false
	r.accExpected = 0
	r.skipAlignment()
	return decodeRecord(startLSN, full)
}

// skipAlignment advances past the padding the design requires before
// the next record: "align to 8 bytes for the next record's start."
func (r *Reader) skipAlignment() {
	total := walformat.AlignUp8(uint32(r.bodyOff))
	pad := int(total) - r.bodyOff
	if pad <= 0 {
		return
	}
	if pad > r.remaining() {
		pad = r.remaining()
	}
	r.consume(pad)
}

// Close releases the current segment handle.
func (r *Reader) Close() error {
	if r.rc != nil {
		return r.rc.Close()
	}
	return nil
}
