package walreader

import (
	"encoding/binary"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
	"github.com/pgkeep/pgkeep/internal/walformat"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// Block reference flag bits, the design.
const (
	blkFlagHasImage       = 0x01
	blkFlagHasData        = 0x02
	blkFlagHasHole        = 0x04
	blkFlagImageCompressed = 0x08
)

// decodeRecord parses header and block sequence from full (the
// complete, already-reassembled record bytes), verifies its CRC32C, and
// dispatches the result. startLSN is the LSN of the record's first
// byte, captured by the Reader when accumulation began.
func decodeRecord(startLSN types.LSN, full []byte) (*walformat.DecodedRecord, error) {
	if len(full) < walformat.RecordHeaderSize {
		return nil, pgerrors.New(pgerrors.FormatError, "record shorter than its own header")
	}
	h, err := walformat.DecodeHeader(full[:walformat.RecordHeaderSize])
	if err != nil {
		return nil, err
	}
	payload := full[walformat.RecordHeaderSize:]
	if !walformat.VerifyChecksum(h, payload) {
		return nil, pgerrors.New(pgerrors.BadRecordCRC, "record CRC32C mismatch")
	}

	rec := &DecodedRecordBuilder{Header: h, LSN: startLSN}
	if err := rec.parseBlocks(payload); err != nil {
		return nil, err
	}
	return rec.Build(), nil
}

// DecodedRecordBuilder accumulates typed blocks while walking a
// record's payload.
type DecodedRecordBuilder struct {
	Header walformat.Header
	LSN    types.LSN

	blockRefs []walformat.BlockReference
	mainData  *walformat.MainData
	origin    *walformat.XLogOrigin
}

func (b *DecodedRecordBuilder) Build() *walformat.DecodedRecord {
	return &walformat.DecodedRecord{
		Header:          b.Header,
		LSN:             b.LSN,
		BlockReferences: b.blockRefs,
		MainData:        b.mainData,
		Origin:          b.origin,
	}
}

func (b *DecodedRecordBuilder) parseBlocks(payload []byte) error {
	off := 0
	for off < len(payload) {
		tag := walformat.BlockTag(payload[off])
		off++
		switch tag {
		case walformat.BlockTagXLogOrigin:
			if off+2 > len(payload) {
				return pgerrors.New(pgerrors.FormatError, "truncated xlog_origin block")
			}
			b.origin = &walformat.XLogOrigin{OriginID: binary.LittleEndian.Uint16(payload[off : off+2])}
			off += 2
		case walformat.BlockTagMainDataLong:
			if off+4 > len(payload) {
				return pgerrors.New(pgerrors.FormatError, "truncated main_data_long length")
			}
			n := int(binary.LittleEndian.Uint32(payload[off : off+4]))
			off += 4
			if off+n > len(payload) {
				return pgerrors.New(pgerrors.FormatError, "truncated main_data_long body")
			}
			b.mainData = &walformat.MainData{Data: payload[off : off+n]}
			off += n
		case walformat.BlockTagMainDataShort:
			if off+1 > len(payload) {
				return pgerrors.New(pgerrors.FormatError, "truncated main_data_short length")
			}
			n := int(payload[off])
			off++
			if off+n > len(payload) {
				return pgerrors.New(pgerrors.FormatError, "truncated main_data_short body")
			}
			b.mainData = &walformat.MainData{Data: payload[off : off+n]}
			off += n
		default:
			ref, consumed, err := parseBlockReference(uint8(tag), payload[off:])
			if err != nil {
				return err
			}
			b.blockRefs = append(b.blockRefs, ref)
			off += consumed
		}
	}
	return nil
}

func parseBlockReference(forkNumber uint8, buf []byte) (walformat.BlockReference, int, error) {
	const fixedLen = 1 /* flags */ + 4 /* spc */ + 4 /* db */ + 4 /* rel */ + 4 /* blk */
	if len(buf) < fixedLen {
		return walformat.BlockReference{}, 0, pgerrors.New(pgerrors.FormatError, "truncated block_reference")
	}
	flags := buf[0]
	ref := walformat.BlockReference{
		ForkNumber: forkNumber,
		Node: walformat.RelFileNode{
			SpcNode: binary.LittleEndian.Uint32(buf[1:5]),
			DBNode:  binary.LittleEndian.Uint32(buf[5:9]),
			RelNode: binary.LittleEndian.Uint32(buf[9:13]),
		},
		BlockNumber:     binary.LittleEndian.Uint32(buf[13:17]),
		HasImage:        flags&blkFlagHasImage != 0,
		HasData:         flags&blkFlagHasData != 0,
		HasHole:         flags&blkFlagHasHole != 0,
		ImageCompressed: flags&blkFlagImageCompressed != 0,
	}
	off := fixedLen

	if ref.HasImage {
		if len(buf) < off+7 {
			return ref, 0, pgerrors.New(pgerrors.FormatError, "truncated full-page-image prefix")
		}
		ref.ImageLength = binary.LittleEndian.Uint16(buf[off : off+2])
		ref.HoleOffset = binary.LittleEndian.Uint16(buf[off+2 : off+4])
		ref.HoleLength = binary.LittleEndian.Uint16(buf[off+4 : off+6])
		off += 6
		if ref.ImageCompressed {
			ref.CompressionMethod = buf[off]
			off++
		}
		if len(buf) < off+int(ref.ImageLength) {
			return ref, 0, pgerrors.New(pgerrors.FormatError, "truncated full-page-image data")
		}
		ref.Image = buf[off : off+int(ref.ImageLength)]
		off += int(ref.ImageLength)
	}
	if ref.HasData {
		if len(buf) < off+4 {
			return ref, 0, pgerrors.New(pgerrors.FormatError, "truncated block data length")
		}
		n := int(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		if len(buf) < off+n {
			return ref, 0, pgerrors.New(pgerrors.FormatError, "truncated block data")
		}
		ref.Data = buf[off : off+n]
		off += n
	}
	return ref, off, nil
}
