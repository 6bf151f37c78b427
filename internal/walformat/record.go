package walformat

import (
	"hash/crc32"

	"github.com/pgkeep/pgkeep/pkg/types"
)

// castagnoliTable is the CRC32C polynomial table used for every WAL
// record checksum,  ("verify CRC32C over header-minus-
// CRC-field and full payload").
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// RecordHeaderSize is the fixed size of Header's wire encoding:
// TotalLength(4) + XID(4) + PrevRecord(8) + Info(1) + RmgrID(1) +
// padding(2) + CRC(4).
const RecordHeaderSize = 4 + 4 + 8 + 1 + 1 + 2 + 4

// Header is the fixed-size record header preceding every record's block
// sequence, .
type Header struct {
	TotalLength uint32    // xl_tot_len: header + all blocks + main-data
	XID         uint32    // xl_xid: transaction id
	PrevRecord  types.LSN // xl_prev: LSN of the preceding record
	Info        uint8     // xl_info: record-kind-specific flags; high bits select subtype
	RmgrID      uint8     // xl_rmid: resource manager id
	_           uint16    // 2 reserved/padding bytes to the CRC field's natural alignment
	CRC         uint32    // xl_crc: CRC32C over everything else
}

// ChecksumCRC32C computes the CRC32C of header (with its CRC field
// zeroed) concatenated with payload.
func ChecksumCRC32C(h Header, payload []byte) uint32 {
	h.CRC = 0
	c := crc32.New(castagnoliTable)
	c.Write(headerBytesForChecksum(h))
	c.Write(payload)
	return c.Sum32()
}

func headerBytesForChecksum(h Header) []byte {
	buf := make([]byte, 0, RecordHeaderSize)
	buf = appendU32(buf, h.TotalLength)
	buf = appendU32(buf, h.XID)
	buf = appendU64(buf, uint64(h.PrevRecord))
	buf = append(buf, h.Info, h.RmgrID)
	buf = appendU16(buf, 0)
	buf = appendU32(buf, 0) // CRC field itself excluded from its own computation
	return buf
}

func appendU16(b []byte, v uint16) []byte { return append(b, byte(v), byte(v>>8)) }
func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
func appendU64(b []byte, v uint64) []byte {
	return append(b,
		byte(v), byte(v>>8), byte(v>>16), byte(v>>24),
		byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

// VerifyChecksum reports whether h.CRC matches the recomputed CRC32C
// over header-minus-CRC plus payload.
func VerifyChecksum(h Header, payload []byte) bool {
	return h.CRC == ChecksumCRC32C(h, payload)
}

// BlockTag discriminates the one-byte tag leading each typed block in a
// record's payload, .
type BlockTag byte

const (
	// BlockTagXLogOrigin is the reserved tag for the replication-origin
	// block (always the 8-byte origin id).
	BlockTagXLogOrigin BlockTag = 0xFF
	// BlockTagMainDataLong carries a u32 length prefix.
	BlockTagMainDataLong BlockTag = 0xFE
	// BlockTagMainDataShort carries a u8 length prefix.
	BlockTagMainDataShort BlockTag = 0xFD
	// block-reference tags occupy 0x00-0xFC (fork-specific id).
	blockTagReferenceMax BlockTag = 0xFC
)

// RelFileNode identifies a relation file by its database/tablespace/
// relfilenumber triple.
type RelFileNode struct {
	SpcNode uint32
	DBNode  uint32
	RelNode uint32
}

// BlockReference is a block_reference block: which page of which
// relation, and optionally a full-page image.
type BlockReference struct {
	ForkNumber  uint8
	Node        RelFileNode
	BlockNumber uint32

	HasImage       bool
	HasData        bool
	HasHole        bool
	ImageCompressed bool

	ImageLength      uint16
	HoleOffset       uint16
	HoleLength       uint16
	CompressionMethod uint8
	Image            []byte

	Data []byte
}

// MainData is the record's main-data block, present at most once.
type MainData struct {
	Data []byte
}

// XLogOrigin is the replication-origin block.
type XLogOrigin struct {
	OriginID uint16
}

// DecodedRecord is a fully parsed WAL record: header plus typed blocks.
type DecodedRecord struct {
	Header          Header
	LSN             types.LSN // LSN of the record's first byte
	BlockReferences []BlockReference
	MainData        *MainData
	Origin          *XLogOrigin
}

// FPILen returns the total bytes occupied by full-page images across
// every block reference, used by summarization (the design).
func (r DecodedRecord) FPILen() int {
	n := 0
	for _, b := range r.BlockReferences {
		n += len(b.Image)
	}
	return n
}
