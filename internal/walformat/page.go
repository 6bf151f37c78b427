package walformat

import (
	"encoding/binary"
	"fmt"

	"github.com/pgkeep/pgkeep/pkg/types"
)

// DecodeShortHeader parses the fixed-size header present on every page.
func DecodeShortHeader(buf []byte) (ShortHeader, error) {
	if len(buf) < ShortHeaderSize {
		return ShortHeader{}, fmt.Errorf("walformat: short header needs %d bytes, got %d", ShortHeaderSize, len(buf))
	}
	return ShortHeader{
		Magic:              binary.LittleEndian.Uint16(buf[0:2]),
		Info:               binary.LittleEndian.Uint16(buf[2:4]),
		Timeline:           types.Timeline(binary.LittleEndian.Uint32(buf[4:8])),
		PageLSN:            types.LSN(binary.LittleEndian.Uint64(buf[8:16])),
		ContinuationLength: binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// EncodeShortHeader renders h back to its wire form, used by tests and
// by any tool that synthesizes WAL fixtures.
func EncodeShortHeader(h ShortHeader) []byte {
	buf := make([]byte, ShortHeaderSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.Magic)
	binary.LittleEndian.PutUint16(buf[2:4], h.Info)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(h.Timeline))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.PageLSN))
	binary.LittleEndian.PutUint32(buf[16:20], h.ContinuationLength)
	return buf
}

// DecodeLongHeader parses the extended header present on a segment's
// first page.
func DecodeLongHeader(buf []byte) (LongHeader, error) {
	short, err := DecodeShortHeader(buf)
	if err != nil {
		return LongHeader{}, err
	}
	if len(buf) < LongHeaderSize {
		return LongHeader{}, fmt.Errorf("walformat: long header needs %d bytes, got %d", LongHeaderSize, len(buf))
	}
	return LongHeader{
		ShortHeader: short,
		SystemID:    binary.LittleEndian.Uint64(buf[20:28]),
		SegmentSize: binary.LittleEndian.Uint32(buf[28:32]),
		BlockSize:   binary.LittleEndian.Uint32(buf[32:36]),
	}, nil
}

// EncodeLongHeader renders h back to its wire form.
func EncodeLongHeader(h LongHeader) []byte {
	buf := make([]byte, LongHeaderSize)
	copy(buf, EncodeShortHeader(h.ShortHeader))
	binary.LittleEndian.PutUint64(buf[20:28], h.SystemID)
	binary.LittleEndian.PutUint32(buf[28:32], h.SegmentSize)
	binary.LittleEndian.PutUint32(buf[32:36], h.BlockSize)
	return buf
}

// DecodeHeader parses a record header from buf, matching the encoding
// produced by headerBytesForChecksum's field order in record.go.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < RecordHeaderSize {
		return Header{}, fmt.Errorf("walformat: record header needs %d bytes, got %d", RecordHeaderSize, len(buf))
	}
	return Header{
		TotalLength: binary.LittleEndian.Uint32(buf[0:4]),
		XID:         binary.LittleEndian.Uint32(buf[4:8]),
		PrevRecord:  types.LSN(binary.LittleEndian.Uint64(buf[8:16])),
		Info:        buf[16],
		RmgrID:      buf[17],
		CRC:         binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// EncodeHeader renders h back to its wire form.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, RecordHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.TotalLength)
	binary.LittleEndian.PutUint32(buf[4:8], h.XID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.PrevRecord))
	buf[16] = h.Info
	buf[17] = h.RmgrID
	binary.LittleEndian.PutUint32(buf[20:24], h.CRC)
	return buf
}
