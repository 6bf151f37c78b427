package rmgr

import (
	"encoding/binary"
	"fmt"

	"github.com/pgkeep/pgkeep/internal/walformat"
)

// XLOG record subtypes, high bits of xl_info.
const (
	xlogCheckpointShutdown = 0x00
	xlogCheckpointOnline   = 0x10
	xlogSwitch             = 0x40
	xlogBackupEnd          = 0x50
)

func describeXLOG(h walformat.Header, mainData []byte) string {
	switch subtype(h.Info) {
	case xlogCheckpointShutdown:
		return "XLOG/CHECKPOINT_SHUTDOWN " + checkpointSummary(mainData)
	case xlogCheckpointOnline:
		return "XLOG/CHECKPOINT_ONLINE " + checkpointSummary(mainData)
	case xlogSwitch:
		return "XLOG/SWITCH"
	case xlogBackupEnd:
		return fmt.Sprintf("XLOG/BACKUP_END lsn %s", lsnFromBytes(mainData))
	default:
		return fmt.Sprintf("XLOG/0x%02X len %d", h.Info, len(mainData))
	}
}

func checkpointSummary(mainData []byte) string {
	if len(mainData) < 8 {
		return "(truncated)"
	}
	return fmt.Sprintf("redo %s", lsnFromBytes(mainData[:8]))
}

func lsnFromBytes(b []byte) string {
	if len(b) < 8 {
		return "0/0"
	}
	v := binary.LittleEndian.Uint64(b)
	return fmt.Sprintf("%X/%08X", v>>32, v&0xFFFFFFFF)
}

// Transaction record subtypes.
const (
	xactCommit = 0x00
	xactAbort  = 0x20
)

func describeTransaction(h walformat.Header, mainData []byte) string {
	switch subtype(h.Info) {
	case xactCommit:
		return fmt.Sprintf("Transaction/COMMIT xid %d", h.XID)
	case xactAbort:
		return fmt.Sprintf("Transaction/ABORT xid %d", h.XID)
	default:
		return fmt.Sprintf("Transaction/0x%02X xid %d", h.Info, h.XID)
	}
}

// Heap record subtypes — a representative subset. Heap/INSERT is decoded
// to its offset and flags; describers receive only the main data, not the
// block references, so the block number is not reported.
const (
	heapInsert = 0x00
	heapDelete = 0x10
	heapUpdate = 0x20
	heapHotUpdate = 0x30
)

// heapInsertPayload is the fixed-size prefix of a Heap/INSERT record's
// main data: target offset number followed by a flags byte.
type heapInsertPayload struct {
	Offset uint16
	Flags  uint8
}

func describeHeap(h walformat.Header, mainData []byte) string {
	switch subtype(h.Info) {
	case heapInsert:
		if len(mainData) < 3 {
			return "Heap/INSERT (truncated)"
		}
		p := heapInsertPayload{
			Offset: binary.LittleEndian.Uint16(mainData[0:2]),
			Flags:  mainData[2],
		}
		return fmt.Sprintf("Heap/INSERT off %d flags 0x%02X", p.Offset, p.Flags)
	case heapDelete:
		return "Heap/DELETE"
	case heapUpdate:
		return "Heap/UPDATE"
	case heapHotUpdate:
		return "Heap/HOT_UPDATE"
	default:
		return fmt.Sprintf("Heap/0x%02X len %d", h.Info, len(mainData))
	}
}

func describeHeap2(h walformat.Header, mainData []byte) string {
	return fmt.Sprintf("Heap2/0x%02X len %d", h.Info, len(mainData))
}
