// Package rmgr holds the static resource-manager table the design
// calls for: "a static table of 27 entries ... each carries a name, a
// describe-function ... and optional per-subtype handlers selected by
// high bits of xl_info." IDs and names follow the upstream database's
// own RmgrTable ordering (confirmed against the resource-manager
// references in _examples/original_source/src/walinfo.c); five IDs past
// the 22 the design names by name are reserved slots not yet assigned
// upstream at the wire-compatible version this targets, kept as
// placeholders so ID lookups never index out of range.
package rmgr

import (
	"fmt"

	"github.com/pgkeep/pgkeep/internal/walformat"
)

// ID is a resource-manager identifier (xl_rmid).
type ID uint8

const (
	XLOG ID = iota
	Transaction
	Storage
	CLOG
	Database
	Tablespace
	MultiXact
	RelMap
	Standby
	Heap2
	Heap
	Btree
	Hash
	Gin
	Gist
	Sequence
	SPGist
	BRIN
	CommitTs
	ReplicationOrigin
	Generic
	LogicalMessage
	reserved22
	reserved23
	reserved24
	reserved25
	reserved26
)

// NumManagers is the fixed table size, the design.
const NumManagers = 27

// DescribeFunc renders a human-readable summary of one record's payload
// for a given resource manager, e.g. "Heap/INSERT off 12 flags 0x00".
type DescribeFunc func(h walformat.Header, mainData []byte) string

// Manager is one entry in the static resource-manager table.
type Manager struct {
	ID       ID
	Name     string
	Describe DescribeFunc
}

// subtypeMask extracts a record's subtype from the high bits of
// xl_info, the selector the design calls out for per-subtype
// describe handlers ("Heap/INSERT extracts block number, offset, and
// flags").
const subtypeMask = 0xF0

func subtype(info uint8) uint8 { return info & subtypeMask }

var table [NumManagers]Manager

func register(id ID, name string, describe DescribeFunc) {
	table[id] = Manager{ID: id, Name: name, Describe: describe}
}

func genericDescribe(name string) DescribeFunc {
	return func(h walformat.Header, mainData []byte) string {
		return fmt.Sprintf("%s/0x%02X len %d", name, h.Info, len(mainData))
	}
}

func init() {
	register(XLOG, "XLOG", describeXLOG)
	register(Transaction, "Transaction", describeTransaction)
	register(Storage, "Storage", genericDescribe("Storage"))
	register(CLOG, "CLOG", genericDescribe("CLOG"))
	register(Database, "Database", genericDescribe("Database"))
	register(Tablespace, "Tablespace", genericDescribe("Tablespace"))
	register(MultiXact, "MultiXact", genericDescribe("MultiXact"))
	register(RelMap, "RelMap", genericDescribe("RelMap"))
	register(Standby, "Standby", genericDescribe("Standby"))
	register(Heap2, "Heap2", describeHeap2)
	register(Heap, "Heap", describeHeap)
	register(Btree, "Btree", genericDescribe("Btree"))
	register(Hash, "Hash", genericDescribe("Hash"))
	register(Gin, "Gin", genericDescribe("Gin"))
	register(Gist, "Gist", genericDescribe("Gist"))
	register(Sequence, "Sequence", genericDescribe("Sequence"))
	register(SPGist, "SPGist", genericDescribe("SPGist"))
	register(BRIN, "BRIN", genericDescribe("BRIN"))
	register(CommitTs, "CommitTs", genericDescribe("CommitTs"))
	register(ReplicationOrigin, "ReplicationOrigin", genericDescribe("ReplicationOrigin"))
	register(Generic, "Generic", genericDescribe("Generic"))
	register(LogicalMessage, "LogicalMessage", genericDescribe("LogicalMessage"))
	register(reserved22, "Reserved22", genericDescribe("Reserved22"))
	register(reserved23, "Reserved23", genericDescribe("Reserved23"))
	register(reserved24, "Reserved24", genericDescribe("Reserved24"))
	register(reserved25, "Reserved25", genericDescribe("Reserved25"))
	register(reserved26, "Reserved26", genericDescribe("Reserved26"))
}

// Lookup returns the Manager for id, or ok=false for an out-of-range id.
func Lookup(id ID) (Manager, bool) {
	if int(id) >= NumManagers {
		return Manager{}, false
	}
	return table[id], true
}

// ByName finds a Manager by its registered name, used to resolve the
// `--rmgr` filter's name set (the design "restricted by a set of
// resource-manager names").
func ByName(name string) (Manager, bool) {
	for _, m := range table {
		if m.Name == name {
			return m, true
		}
	}
	return Manager{}, false
}

// All returns every registered Manager in ID order.
func All() []Manager {
	out := make([]Manager, NumManagers)
	copy(out, table[:])
	return out
}
