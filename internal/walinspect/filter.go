// Package walinspect implements the walfilter-adjacent interface
// the design calls out: a filter predicate, a table/JSON formatter,
// and a per-resource-manager summarizer, all as pure functions over an
// already-decoded record stream. The command-line front-end that wires
// these into a `walfilter`-shaped tool is an external collaborator
// (the design) — this package exposes the library surface it would
// consume.
package walinspect

import (
	"github.com/pgkeep/pgkeep/internal/rmgr"
	"github.com/pgkeep/pgkeep/internal/walformat"
	"github.com/pgkeep/pgkeep/pkg/types"
)

// ObjectResolver maps a relation's identity to a schema-qualified name,
// the "OID→name mapping loaded from a separate JSON file or queried
// from the live database" the design describes. Both sources are
// external collaborators; this package only consumes the resolved
// interface.
type ObjectResolver interface {
	Name(node walformat.RelFileNode) (string, bool)
}

// Filter selects which decoded records an inspection run includes.
// A zero-value field in each slice/range means "unrestricted" for that
// dimension; all populated dimensions are ANDed together.
type Filter struct {
	// Rmgrs restricts by resource-manager name, e.g. {"Heap", "Btree"}.
	// Empty means every resource manager passes.
	Rmgrs map[string]bool

	// MinLSN/MaxLSN bound the record's starting LSN, inclusive. A zero
	// MaxLSN means unbounded.
	MinLSN types.LSN
	MaxLSN types.LSN

	// XIDs restricts by transaction id. Empty means every XID passes.
	XIDs map[uint32]bool

	// Objects restricts to records touching at least one of these
	// schema-qualified names, resolved per block reference via
	// Resolver. Empty means unrestricted. Resolver must be non-nil
	// when Objects is non-empty.
	Objects  map[string]bool
	Resolver ObjectResolver
}

// Match reports whether rec passes every populated dimension of f.
func Match(f Filter, rec *walformat.DecodedRecord) bool {
	if len(f.Rmgrs) > 0 {
		m, ok := rmgr.Lookup(rmgr.ID(rec.Header.RmgrID))
		if !ok || !f.Rmgrs[m.Name] {
			return false
		}
	}
	if rec.LSN < f.MinLSN {
		return false
	}
	if f.MaxLSN != 0 && rec.LSN > f.MaxLSN {
		return false
	}
	if len(f.XIDs) > 0 && !f.XIDs[rec.Header.XID] {
		return false
	}
	if len(f.Objects) > 0 {
		if !matchesObject(f, rec) {
			return false
		}
	}
	return true
}

func matchesObject(f Filter, rec *walformat.DecodedRecord) bool {
	if f.Resolver == nil {
		return false
	}
	for _, br := range rec.BlockReferences {
		name, ok := f.Resolver.Name(br.Node)
		if ok && f.Objects[name] {
			return true
		}
	}
	return false
}

// Select filters records, preserving order, from a pre-decoded slice.
// Streaming callers should call Match directly per record instead of
// buffering the whole segment.
func Select(f Filter, records []*walformat.DecodedRecord) []*walformat.DecodedRecord {
	out := make([]*walformat.DecodedRecord, 0, len(records))
	for _, r := range records {
		if Match(f, r) {
			out = append(out, r)
		}
	}
	return out
}
