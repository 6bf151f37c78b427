package walinspect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgkeep/pgkeep/internal/rmgr"
	"github.com/pgkeep/pgkeep/internal/walformat"
	"github.com/pgkeep/pgkeep/pkg/types"
)

func heapRecord(lsn types.LSN, xid uint32) *walformat.DecodedRecord {
	return &walformat.DecodedRecord{
		Header: walformat.Header{RmgrID: uint8(rmgr.Heap), XID: xid, TotalLength: 64},
		LSN:    lsn,
	}
}

func TestMatchFiltersByRmgrAndXID(t *testing.T) {
	rec := heapRecord(100, 742)

	f := Filter{Rmgrs: map[string]bool{"Heap": true}, XIDs: map[uint32]bool{742: true}}
	assert.True(t, Match(f, rec))

	f2 := Filter{Rmgrs: map[string]bool{"Btree": true}}
	assert.False(t, Match(f2, rec))

	f3 := Filter{XIDs: map[uint32]bool{999: true}}
	assert.False(t, Match(f3, rec))
}

func TestMatchFiltersByLSNRange(t *testing.T) {
	rec := heapRecord(500, 1)
	assert.True(t, Match(Filter{MinLSN: 100, MaxLSN: 1000}, rec))
	assert.False(t, Match(Filter{MinLSN: 600}, rec))
	assert.False(t, Match(Filter{MaxLSN: 400}, rec))
}

type fakeResolver map[walformat.RelFileNode]string

func (f fakeResolver) Name(node walformat.RelFileNode) (string, bool) {
	n, ok := f[node]
	return n, ok
}

func TestMatchFiltersByObjectName(t *testing.T) {
	node := walformat.RelFileNode{SpcNode: 1, DBNode: 2, RelNode: 3}
	rec := heapRecord(1, 1)
	rec.BlockReferences = []walformat.BlockReference{{Node: node}}

	resolver := fakeResolver{node: "public.accounts"}
	f := Filter{Objects: map[string]bool{"public.accounts": true}, Resolver: resolver}
	assert.True(t, Match(f, rec))

	f2 := Filter{Objects: map[string]bool{"public.orders": true}, Resolver: resolver}
	assert.False(t, Match(f2, rec))
}

func TestSelectPreservesOrder(t *testing.T) {
	records := []*walformat.DecodedRecord{heapRecord(1, 1), heapRecord(2, 2), heapRecord(3, 1)}
	out := Select(Filter{XIDs: map[uint32]bool{1: true}}, records)
	assert.Len(t, out, 2)
	assert.Equal(t, types.LSN(1), out[0].LSN)
	assert.Equal(t, types.LSN(3), out[1].LSN)
}
