package rmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/internal/walformat"
)

func TestTableHasExactly27Entries(t *testing.T) {
	assert.Len(t, All(), NumManagers)
	assert.Equal(t, 27, NumManagers)
}

func TestLookupByIDAndName(t *testing.T) {
	m, ok := Lookup(Heap)
	require.True(t, ok)
	assert.Equal(t, "Heap", m.Name)

	m2, ok := ByName("Btree")
	require.True(t, ok)
	assert.Equal(t, Btree, m2.ID)

	_, ok = Lookup(ID(200))
	assert.False(t, ok)
	_, ok = ByName("NoSuchRmgr")
	assert.False(t, ok)
}

func TestDescribeHeapInsertExtractsOffsetAndFlags(t *testing.T) {
	m, _ := Lookup(Heap)
	h := walformat.Header{Info: heapInsert}
	mainData := []byte{0x0C, 0x00, 0x02} // offset=12, flags=0x02
	desc := m.Describe(h, mainData)
	assert.Contains(t, desc, "off 12")
	assert.Contains(t, desc, "0x02")
}

func TestDescribeTransactionCommitIncludesXID(t *testing.T) {
	m, _ := Lookup(Transaction)
	h := walformat.Header{Info: xactCommit, XID: 4242}
	desc := m.Describe(h, nil)
	assert.Contains(t, desc, "COMMIT")
	assert.Contains(t, desc, "4242")
}

func TestEveryManagerHasADescribeFunc(t *testing.T) {
	for _, m := range All() {
		require.NotNil(t, m.Describe, m.Name)
	}
}
