package walformat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgkeep/pgkeep/pkg/types"
)

func TestSegmentFilenameRoundTrip(t *testing.T) {
	name := SegmentFilename(types.Timeline(1), 5)
	assert.Len(t, name, 24)

	pf, err := ParseFilename(name)
	require.NoError(t, err)
	assert.Equal(t, types.Timeline(1), pf.Timeline)
	assert.Equal(t, uint64(5), pf.SegNo)
	assert.False(t, pf.Partial)
	assert.Empty(t, pf.Compression)
	assert.False(t, pf.Encrypted)
}

func TestParseFilenameLayeredSuffixes(t *testing.T) {
	base := SegmentFilename(types.Timeline(1), 0)
	pf, err := ParseFilename(base + ".partial.gz.aes")
	require.NoError(t, err)
	assert.True(t, pf.Partial)
	assert.Equal(t, "gz", pf.Compression)
	assert.True(t, pf.Encrypted)
}

func TestParseFilenameRejectsGarbage(t *testing.T) {
	_, err := ParseFilename("not-a-wal-file")
	assert.Error(t, err)
}

func TestNextSegmentIncrementsSegNo(t *testing.T) {
	cur := SegmentFilename(types.Timeline(1), 9)
	next := NextSegment(types.Timeline(1), 9)
	pf, err := ParseFilename(next)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pf.SegNo)
	assert.NotEqual(t, cur, next)
}

func TestAlignUp8(t *testing.T) {
	assert.EqualValues(t, 0, AlignUp8(0))
	assert.EqualValues(t, 8, AlignUp8(1))
	assert.EqualValues(t, 8, AlignUp8(8))
	assert.EqualValues(t, 16, AlignUp8(9))
}

func TestSegmentNumberAndLSN(t *testing.T) {
	lsn := SegmentLSN(3)
	assert.Equal(t, uint64(3), SegmentNumber(lsn))
}

func TestPageStartRoundsDown(t *testing.T) {
	lsn := types.LSN(PageSize*4 + 123)
	assert.Equal(t, types.LSN(PageSize*4), PageStart(lsn))
}
