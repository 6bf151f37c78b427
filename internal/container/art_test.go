package container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeInsertSearch(t *testing.T) {
	tr := NewTree()
	keys := []string{"alpha", "alphabet", "al", "beta", "be", "zzz", ""}
	for i, k := range keys {
		_, existed := tr.Insert([]byte(k), NewI64(int64(i)))
		assert.False(t, existed)
	}
	assert.Equal(t, len(keys), tr.Len())

	for i, k := range keys {
		v, ok := tr.Search([]byte(k))
		require.True(t, ok, "key %q should be found", k)
		assert.Equal(t, int64(i), v.I64)
	}

	_, ok := tr.Search([]byte("missing"))
	assert.False(t, ok)
}

func TestTreeOverwriteDestroysOldValueExactlyOnce(t *testing.T) {
	tr := NewTree()
	calls := 0
	destructor := func(any) { calls++ }

	tr.Insert([]byte("k"), NewObject("v1", destructor, nil))
	assert.Equal(t, 0, calls)

	tr.Insert([]byte("k"), NewObject("v2", destructor, nil))
	assert.Equal(t, 1, calls, "overwriting a key must destroy the old value exactly once")

	v, ok := tr.Search([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v2", v.Payload)

	tr.Delete([]byte("k"))
	assert.Equal(t, 2, calls)

	// deleting again must not call the destructor a second time
	tr.Delete([]byte("k"))
	assert.Equal(t, 2, calls)
}

func TestTreeDeleteContains(t *testing.T) {
	tr := NewTree()
	tr.Insert([]byte("a"), NewI64(1))
	tr.Insert([]byte("ab"), NewI64(2))
	tr.Insert([]byte("abc"), NewI64(3))

	assert.True(t, tr.Contains([]byte("ab")))
	removed := tr.Delete([]byte("ab"))
	assert.True(t, removed)
	assert.False(t, tr.Contains([]byte("ab")))
	assert.True(t, tr.Contains([]byte("a")))
	assert.True(t, tr.Contains([]byte("abc")))

	removed = tr.Delete([]byte("nope"))
	assert.False(t, removed)
}

func TestTreeOrderedIteration(t *testing.T) {
	tr := NewTree()
	in := []string{"zebra", "apple", "mango", "banana", "ant", "a", "ab"}
	for _, k := range in {
		tr.Insert([]byte(k), NewI64(0))
	}

	var got []string
	tr.ForEach(func(key []byte, _ Value) bool {
		got = append(got, string(key))
		return true
	})

	expected := append([]string{}, in...)
	sortStrings(expected)
	assert.Equal(t, expected, got)
}

// TestTreeGrowsAcrossFanouts exercises node4 -> node16 -> node48 ->
// node256 growth by inserting more children than any smaller fan-out
// can hold under a single branch.
func TestTreeGrowsAcrossFanouts(t *testing.T) {
	tr := NewTree()
	for b := 0; b < 200; b++ {
		key := []byte{byte(b)}
		tr.Insert(key, NewI64(int64(b)))
	}
	assert.Equal(t, 200, tr.Len())
	for b := 0; b < 200; b++ {
		v, ok := tr.Search([]byte{byte(b)})
		require.True(t, ok)
		assert.Equal(t, int64(b), v.I64)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
