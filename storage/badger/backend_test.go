package badger

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/folio/storage"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := t.TempDir()
	backend, err := OpenBackend(tmpDir+"/db", false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestScanAndDeletePrefix(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	require.NoError(t, backend.Update(func(tx *badger.Txn) error {
		for _, key := range [][]byte{
			MakeVectorKey("a", "a-0"),
			MakeVectorKey("a", "a-1"),
			MakeVectorKey("ab", "ab-0"),
		} {
			if err := tx.Set(key, []byte("v")); err != nil {
				return err
			}
		}
		return nil
	}))

	count := func(prefix []byte) int {
		n := 0
		require.NoError(t, backend.View(func(tx *badger.Txn) error {
			return backend.ScanPrefix(tx, prefix, func(_, _ []byte) error {
				n++
				return nil
			})
		}))
		return n
	}

	assert.Equal(t, 2, count(MakeVectorPrefix("a")), "scope a must not include scope ab")
	assert.Equal(t, 1, count(MakeVectorPrefix("ab")))

	deleted, err := backend.DeletePrefix(MakeVectorPrefix("a"))
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 0, count(MakeVectorPrefix("a")))
	assert.Equal(t, 1, count(MakeVectorPrefix("ab")))

	deleted, err = backend.DeletePrefix(MakeVectorPrefix("missing"))
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
