package badgerdb

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/core/store/kv/kvtest"
)

func TestDB(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.DB {
		db, err := New(t.TempDir())
		require.NoError(t, err)

		t.Cleanup(func() { db.Close() })

		return db
	})
}

func TestDB_Persistence(t *testing.T) {
	dir := t.TempDir()

	db, err := New(dir)
	require.NoError(t, err)

	err = db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		return b.Set([]byte("ping"), []byte("pong"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(dir)
	require.NoError(t, err)

	defer db.Close()

	err = db.View(func(tx kv.ReadableTx) error {
		require.Equal(t, []byte("pong"), tx.GetBucket([]byte("bucket")).Get([]byte("ping")))
		return nil
	})
	require.NoError(t, err)
}

func TestDB_InMemory(t *testing.T) {
	db, err := kv.Open(EngineBadger, "")
	require.NoError(t, err)

	defer db.Close()

	err = db.Update(func(tx kv.WritableTx) error {
		_, err := tx.GetBucketOrCreate(nil)
		require.EqualError(t, err, "failed to create bucket: bucket name required")

		return nil
	})
	require.NoError(t, err)
}

func TestBucketPrefix(t *testing.T) {
	require.Equal(t, []byte{'b', 0, 3, 'a', 'b', 'c'}, bucketPrefix([]byte("abc")))
	require.Equal(t, []byte{'m', 'a'}, markerKey([]byte("a")))
}
