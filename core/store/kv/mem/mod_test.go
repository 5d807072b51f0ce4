package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/core/store/kv"
	"go.dedis.ch/hyperlog/core/store/kv/kvtest"
)

func TestDB(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.DB {
		return NewDB()
	})
}

func TestDB_Isolation(t *testing.T) {
	db := NewDB()

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("a"), []byte("1")))

		// Not visible until the commit.
		return db.View(func(rtx kv.ReadableTx) error {
			require.Nil(t, rtx.GetBucket([]byte("bucket")))
			return nil
		})
	})
	require.NoError(t, err)

	err = db.View(func(tx kv.ReadableTx) error {
		require.Equal(t, []byte("1"), tx.GetBucket([]byte("bucket")).Get([]byte("a")))
		return nil
	})
	require.NoError(t, err)
}

func TestDB_Close(t *testing.T) {
	db := NewDB()
	require.NoError(t, db.Close())

	err := db.View(func(kv.ReadableTx) error { return nil })
	require.EqualError(t, err, "database closed")

	err = db.Update(func(kv.WritableTx) error { return nil })
	require.EqualError(t, err, "database closed")
}

func TestBucket_Set(t *testing.T) {
	b := newBucket()

	require.NoError(t, b.Set([]byte("b"), []byte("2")))
	require.NoError(t, b.Set([]byte("a"), []byte("1")))
	require.NoError(t, b.Set([]byte("a"), []byte("3")))
	require.Equal(t, []string{"a", "b"}, b.keys)

	require.EqualError(t, b.Set(nil, nil), "key required")
}

func TestRegistry(t *testing.T) {
	db, err := kv.Open(EngineMem, "")
	require.NoError(t, err)
	require.IsType(t, &DB{}, db)
}
