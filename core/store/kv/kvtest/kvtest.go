// Package kvtest provides the behaviour tests that every kv engine must pass.
package kvtest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/core/store/kv"
	"golang.org/x/xerrors"
)

// Opener returns a fresh database for a test.
type Opener func(t *testing.T) kv.DB

// Run runs the whole suite against the engine.
func Run(t *testing.T, open Opener) {
	t.Run("update and view", func(t *testing.T) { testUpdateAndView(t, open) })
	t.Run("get set delete", func(t *testing.T) { testGetSetDelete(t, open) })
	t.Run("for each", func(t *testing.T) { testForEach(t, open) })
	t.Run("scan", func(t *testing.T) { testScan(t, open) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open) })
	t.Run("on commit", func(t *testing.T) { testOnCommit(t, open) })
	t.Run("delete bucket", func(t *testing.T) { testDeleteBucket(t, open) })
}

func testUpdateAndView(t *testing.T, open Opener) {
	db := open(t)

	err := db.Update(func(tx kv.WritableTx) error {
		bucket, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		return bucket.Set([]byte("ping"), []byte("pong"))
	})
	require.NoError(t, err)

	err = db.View(func(tx kv.ReadableTx) error {
		bucket := tx.GetBucket([]byte("bucket"))
		require.NotNil(t, bucket)
		require.Equal(t, []byte("pong"), bucket.Get([]byte("ping")))

		require.Nil(t, tx.GetBucket([]byte("unknown")))

		return nil
	})
	require.NoError(t, err)
}

func testGetSetDelete(t *testing.T, open Opener) {
	db := open(t)

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("ping"), []byte("pong")))
		require.Equal(t, []byte("pong"), b.Get([]byte("ping")))
		require.Nil(t, b.Get([]byte("pong")))

		require.NoError(t, b.Delete([]byte("ping")))
		require.Nil(t, b.Get([]byte("ping")))

		return nil
	})
	require.NoError(t, err)
}

func testForEach(t *testing.T, open Opener) {
	db := open(t)

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte{2}, []byte{2}))
		require.NoError(t, b.Set([]byte{1}, []byte{1}))
		require.NoError(t, b.Set([]byte{0}, []byte{0}))

		return nil
	})
	require.NoError(t, err)

	err = db.View(func(tx kv.ReadableTx) error {
		var i byte

		err := tx.GetBucket([]byte("bucket")).ForEach(func(k, v []byte) error {
			require.Equal(t, []byte{i}, k)
			require.Equal(t, []byte{i}, v)
			i++
			return nil
		})

		require.Equal(t, byte(3), i)

		return err
	})
	require.NoError(t, err)
}

func testScan(t *testing.T, open Opener) {
	db := open(t)

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte{1, 7}, []byte{7}))
		require.NoError(t, b.Set([]byte{1, 0}, []byte{0}))
		require.NoError(t, b.Set([]byte{2, 0}, []byte{2}))

		return nil
	})
	require.NoError(t, err)

	err = db.View(func(tx kv.ReadableTx) error {
		b := tx.GetBucket([]byte("bucket"))

		var values []byte
		err := b.Scan([]byte{1}, func(k, v []byte) error {
			values = append(values, v...)
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, []byte{0, 7}, values)

		err = b.Scan(nil, func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.EqualError(t, err, "callback failed: oops")

		err = b.Scan([]byte{3}, func(k, v []byte) error {
			return xerrors.New("oops")
		})
		require.NoError(t, err)

		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, open Opener) {
	db := open(t)

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		return b.Set([]byte("a"), []byte("1"))
	})
	require.NoError(t, err)

	err = db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)

		require.NoError(t, b.Set([]byte("a"), []byte("2")))
		require.NoError(t, b.Set([]byte("b"), []byte("2")))

		return xerrors.New("oops")
	})
	require.EqualError(t, err, "oops")

	err = db.View(func(tx kv.ReadableTx) error {
		b := tx.GetBucket([]byte("bucket"))
		require.Equal(t, []byte("1"), b.Get([]byte("a")))
		require.Nil(t, b.Get([]byte("b")))

		return nil
	})
	require.NoError(t, err)
}

func testOnCommit(t *testing.T, open Opener) {
	db := open(t)

	calls := []int{}

	err := db.Update(func(tx kv.WritableTx) error {
		tx.OnCommit(func() { calls = append(calls, 1) })
		tx.OnCommit(func() { calls = append(calls, 2) })
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, calls)

	err = db.Update(func(tx kv.WritableTx) error {
		tx.OnCommit(func() { calls = append(calls, 3) })
		return xerrors.New("oops")
	})
	require.Error(t, err)
	require.Equal(t, []int{1, 2}, calls)
}

func testDeleteBucket(t *testing.T, open Opener) {
	db := open(t)

	err := db.Update(func(tx kv.WritableTx) error {
		b, err := tx.GetBucketOrCreate([]byte("bucket"))
		require.NoError(t, err)
		require.NoError(t, b.Set([]byte("a"), []byte("1")))

		other, err := tx.GetBucketOrCreate([]byte("bucket2"))
		require.NoError(t, err)

		return other.Set([]byte("a"), []byte("2"))
	})
	require.NoError(t, err)

	err = db.Update(func(tx kv.WritableTx) error {
		require.NoError(t, tx.DeleteBucket([]byte("unknown")))
		return tx.DeleteBucket([]byte("bucket"))
	})
	require.NoError(t, err)

	err = db.View(func(tx kv.ReadableTx) error {
		require.Nil(t, tx.GetBucket([]byte("bucket")))
		require.Equal(t, []byte("2"), tx.GetBucket([]byte("bucket2")).Get([]byte("a")))
		return nil
	})
	require.NoError(t, err)
}
