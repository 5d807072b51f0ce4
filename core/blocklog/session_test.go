package blocklog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/hyperlog/core/blocklog/encoding"
	"go.dedis.ch/hyperlog/core/store/kv/mem"
	"golang.org/x/xerrors"
)

func TestLog_Commit(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	_, err := log.Append(ctx, "a")
	require.NoError(t, err)

	session, err := log.Session(WithExclusive())
	require.NoError(t, err)

	res, err := session.Append(ctx, "b", "c")
	require.NoError(t, err)
	require.Equal(t, AppendResult{Length: 3, ByteLength: 3}, res)

	require.Equal(t, uint64(3), session.Length())
	require.Equal(t, uint64(1), log.Length())

	value, err := session.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), value)

	_, err = log.Get(ctx, 2, WithWait(false))
	require.True(t, xerrors.Is(err, ErrOutOfRange))

	staged, err := session.TreeHash(ctx)
	require.NoError(t, err)

	committed, err := log.Commit(ctx, session)
	require.NoError(t, err)
	require.Equal(t, &AppendResult{Length: 3, ByteLength: 3}, committed)
	require.Equal(t, uint64(3), log.Length())

	hash, err := log.TreeHash(ctx)
	require.NoError(t, err)
	require.Equal(t, staged, hash)

	value, err = log.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), value)

	// The session goes on after a commit.
	_, err = session.Append(ctx, "d")
	require.NoError(t, err)

	committed, err = log.Commit(ctx, session)
	require.NoError(t, err)
	require.Equal(t, uint64(4), committed.Length)

	committed, err = log.Commit(ctx, session)
	require.NoError(t, err)
	require.Equal(t, uint64(4), committed.Length)
}

func TestLog_CommitConflict(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	session, err := log.Session(WithExclusive())
	require.NoError(t, err)

	_, err = session.Append(ctx, "session")
	require.NoError(t, err)

	_, err = log.Append(ctx, "parent")
	require.NoError(t, err)

	res, err := log.Commit(ctx, session)
	require.True(t, xerrors.Is(err, ErrConflictingWrite))
	require.Nil(t, res)

	require.Equal(t, uint64(1), log.Length())

	value, err := log.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("parent"), value)

	// A truncation is a conflicting write too.
	other := makeLog(t)

	_, err = other.Append(ctx, "a")
	require.NoError(t, err)

	session, err = other.Session(WithExclusive())
	require.NoError(t, err)

	require.NoError(t, other.Truncate(ctx, 0))

	_, err = other.Commit(ctx, session)
	require.True(t, xerrors.Is(err, ErrConflictingWrite))
}

func TestLog_CommitErrors(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	session, err := log.Session()
	require.NoError(t, err)

	_, err = log.Commit(ctx, session)
	require.EqualError(t, err, "session is not exclusive")

	_, err = log.Commit(ctx, makeLog(t))
	require.EqualError(t, err, "session belongs to another log")

	session, err = log.Session(WithExclusive())
	require.NoError(t, err)
	require.NoError(t, session.Close(ctx))

	_, err = log.Commit(ctx, session)
	require.Equal(t, ErrClosed, err)
}

func TestLog_ExclusiveSession(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	session, err := log.Session(WithExclusive())
	require.NoError(t, err)

	_, err = log.Session(WithExclusive())
	require.Equal(t, ErrExclusiveSession, err)

	// A snapshot of the exclusive session is not exclusive itself.
	snapshot, err := session.Snapshot()
	require.NoError(t, err)
	require.NoError(t, snapshot.Close(ctx))

	require.NoError(t, session.Close(ctx))

	session, err = log.Session(WithExclusive())
	require.NoError(t, err)
	require.NoError(t, session.Close(ctx))
}

func TestLog_Snapshot(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	_, err := log.Append(ctx, "a", "b")
	require.NoError(t, err)

	snapshot, err := log.Snapshot()
	require.NoError(t, err)
	require.False(t, snapshot.Writable())

	hash, err := log.TreeHash(ctx)
	require.NoError(t, err)

	_, err = log.Append(ctx, "c")
	require.NoError(t, err)

	require.Equal(t, uint64(3), log.Length())
	require.Equal(t, uint64(2), snapshot.Length())
	require.Equal(t, uint64(2), snapshot.ByteLength())

	other, err := snapshot.TreeHash(ctx)
	require.NoError(t, err)
	require.Equal(t, hash, other)

	// A snapshot never grows so it does not wait.
	_, err = snapshot.Get(ctx, 2)
	require.True(t, xerrors.Is(err, ErrOutOfRange))

	_, err = snapshot.Append(ctx, "d")
	require.True(t, xerrors.Is(err, ErrNotWritable))

	require.NoError(t, log.Truncate(ctx, 1))
	require.Equal(t, uint64(1), snapshot.Length())

	_, err = log.Append(ctx, "x", "y")
	require.NoError(t, err)
	require.Equal(t, uint64(1), snapshot.Length())

	nested, err := snapshot.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(1), nested.Length())
}

func TestLog_SnapshotExclusive(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	_, err := log.Append(ctx, "a")
	require.NoError(t, err)

	session, err := log.Session(WithExclusive())
	require.NoError(t, err)

	_, err = session.Append(ctx, "b", "c")
	require.NoError(t, err)

	snapshot, err := session.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(3), session.Length())
	require.Equal(t, uint64(3), snapshot.Length())

	staged, err := session.TreeHash(ctx)
	require.NoError(t, err)

	hash, err := snapshot.TreeHash(ctx)
	require.NoError(t, err)
	require.Equal(t, staged, hash)

	value, err := snapshot.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), value)

	_, err = snapshot.Get(ctx, 3)
	require.True(t, xerrors.Is(err, ErrOutOfRange))

	// Later appends of the session are not seen by the snapshot.
	_, err = session.Append(ctx, "d")
	require.NoError(t, err)
	require.Equal(t, uint64(4), session.Length())
	require.Equal(t, uint64(3), snapshot.Length())

	_, err = log.Commit(ctx, session)
	require.NoError(t, err)
	require.Equal(t, uint64(3), snapshot.Length())

	value, err = snapshot.Get(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []byte("c"), value)

	nested, err := snapshot.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(3), nested.Length())

	// A truncation below the staged blocks drops them.
	require.NoError(t, log.Truncate(ctx, 0))
	require.Equal(t, uint64(0), snapshot.Length())
	require.Equal(t, uint64(0), nested.Length())
}

func TestLog_SessionLockOrder(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	session, err := log.Session(WithExclusive())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()

		for i := 0; i < 50; i++ {
			_, err := session.Append(ctx, "staged")
			require.NoError(t, err)
		}
	}()

	go func() {
		defer wg.Done()

		for i := 0; i < 50; i++ {
			snapshot, err := session.Snapshot()
			require.NoError(t, err)
			require.NoError(t, snapshot.Close(ctx))
		}
	}()

	go func() {
		defer wg.Done()

		for i := 0; i < 50; i++ {
			_, err := log.Append(ctx, "parent")
			require.NoError(t, err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("sessions are deadlocked")
	}
}

func TestLog_SnapshotBeforeReady(t *testing.T) {
	ctx := context.Background()

	db := mem.NewDB()

	log, err := Open(ctx, db, nil)
	require.NoError(t, err)

	_, err = log.Append(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, log.Close(ctx))

	log = New(db, nil)
	defer log.Close(ctx)

	snapshot, err := log.Snapshot()
	require.NoError(t, err)

	require.NoError(t, snapshot.Ready(ctx))
	require.Equal(t, uint64(1), snapshot.Length())

	_, err = log.Append(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, uint64(1), snapshot.Length())
}

func TestLog_Checkout(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)

	_, err := log.Append(ctx, makeValues(4)...)
	require.NoError(t, err)

	checkout, err := log.Session(WithCheckout(2))
	require.NoError(t, err)
	require.Equal(t, uint64(2), checkout.Length())

	expected, err := log.TreeHash(ctx, 2)
	require.NoError(t, err)

	hash, err := checkout.TreeHash(ctx)
	require.NoError(t, err)
	require.Equal(t, expected, hash)

	_, err = checkout.Append(ctx, "x")
	require.True(t, xerrors.Is(err, ErrNotWritable))

	info, err := checkout.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), info.Length)
	require.Equal(t, uint64(2), info.ContiguousLength)
}

func TestLog_SessionEncoding(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t, WithValueEncoding(mustEncoding(t, encoding.JSON)))

	session, err := log.Session(WithSessionEncoding(mustEncoding(t, encoding.UTF8)), WithName("text"))
	require.NoError(t, err)
	require.Equal(t, "text", session.Name())
	require.NotEqual(t, log.ID(), session.ID())

	_, err = log.Append(ctx, []int{1, 2})
	require.NoError(t, err)

	value, err := session.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "[1,2]", value)

	readOnly, err := log.Session(WithSessionWritable(false))
	require.NoError(t, err)

	_, err = readOnly.Append(ctx, 1)
	require.True(t, xerrors.Is(err, ErrNotWritable))
}

func TestLog_SessionLifetime(t *testing.T) {
	ctx := context.Background()

	log := makeLog(t)
	require.NoError(t, log.Ready(ctx))

	session, err := log.Session()
	require.NoError(t, err)

	weak, err := log.Session(WithWeak())
	require.NoError(t, err)

	require.NoError(t, log.Close(ctx))
	require.True(t, log.Closed())

	// The session keeps the log open.
	require.False(t, session.Closed())
	require.False(t, weak.Closed())

	_, err = session.Append(ctx, "a")
	require.NoError(t, err)

	value, err := weak.Get(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), value)

	require.NoError(t, session.Close(ctx))
	require.True(t, session.Closed())
	require.True(t, weak.Closed())

	_, err = weak.Get(ctx, 0)
	require.True(t, xerrors.Is(err, ErrClosed))

	require.NoError(t, weak.Close(ctx))
}
