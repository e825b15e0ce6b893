package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-io/tributary/internal/core/storage"
	"github.com/tributary-io/tributary/internal/migrations"
)

// newTestStore opens a store on a throwaway file and applies the real
// embedded migrations, so tests cover the same schema production runs on.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "offsets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, migrations.RunMigrations(db, "sqlite", true))

	return NewStore(db)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)

	_, err = Open("   ")
	require.Error(t, err)
}

func TestStore_ReadAbsent(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.Read(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastEvent := time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC)
	updatedAt := lastEvent.Add(time.Second)

	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-1",
		Cursor:        "cur_8f2a",
		LastEventTime: lastEvent,
		SchemaVersion: storage.SchemaVersion,
		UpdatedAt:     updatedAt,
	}))

	got, err := s.Read(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acct-1", got.AccountID)
	assert.Equal(t, "cur_8f2a", got.Cursor)
	assert.True(t, got.LastEventTime.Equal(lastEvent), "got %v", got.LastEventTime)
	assert.Equal(t, storage.SchemaVersion, got.SchemaVersion)
	assert.True(t, got.UpdatedAt.Equal(updatedAt), "got %v", got.UpdatedAt)
}

func TestStore_ZeroLastEventTimeRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-1",
		Cursor:        "cur_1",
		SchemaVersion: storage.SchemaVersion,
	}))

	got, err := s.Read(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.LastEventTime.IsZero(), "no-event marker must survive the round trip")
	assert.False(t, got.UpdatedAt.IsZero(), "zero UpdatedAt should be stamped on write")
}

func TestStore_WriteIsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, cursor := range []string{"cur_1", "cur_2", "cur_3"} {
		require.NoError(t, s.Write(ctx, storage.OffsetRecord{
			AccountID:     "acct-1",
			Cursor:        cursor,
			SchemaVersion: storage.SchemaVersion,
		}))
	}

	got, err := s.Read(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cur_3", got.Cursor)
}

func TestStore_WriteRequiresAccountID(t *testing.T) {
	s := newTestStore(t)

	err := s.Write(context.Background(), storage.OffsetRecord{
		Cursor:        "cur_1",
		SchemaVersion: storage.SchemaVersion,
	})
	require.Error(t, err)
}

func TestStore_UnknownSchemaVersionReadsAsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-1",
		Cursor:        "cur_from_the_future",
		SchemaVersion: storage.SchemaVersion + 3,
	}))

	got, err := s.Read(ctx, "acct-1")
	require.NoError(t, err, "version mismatch must not be fatal")
	assert.Nil(t, got)
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-1",
		Cursor:        "cur_1",
		SchemaVersion: storage.SchemaVersion,
	}))

	require.NoError(t, s.Delete(ctx, "acct-1"))
	require.NoError(t, s.Delete(ctx, "acct-1"))
	require.NoError(t, s.Delete(ctx, "never-existed"))

	got, err := s.Read(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_IsolatesAccounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-a",
		Cursor:        "cur_a",
		SchemaVersion: storage.SchemaVersion,
	}))
	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-b",
		Cursor:        "cur_b",
		SchemaVersion: storage.SchemaVersion,
	}))

	require.NoError(t, s.Delete(ctx, "acct-a"))

	gotA, err := s.Read(ctx, "acct-a")
	require.NoError(t, err)
	assert.Nil(t, gotA)

	gotB, err := s.Read(ctx, "acct-b")
	require.NoError(t, err)
	require.NotNil(t, gotB)
	assert.Equal(t, "cur_b", gotB.Cursor)
}

func TestStore_CancelledContext(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Read(ctx, "acct-1")
	assert.ErrorIs(t, err, context.Canceled)

	err = s.Write(ctx, storage.OffsetRecord{AccountID: "acct-1", SchemaVersion: storage.SchemaVersion})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offsets.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, migrations.RunMigrations(db, "sqlite", true))

	s := NewStore(db)
	require.NoError(t, s.Write(ctx, storage.OffsetRecord{
		AccountID:     "acct-1",
		Cursor:        "cur_survivor",
		SchemaVersion: storage.SchemaVersion,
	}))
	require.NoError(t, s.Close())

	// Same file, fresh handle: the durable record must still be there.
	db2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, migrations.RunMigrations(db2, "sqlite", true))
	s2 := NewStore(db2)
	defer s2.Close()

	got, err := s2.Read(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cur_survivor", got.Cursor)
}
