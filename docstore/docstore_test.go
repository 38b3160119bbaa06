package docstore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docstore.db")
	db, err := Open(path, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func TestWriteGetSearchDeleteRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)

	id, err := db.WriteDocument("notes/today", []byte("buy milk"))
	require.NoError(t, err)
	require.Len(t, id, 36) // canonical UUID string, e.g. 8-4-4-4-12

	data, err := db.Get("notes/today")
	require.NoError(t, err)
	require.Equal(t, []byte("buy milk"), data)

	paths, err := db.SearchPaths("notes")
	require.NoError(t, err)
	require.Equal(t, []string{"notes/today"}, paths)

	require.NoError(t, db.DeleteByPath("notes/today"))
	_, err = db.Get("notes/today")
	require.Error(t, err)
}

func TestWriteSupersedesKeepsID(t *testing.T) {
	db, _ := openTestDB(t)

	id1, err := db.WriteDocument("a", []byte("v1"))
	require.NoError(t, err)
	id2, err := db.WriteDocument("a", []byte("v2"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	got, err := db.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestSurvivesCloseAndReopen(t *testing.T) {
	cfg := DefaultConfig()
	path := filepath.Join(t.TempDir(), "docstore.db")

	db, err := Open(path, cfg)
	require.NoError(t, err)
	_, err = db.WriteDocument("durable", []byte("still here"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db2, err := Open(path, cfg)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get("durable")
	require.NoError(t, err)
	require.Equal(t, []byte("still here"), got)
}

func TestTransactionCommitAndRollback(t *testing.T) {
	db, _ := openTestDB(t)

	txID, err := db.BeginTransaction()
	require.NoError(t, err)
	_, err = db.WriteDocument("committed", []byte("yes"))
	require.NoError(t, err)
	require.NoError(t, db.CommitTransaction(txID))

	got, err := db.Get("committed")
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), got)

	txID2, err := db.BeginTransaction()
	require.NoError(t, err)
	_, err = db.WriteDocument("rolledback", []byte("no"))
	require.NoError(t, err)
	require.NoError(t, db.RollbackTransaction(txID2))

	_, err = db.Get("rolledback")
	require.Error(t, err)
}

func TestStreamingMatchesDirectGet(t *testing.T) {
	db, _ := openTestDB(t)

	data := bytes.Repeat([]byte("chunked-payload-"), 10000)
	_, err := db.WriteDocument("blob", data)
	require.NoError(t, err)

	handle, err := db.StartStream("blob")
	require.NoError(t, err)

	var streamed []byte
	for handle != -1 {
		var chunk []byte
		var next int64
		chunk, next, err = db.NextStreamChunk(handle)
		require.NoError(t, err)
		streamed = append(streamed, chunk...)
		handle = next
	}
	require.Equal(t, data, streamed)
}

func TestChecksumChangesOnWriteAndStableAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	path := filepath.Join(t.TempDir(), "docstore.db")

	db, err := Open(path, cfg)
	require.NoError(t, err)

	before := db.GetChecksum()
	_, err = db.WriteDocument("x", []byte("y"))
	require.NoError(t, err)
	after := db.GetChecksum()
	require.NotEqual(t, before, after)

	require.NoError(t, db.Close())
	db2, err := Open(path, cfg)
	require.NoError(t, err)
	defer db2.Close()
	require.Equal(t, after, db2.GetChecksum())
}

func TestCacheStatsReflectReadActivity(t *testing.T) {
	db, _ := openTestDB(t)

	_, err := db.WriteDocument("cached", []byte("hit me"))
	require.NoError(t, err)

	before := db.GetCacheStats()
	_, err = db.Get("cached")
	require.NoError(t, err)
	after := db.GetCacheStats()
	require.Greater(t, after.Hits+after.Misses, before.Hits+before.Misses)
}

func TestBindAddonPathExposesSameBytes(t *testing.T) {
	db, _ := openTestDB(t)

	_, err := db.WriteDocument("canonical/path", []byte("shared"))
	require.NoError(t, err)
	require.NoError(t, db.BindAddonPath("canonical/path", "alias/path"))

	got, err := db.Get("alias/path")
	require.NoError(t, err)
	require.Equal(t, []byte("shared"), got)
}
