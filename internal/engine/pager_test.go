package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nainya/docstore/internal/logger"
)

func testLog() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error"})
}

func openTestPager(t *testing.T, cfg Config) *pager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pager.db")
	pgr, err := openPager(path, cfg, testLog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgr.close() })
	return pgr
}

func TestPagerGrowAndWriteRead(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	id, err := pgr.grow(1)
	require.NoError(t, err)
	require.Equal(t, firstAllocatablePage, id)

	payload := []byte("hello docstore")
	require.NoError(t, pgr.writePage(id, payload, 1, FlagData, noPage, noPage))

	got, hdr, err := pgr.readPage(id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Equal(t, uint32(1), hdr.Version)
	require.Equal(t, FlagData, hdr.Flags)
}

func TestPagerCrcMismatchDetected(t *testing.T) {
	cfg := DefaultConfig().normalize()
	path := filepath.Join(t.TempDir(), "pager.db")
	pgr, err := openPager(path, cfg, testLog())
	require.NoError(t, err)

	id, err := pgr.grow(1)
	require.NoError(t, err)
	require.NoError(t, pgr.writePage(id, []byte("intact"), 1, FlagData, noPage, noPage))
	require.NoError(t, pgr.close())

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xFF}, int64(id)*int64(cfg.PageSize)+int64(PageHeaderSize))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	pgr2, err := openPager(path, cfg, testLog())
	require.NoError(t, err)
	defer pgr2.close()

	_, _, err = pgr2.readPage(id)
	require.ErrorIs(t, err, ErrInvalidData)

	pgr2.setQuickMode(true)
	_, _, err = pgr2.readPage(id)
	require.NoError(t, err, "quick mode must skip the CRC check")
}

func TestPagerCacheStats(t *testing.T) {
	cfg := DefaultConfig().normalize()
	pgr := openTestPager(t, cfg)

	id, err := pgr.grow(1)
	require.NoError(t, err)
	require.NoError(t, pgr.writePage(id, []byte("x"), 1, FlagData, noPage, noPage))

	stats := pgr.cacheStats()
	require.Equal(t, uint64(0), stats.Hits)

	_, _, err = pgr.readPage(id)
	require.NoError(t, err)
	stats = pgr.cacheStats()
	require.Equal(t, uint64(1), stats.Hits)
}

func TestOpenFreshFileSyncsDirectoryEntry(t *testing.T) {
	cfg := DefaultConfig().normalize()
	path := filepath.Join(t.TempDir(), "fresh.db")

	pgr, err := openPager(path, cfg, testLog())
	require.NoError(t, err)
	require.NoError(t, pgr.close())

	// Reopening the now-nonempty file must not attempt (or need) the
	// directory fsync path again, and must still succeed.
	pgr2, err := openPager(path, cfg, testLog())
	require.NoError(t, err)
	require.NoError(t, pgr2.close())
}
