package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Report-Pipeline/pkg/errors"
)

func TestFileStorePutGet(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(filepath.Join(dir, "reports"), ".csv")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "1042-3-abc", []byte("a,b\n1,2\n")))

	data, err := os.ReadFile(filepath.Join(dir, "reports", "1042-3-abc.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	got, err := st.Get(ctx, "1042-3-abc")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFileStoreOverwriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFileStore(dir, ".csv")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "doc", []byte("first")))
	require.NoError(t, st.Put(ctx, "doc", []byte("second")))

	got, err := st.Get(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.csv", entries[0].Name())
}

func TestFileStoreConcurrentDistinctIDs(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), ".csv")
	require.NoError(t, err)

	ids := []string{"1000-1-a", "1000-1-b", "1099-9-c", "1050-5-d"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, st.Put(context.Background(), id, []byte(id)))
		}()
	}
	wg.Wait()

	for _, id := range ids {
		got, err := st.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, id, string(got))
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), ".csv")
	require.NoError(t, err)

	_, err = st.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrDocumentNotFound))
}

func TestFileStoreRejectsEscapingIDs(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), ".csv")
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../etc/passwd", `a\b`, "c:d", "nul\x00byte"} {
		err := st.Put(context.Background(), id, []byte("x"))
		assert.True(t, errors.Is(err, apperrors.ErrInvalidInput), "id %q", id)
	}
}

func TestFileStorePutHonoursCancelledContext(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), ".csv")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = st.Put(ctx, "doc", []byte("x"))
	assert.True(t, errors.Is(err, apperrors.ErrPersistence))
}

func TestFileStorePing(t *testing.T) {
	st, err := NewFileStore(t.TempDir(), ".csv")
	require.NoError(t, err)
	assert.NoError(t, st.Ping(context.Background()))
}
