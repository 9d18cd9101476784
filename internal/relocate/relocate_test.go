package relocate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
}

func readFile(t *testing.T, path string) string {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(b)
}

func TestRelocate_FileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "Movie.mkv")
	dst := filepath.Join(dir, "dest", "Movie.mkv")
	writeFile(t, src, "movie bytes")

	r := NewRelocator()

	stats, err := r.Relocate(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, int64(len("movie bytes")), stats.Bytes)

	assert.Equal(t, "movie bytes", readFile(t, dst))
	assert.NoFileExists(t, src)

	// running the same plan again must not be a silent success
	_, err = r.Relocate(context.Background(), src, dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceNotFound))
}

func TestRelocate_DestinationExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "A")
	dst := filepath.Join(dir, "dest", "A")
	writeFile(t, src, "new")
	writeFile(t, dst, "old")

	_, err := NewRelocator().Relocate(context.Background(), src, dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDestinationExists))

	assert.Equal(t, "new", readFile(t, src))
	assert.Equal(t, "old", readFile(t, dst))
}

func TestRelocate_DestinationDirectoryExists(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "Show")
	dst := filepath.Join(dir, "dest", "Show")
	writeFile(t, filepath.Join(src, "e01.mkv"), "1")
	require.NoError(t, os.MkdirAll(dst, 0o755))

	_, err := NewRelocator().Relocate(context.Background(), src, dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDestinationExists))
	assert.FileExists(t, filepath.Join(src, "e01.mkv"))
	assert.NoFileExists(t, filepath.Join(dst, "e01.mkv"))
}

func TestRelocate_SymlinkSourceIsUnsupported(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	src := filepath.Join(dir, "link")
	writeFile(t, target, "data")
	require.NoError(t, os.Symlink(target, src))

	_, err := NewRelocator().Relocate(context.Background(), src, filepath.Join(dir, "dest", "link"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedSourceType))

	_, err = os.Lstat(src)
	assert.NoError(t, err)
}

func TestRelocate_DirectoryRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "Show")
	dst := filepath.Join(dir, "dest", "tv", "Show")
	writeFile(t, filepath.Join(src, "S01", "e01.mkv"), "episode one")
	writeFile(t, filepath.Join(src, "S01", "e02.mkv"), "episode two")
	writeFile(t, filepath.Join(src, "info.nfo"), "nfo")

	stats, err := NewRelocator().Relocate(context.Background(), src, dst)
	require.NoError(t, err)
	assert.True(t, stats.Renamed)
	assert.Equal(t, 3, stats.Files)

	assert.NoDirExists(t, src)
	assert.Equal(t, "episode one", readFile(t, filepath.Join(dst, "S01", "e01.mkv")))
	assert.Equal(t, "episode two", readFile(t, filepath.Join(dst, "S01", "e02.mkv")))
	assert.Equal(t, "nfo", readFile(t, filepath.Join(dst, "info.nfo")))
}

func TestRelocate_RenameErrorIsReturned(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src", "A")
	dst := filepath.Join(dir, "dest", "A")
	writeFile(t, src, "data")

	old := renameFunc
	renameFunc = func(_, _ string) error { return os.ErrPermission }
	defer func() { renameFunc = old }()

	_, err := NewRelocator().Relocate(context.Background(), src, dst)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.FileExists(t, src)
	assert.NoFileExists(t, dst)
}
