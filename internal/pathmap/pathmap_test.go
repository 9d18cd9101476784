package pathmap_test

import (
	"errors"
	"testing"

	"github.com/italolelis/qbit_mover/internal/pathmap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSource(t *testing.T) {
	tests := []struct {
		name       string
		savePath   string
		torrent    string
		rootPath   string
		pathPrefix string
		want       string
	}{
		{"prefix and root", "/data/downloads/movies", "Movie.mkv", "/mnt/staging", "/data/downloads", "/mnt/staging/movies/Movie.mkv"},
		{"prefix with trailing slash", "/data/downloads/movies/", "Movie.mkv", "/mnt/staging", "/data/downloads/", "/mnt/staging/movies/Movie.mkv"},
		{"prefix equals save path", "/data/downloads", "A", "/mnt/staging", "/data/downloads", "/mnt/staging/A"},
		{"no prefix no root", "/src", "A", "", "", "/src/A"},
		{"no prefix with root", "/src", "A", "/mnt", "", "/mnt/src/A"},
		{"root prefix", "/downloads/tv", "Show", "/mnt", "/", "/mnt/downloads/tv/Show"},
		{"empty root after strip", "/data/downloads/movies", "A", "", "/data/downloads", "movies/A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pathmap.ComputeSource(tt.savePath, tt.torrent, tt.rootPath, tt.pathPrefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeSource_PrefixMismatch(t *testing.T) {
	tests := []struct {
		name       string
		savePath   string
		pathPrefix string
	}{
		{"different tree", "/other/movies", "/data/downloads"},
		{"partial component", "/data/downloads2/movies", "/data/downloads"},
		{"shorter save path", "/data", "/data/downloads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pathmap.ComputeSource(tt.savePath, "A", "/mnt", tt.pathPrefix)
			require.Error(t, err)

			var mismatch *pathmap.PrefixMismatchError
			require.True(t, errors.As(err, &mismatch))
			assert.Equal(t, tt.savePath, mismatch.SavePath)
			assert.Equal(t, tt.pathPrefix, mismatch.Prefix)
		})
	}
}

func TestComputeDestination(t *testing.T) {
	categories := map[string]string{"movies": "/dest/movies", "empty": ""}

	dest, ok := pathmap.ComputeDestination("movies", "A", categories)
	assert.True(t, ok)
	assert.Equal(t, "/dest/movies/A", dest)

	for _, category := range []string{"tv", "", "empty", "Movies"} {
		_, ok := pathmap.ComputeDestination(category, "A", categories)
		assert.False(t, ok, "category %q should not be mapped", category)
	}

	_, ok = pathmap.ComputeDestination("movies", "A", nil)
	assert.False(t, ok)
}

func TestCompute(t *testing.T) {
	categories := map[string]string{"movies": "/dest"}

	plan, err := pathmap.Compute("/src", "A", "movies", "", "", categories)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "/src/A", plan.Source)
	assert.Equal(t, "/dest/A", plan.Destination)

	// unmapped categories are skipped before the prefix is even checked
	plan, err = pathmap.Compute("/elsewhere", "A", "tv", "", "/data", categories)
	require.NoError(t, err)
	assert.Nil(t, plan)

	_, err = pathmap.Compute("/elsewhere", "A", "movies", "", "/data", categories)
	require.Error(t, err)
}

var unsafeNames = []string{"", ".", "..", "../../etc", "a/b", "/abs", "../sibling"}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"A", "Movie.2024.1080p", "a..b", ".hidden"} {
		assert.NoError(t, pathmap.ValidateName(name), "name %q should be accepted", name)
	}

	for _, name := range unsafeNames {
		err := pathmap.ValidateName(name)

		var nameErr *pathmap.InvalidNameError
		require.ErrorAs(t, err, &nameErr, "name %q should be rejected", name)
		assert.Equal(t, name, nameErr.Name)
	}
}

func TestCompute_UnsafeNames(t *testing.T) {
	categories := map[string]string{"movies": "/dest"}

	for _, name := range unsafeNames {
		t.Run(name, func(t *testing.T) {
			_, err := pathmap.ComputeSource("/src", name, "", "")
			var nameErr *pathmap.InvalidNameError
			assert.ErrorAs(t, err, &nameErr)

			_, ok := pathmap.ComputeDestination("movies", name, categories)
			assert.False(t, ok)

			plan, err := pathmap.Compute("/src", name, "movies", "", "", categories)
			assert.Nil(t, plan)
			assert.ErrorAs(t, err, &nameErr)

			// unmapped torrents are still skipped whatever their name
			plan, err = pathmap.Compute("/src", name, "tv", "", "", categories)
			assert.NoError(t, err)
			assert.Nil(t, plan)
		})
	}
}
