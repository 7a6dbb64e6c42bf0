package extraction

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestBundle(t *testing.T, dir string, names []string) string {
	t.Helper()
	path := filepath.Join(dir, "LC08_L2SP_194026_20240315_20240320_02_T1.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	for _, name := range names {
		body := []byte("payload for " + name)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body))}))
		_, err = tw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return path
}

func TestExtractSelectedPicksOnlyWantedFiles(t *testing.T) {
	dir := t.TempDir()
	prefix := "LC08_L2SP_194026_20240315_20240320_02_T1"
	bundle := writeTestBundle(t, dir, []string{
		prefix + "_SR_B3.TIF",
		prefix + "_SR_B4.TIF",
		prefix + "_SR_B6.TIF",
		prefix + "_ST_B10.TIF",
		prefix + "_QA_PIXEL.TIF",
		prefix + "_MTL.txt",
		prefix + "_ANG.txt",
	})
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	files, err := ExtractSelected(context.Background(), bundle, dest,
		[]string{"SR_B3", "SR_B6", "QA_PIXEL", "MTL"})
	require.NoError(t, err)
	require.Len(t, files, 4)

	got := make(map[string]bool)
	for _, f := range files {
		got[filepath.Base(f)] = true
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}
	assert.True(t, got[prefix+"_SR_B3.TIF"])
	assert.True(t, got[prefix+"_SR_B6.TIF"])
	assert.True(t, got[prefix+"_QA_PIXEL.TIF"])
	assert.True(t, got[prefix+"_MTL.txt"])
	assert.False(t, got[prefix+"_SR_B4.TIF"])
	assert.False(t, got[prefix+"_ANG.txt"])
}

func TestWantFileMatchesSuffixExactly(t *testing.T) {
	assert.True(t, wantFile("LC08_X_SR_B3.TIF", []string{"SR_B3"}))
	assert.False(t, wantFile("LC08_X_SR_B30.TIF", []string{"SR_B3"}))
	assert.True(t, wantFile("LC08_X_MTL.txt", []string{"MTL"}))
	assert.False(t, wantFile("LC08_X_ANG.txt", []string{"MTL"}))
	assert.False(t, wantFile("SR_B3", []string{"SR_B3"}))
}
