package extraction

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
)

// ExtractSelected pulls only the wanted files out of a product bundle into
// destDir, which must already exist. Bundles arrive as tar files from the
// distribution service, but the format is detected from the file itself, so
// gzip or zip variants extract the same way. Returns the paths written.
func ExtractSelected(ctx context.Context, archivePath, destDir string, suffixes []string) ([]string, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return nil, err
	}

	var files []string
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !wantFile(filepath.Base(path), suffixes) {
			return nil
		}
		reader, err := fsys.Open(path)
		if err != nil {
			return err
		}
		defer reader.Close()

		destPath := filepath.Join(destDir, filepath.Base(path))
		outFile, err := os.Create(destPath)
		if err != nil {
			return err
		}
		defer outFile.Close()

		if _, err := io.Copy(outFile, reader); err != nil {
			return err
		}
		files = append(files, destPath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// wantFile matches the base name against the wanted suffixes. The suffix must
// close out the stem with a leading underscore, so SR_B3 selects
// LC08..._SR_B3.TIF but not ..._SR_B30.TIF.
func wantFile(base string, suffixes []string) bool {
	stem := base
	for {
		ext := filepath.Ext(stem)
		if ext == "" {
			break
		}
		stem = strings.TrimSuffix(stem, ext)
	}
	for _, s := range suffixes {
		if strings.HasSuffix(stem, "_"+s) {
			return true
		}
	}
	return false
}
