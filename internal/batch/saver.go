package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/local/imagecleaner/internal/document"
	"github.com/local/imagecleaner/internal/pipeline"
	"github.com/local/imagecleaner/internal/storage"
)

// SaveError wraps a failure while writing the cleaned copy of a document.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save cleaned copy of %s: %v", e.Path, e.Err) }
func (e *SaveError) Unwrap() error { return e.Err }

// DocumentSaver writes cleaned copies next to the requested output directory.
// When the directory is an s3:// URL it writes to a temp file first and
// uploads the result.
type DocumentSaver struct {
	Opener  document.Opener
	Uploads *storage.Uploader // required only for s3:// destinations
}

func (s *DocumentSaver) Save(ctx context.Context, inPath, outDir string, refs []pipeline.ImageRef) (string, int, []int, error) {
	name := OutputName(inPath)

	var local, remote string
	switch {
	case storage.IsS3URL(outDir):
		tmp, err := os.CreateTemp("", "cleaned-*.pdf")
		if err != nil {
			return "", 0, nil, &SaveError{Path: inPath, Err: err}
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		remote = strings.TrimSuffix(outDir, "/") + "/" + name
		local = tmp.Name()
	case outDir == "":
		local = filepath.Join(filepath.Dir(inPath), name)
	default:
		local = filepath.Join(outDir, name)
	}

	removed, pages, err := s.writeCleaned(ctx, inPath, local, refs)
	if err != nil {
		return "", 0, nil, &SaveError{Path: inPath, Err: err}
	}

	if remote != "" {
		if s.Uploads == nil {
			return "", 0, nil, &SaveError{Path: inPath, Err: fmt.Errorf("s3 destination %s but no uploader configured", remote)}
		}
		url, err := s.Uploads.UploadFile(ctx, local, remote)
		if err != nil {
			return "", 0, nil, &SaveError{Path: inPath, Err: err}
		}
		return url, removed, pages, nil
	}
	return local, removed, pages, nil
}

func (s *DocumentSaver) writeCleaned(ctx context.Context, inPath, outPath string, refs []pipeline.ImageRef) (int, []int, error) {
	doc, err := s.Opener.Open(inPath)
	if err != nil {
		return 0, nil, err
	}
	defer doc.Close()

	ints := make([]int, len(refs))
	for i, r := range refs {
		ints[i] = int(r)
	}
	sort.Ints(ints)

	removed, pages, err := doc.DeleteImages(ctx, ints)
	if err != nil {
		return 0, nil, err
	}
	if err := doc.SaveAs(ctx, outPath); err != nil {
		return 0, nil, err
	}
	return removed, pages, nil
}
