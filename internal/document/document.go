// Package document is the boundary to the PDF collaborator: opening a file,
// enumerating per-page image placements, extracting raw image bytes by
// reference, deleting image references and writing a compacted copy. The
// analysis pipeline never touches PDF internals directly.
package document

import (
	"context"
	"fmt"
)

// Placement describes one drawn occurrence of an embedded image.
type Placement struct {
	Ref        int     `json:"ref"`
	Page       int     `json:"page"`
	X0         float64 `json:"x0"`
	Y0         float64 `json:"y0"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	PageWidth  float64 `json:"page_w"`
	PageHeight float64 `json:"page_h"`
}

// Document is an open PDF handle.
type Document interface {
	// PageCount returns the total number of pages.
	PageCount() int
	// ImagePlacements enumerates image occurrences on a 0-based page.
	ImagePlacements(ctx context.Context, pageIndex int) ([]Placement, error)
	// ExtractImage returns the encoded bytes of the image object ref.
	ExtractImage(ctx context.Context, ref int) ([]byte, error)
	// DeleteImages removes every occurrence of the given refs and returns the
	// number of removed occurrences plus the affected 0-based page indices.
	DeleteImages(ctx context.Context, refs []int) (removed int, pages []int, err error)
	// SaveAs writes the (possibly mutated) document to path, compacted.
	SaveAs(ctx context.Context, path string) error
	Close() error
}

// Opener opens a path into a Document. Scan workers each open their own
// handle; Document implementations need not be safe for concurrent use.
type Opener interface {
	Open(path string) (Document, error)
}

// OpenError wraps a failure to open a document at all. It is fatal to one
// document's run but never to a batch.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open document %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }
