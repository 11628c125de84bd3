package pipeline

import (
	"errors"
	"fmt"

	"github.com/local/imagecleaner/internal/document"
)

// ScanError is fatal to the current run of one document: a page chunk could
// not be scanned at all. It never escalates past the document.
type ScanError struct {
	Path      string
	StartPage int
	EndPage   int
	Err       error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("scan pages [%d,%d) of %s: %v", e.StartPage, e.EndPage, e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// IsDocumentOpen reports whether err means the document could not be opened
// at all (as opposed to a mid-scan failure).
func IsDocumentOpen(err error) bool {
	var oe *document.OpenError
	return errors.As(err, &oe)
}
