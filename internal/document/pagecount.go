package document

import (
	"fmt"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// PageCountFile returns the page count of the PDF at path without keeping a
// handle open. go-fitz is the fast path; pdfcpu is the fallback for files
// MuPDF refuses but pdfcpu can still parse.
func PageCountFile(path string) (int, error) {
	doc, err := fitz.New(path)
	if err == nil {
		n := doc.NumPage()
		_ = doc.Close()
		return n, nil
	}
	log.Debug().Err(err).Str("file", path).Msg("go-fitz open failed, trying pdfcpu")

	n, perr := api.PageCountFile(path)
	if perr != nil {
		return 0, &OpenError{Path: path, Err: fmt.Errorf("page count: %w", perr)}
	}
	return n, nil
}

// Optimize rewrites the PDF at inFile to outFile with pdfcpu's garbage
// collection and stream compaction. Used after image deletion so removed
// objects actually leave the file.
func Optimize(inFile, outFile string) error {
	if err := api.OptimizeFile(inFile, outFile, nil); err != nil {
		return fmt.Errorf("optimize %s: %w", inFile, err)
	}
	return nil
}
