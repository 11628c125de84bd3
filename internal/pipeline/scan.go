package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/document"
	"github.com/local/imagecleaner/internal/imaging"
	"github.com/local/imagecleaner/internal/metrics"
)

// Degenerate-image thresholds. Hairlines, spacer strips and 1×1 trackers are
// noise and must never reach classification.
const (
	minDimension  = 8  // min(w,h) <= this → skip
	tinyDimension = 6  // w and h both <= this → skip
	minPixelArea  = 64 // w*h <= this → skip
)

func isDegenerate(w, h int) bool {
	minWH := w
	if h < minWH {
		minWH = h
	}
	return minWH <= minDimension || (w <= tinyDimension && h <= tinyDimension) || w*h <= minPixelArea
}

// scanChunk enumerates image placements for pages [start,end) of the document
// at path, opening its own handle so chunks share nothing. Per-image extract
// or decode failures skip that image; anything else fails the whole chunk.
func scanChunk(ctx context.Context, opener document.Opener, path string, start, end int) (Registry, error) {
	doc, err := opener.Open(path)
	if err != nil {
		return nil, &ScanError{Path: path, StartPage: start, EndPage: end, Err: err}
	}
	defer doc.Close()

	part := Registry{}
	// Tracks dimension checks so a multi-page image is only decoded once per
	// chunk. true = usable, false = degenerate or unreadable.
	checked := map[ImageRef]bool{}

	for page := start; page < end; page++ {
		if err := ctx.Err(); err != nil {
			return nil, &ScanError{Path: path, StartPage: start, EndPage: end, Err: err}
		}
		if page >= doc.PageCount() {
			continue
		}
		placements, err := doc.ImagePlacements(ctx, page)
		if err != nil {
			return nil, &ScanError{Path: path, StartPage: start, EndPage: end, Err: err}
		}
		for _, pl := range placements {
			ref := ImageRef(pl.Ref)
			if ref == 0 {
				continue
			}
			usable, seen := checked[ref]
			var data []byte
			if !seen {
				data, usable = fetchUsable(ctx, doc, pl.Ref)
				checked[ref] = usable
			}
			if !usable {
				continue
			}
			rec := part[ref]
			if rec == nil {
				rec = &ImageRecord{Ref: ref, Pages: map[int]struct{}{}}
				part[ref] = rec
			}
			rec.Pages[page] = struct{}{}
			rec.Placements = append(rec.Placements, Placement{
				Page:       page,
				BBox:       BBox{X0: pl.X0, Y0: pl.Y0, X1: pl.X1, Y1: pl.Y1},
				PageWidth:  pl.PageWidth,
				PageHeight: pl.PageHeight,
			})
			if rec.Data == nil && data != nil {
				rec.Data = data
			}
		}
		metrics.IncPagesScanned()
	}
	return part, nil
}

// fetchUsable extracts an image's bytes and applies the degenerate filter.
// Failures are isolated: the image is skipped, the chunk continues.
func fetchUsable(ctx context.Context, doc document.Document, ref int) ([]byte, bool) {
	data, err := doc.ExtractImage(ctx, ref)
	if err != nil || len(data) == 0 {
		log.Debug().Err(err).Int("ref", ref).Msg("image extraction failed, skipping")
		return nil, false
	}
	w, h, err := imaging.DecodeDimensions(data)
	if err != nil {
		log.Debug().Err(err).Int("ref", ref).Msg("image undecodable, skipping")
		return nil, false
	}
	if isDegenerate(w, h) {
		return nil, false
	}
	return data, true
}
