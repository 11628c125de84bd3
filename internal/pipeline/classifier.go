package pipeline

import (
	"github.com/local/imagecleaner/internal/imaging"
)

// QR rule constants: codes smaller than this are unreadable noise, and QR
// codes are square so the aspect ratio must sit near 1.
const (
	qrMinDimension   = 30
	qrAspectLow      = 0.9
	qrAspectHigh     = 1.1
	repeatedFraction = 0.7
	cornerMarginX    = 0.25 // fraction of page width
	cornerMarginY    = 0.15 // fraction of page height
)

// Classifier evaluates the removal heuristics against single images.
type Classifier struct {
	qr imaging.QRDetector
}

// NewClassifier builds a classifier using the given QR detector.
func NewClassifier(qr imaging.QRDetector) *Classifier {
	return &Classifier{qr: qr}
}

// Classify evaluates the active rules in fixed priority order (QR, then
// Repeated, then Corner) and returns the first match. The second return is
// false when no active rule matches. Classification is pure: it never fails,
// an undecodable image simply matches nothing.
func (c *Classifier) Classify(rec *ImageRecord, rules RuleConfig, totalPages int) (Category, bool) {
	if rules.QR && c.isQR(rec.Data) {
		return CategoryQR, true
	}
	if rules.Repeated && totalPages > 1 && float64(len(rec.Pages)) >= float64(totalPages)*repeatedFraction {
		return CategoryRepeated, true
	}
	if rules.Corners && hasCornerPlacement(rec.Placements) {
		return CategoryCorner, true
	}
	return 0, false
}

func (c *Classifier) isQR(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	w, h, err := imaging.DecodeDimensions(data)
	if err != nil || w < qrMinDimension || h < qrMinDimension {
		return false
	}
	aspect := float64(w) / float64(h)
	if aspect <= qrAspectLow || aspect >= qrAspectHigh {
		return false
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return false
	}
	return len(c.qr.Detect(img)) > 0
}

// hasCornerPlacement reports whether any single placement sits entirely inside
// the top-left margin rectangle or its horizontal mirror at the top-right.
func hasCornerPlacement(placements []Placement) bool {
	for _, pl := range placements {
		mx := pl.PageWidth * cornerMarginX
		my := pl.PageHeight * cornerMarginY
		topLeft := pl.BBox.X1 < mx && pl.BBox.Y1 < my
		topRight := pl.BBox.X0 > pl.PageWidth-mx && pl.BBox.Y1 < my
		if topLeft || topRight {
			return true
		}
	}
	return false
}
