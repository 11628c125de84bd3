package pipeline

import (
	"sort"
)

// ImageRef identifies one embedded image resource within a document (its
// object number). Stable and unique for the lifetime of the document.
type ImageRef int

// BBox is a placement rectangle in page coordinates.
type BBox struct {
	X0, Y0, X1, Y1 float64
}

// Placement is one occurrence of an image on a page.
type Placement struct {
	Page       int
	BBox       BBox
	PageWidth  float64
	PageHeight float64
}

// ImageRecord accumulates everything observed about one image across all
// scanned pages. Data is captured once; the first chunk to see the image wins.
type ImageRecord struct {
	Ref        ImageRef
	Pages      map[int]struct{}
	Placements []Placement
	Data       []byte
}

// PageList returns the sorted page indices where the image appears.
func (r *ImageRecord) PageList() []int {
	out := make([]int, 0, len(r.Pages))
	for p := range r.Pages {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Category is a classification outcome.
type Category int

const (
	CategoryQR Category = iota
	CategoryRepeated
	CategoryCorner
)

// categories in rule priority order; classification is first-match.
var categoryOrder = []Category{CategoryQR, CategoryRepeated, CategoryCorner}

func (c Category) String() string {
	switch c {
	case CategoryQR:
		return "qr"
	case CategoryRepeated:
		return "repeated"
	case CategoryCorner:
		return "corner"
	default:
		return "unknown"
	}
}

// Candidate is one image proposed for removal under some category.
type Candidate struct {
	Ref   ImageRef
	Pages []int
}

// CandidateSet groups removal candidates by category. An ImageRef appears
// under at most one category.
type CandidateSet map[Category][]Candidate

// Empty reports whether no category holds any candidate.
func (cs CandidateSet) Empty() bool {
	for _, v := range cs {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

// Refs returns the union of all candidate refs across categories.
func (cs CandidateSet) Refs() []ImageRef {
	seen := map[ImageRef]struct{}{}
	var out []ImageRef
	for _, cat := range categoryOrder {
		for _, c := range cs[cat] {
			if _, ok := seen[c.Ref]; ok {
				continue
			}
			seen[c.Ref] = struct{}{}
			out = append(out, c.Ref)
		}
	}
	return out
}

// RuleConfig selects which removal heuristics are active.
type RuleConfig struct {
	QR       bool `json:"qr"`
	Repeated bool `json:"repeated"`
	Corners  bool `json:"corners"`
}

// DefaultRules matches first-run behavior: QR removal on, the rest off.
func DefaultRules() RuleConfig {
	return RuleConfig{QR: true}
}

// Progress is an incremental progress report for one pipeline run.
type Progress struct {
	Token   uint64
	Percent float64
	Status  string
}

// Result is the terminal output of one successful run.
type Result struct {
	Token      uint64
	Candidates CandidateSet
	Previews   map[ImageRef][]byte
}

// Outcome carries either the terminal result or the terminal error of a run.
type Outcome struct {
	Result *Result
	Err    error
}
