// Package doctest provides an in-memory document.Opener for tests. Fake
// documents are declared page by page; extraction, deletion and save are all
// tracked so tests can assert on collaborator interactions.
package doctest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/local/imagecleaner/internal/document"
)

// Image is one embedded image resource of a fake document.
type Image struct {
	Ref  int
	Data []byte
	// ExtractErr, when set, makes every ExtractImage call for this ref fail.
	ExtractErr error
}

// Doc is a fake in-memory document.
type Doc struct {
	Pages      int
	Placements []document.Placement
	Images     map[int]Image

	// PlacementErr makes ImagePlacements fail for the given page index.
	PlacementErr map[int]error
	SaveErr      error

	mu       sync.Mutex
	deleted  []int
	savedTo  []string
	closed   bool
	extracts int
}

// Opener hands out fake documents by path.
type Opener struct {
	mu   sync.Mutex
	docs map[string]*Doc
	// OpenErr makes Open fail for the given path.
	OpenErr map[string]error
}

func NewOpener() *Opener {
	return &Opener{docs: map[string]*Doc{}, OpenErr: map[string]error{}}
}

// Add registers a fake document under path.
func (o *Opener) Add(path string, d *Doc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.docs[path] = d
}

func (o *Opener) Open(path string) (document.Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.OpenErr[path]; err != nil {
		return nil, &document.OpenError{Path: path, Err: err}
	}
	d, ok := o.docs[path]
	if !ok {
		return nil, &document.OpenError{Path: path, Err: errors.New("no such document")}
	}
	return &handle{doc: d}, nil
}

// handle is one open view of a Doc; documents may be opened concurrently by
// several scan workers, so all mutation goes through the shared Doc mutex.
type handle struct {
	doc *Doc
}

func (h *handle) PageCount() int { return h.doc.Pages }

func (h *handle) ImagePlacements(ctx context.Context, pageIndex int) ([]document.Placement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.doc.PlacementErr[pageIndex]; err != nil {
		return nil, err
	}
	var out []document.Placement
	for _, pl := range h.doc.Placements {
		if pl.Page == pageIndex {
			out = append(out, pl)
		}
	}
	return out, nil
}

func (h *handle) ExtractImage(ctx context.Context, ref int) ([]byte, error) {
	h.doc.mu.Lock()
	h.doc.extracts++
	h.doc.mu.Unlock()
	img, ok := h.doc.Images[ref]
	if !ok {
		return nil, errors.New("image not found")
	}
	if img.ExtractErr != nil {
		return nil, img.ExtractErr
	}
	return img.Data, nil
}

func (h *handle) DeleteImages(ctx context.Context, refs []int) (int, []int, error) {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	want := map[int]struct{}{}
	for _, r := range refs {
		want[r] = struct{}{}
	}
	removed := 0
	pageSet := map[int]struct{}{}
	for _, pl := range h.doc.Placements {
		if _, ok := want[pl.Ref]; ok {
			removed++
			pageSet[pl.Page] = struct{}{}
		}
	}
	h.doc.deleted = append(h.doc.deleted, refs...)
	pages := make([]int, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return removed, pages, nil
}

func (h *handle) SaveAs(ctx context.Context, path string) error {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	if h.doc.SaveErr != nil {
		return h.doc.SaveErr
	}
	h.doc.savedTo = append(h.doc.savedTo, path)
	return nil
}

func (h *handle) Close() error {
	h.doc.mu.Lock()
	defer h.doc.mu.Unlock()
	h.doc.closed = true
	return nil
}

// Deleted returns every ref passed to DeleteImages, in call order.
func (d *Doc) Deleted() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]int, len(d.deleted))
	copy(out, d.deleted)
	return out
}

// SavedTo returns every path passed to SaveAs, in call order.
func (d *Doc) SavedTo() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.savedTo))
	copy(out, d.savedTo)
	return out
}

// Extracts returns how many ExtractImage calls the document has seen.
func (d *Doc) Extracts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extracts
}
