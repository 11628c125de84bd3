package document

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// MutoolOpener opens PDFs through the mutool CLI. Placement enumeration and
// image deletion run through an embedded `mutool run` driver script; image
// extraction goes through pdfcpu, which decodes the stream filters itself.
type MutoolOpener struct {
	Bin string
}

// NewMutoolOpener returns an opener using "mutool" from PATH.
func NewMutoolOpener() *MutoolOpener {
	return &MutoolOpener{Bin: "mutool"}
}

// IsAvailable checks if the mutool binary can be found.
func (o *MutoolOpener) IsAvailable() bool {
	_, err := exec.LookPath(o.Bin)
	return err == nil
}

type docInfo struct {
	Pages      int         `json:"pages"`
	Placements []Placement `json:"placements"`
}

func (o *MutoolOpener) Open(path string) (Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	out, err := runDriver(context.Background(), o.Bin, "info", path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	var info docInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("parse driver output: %w", err)}
	}
	byPage := make(map[int][]Placement)
	for _, pl := range info.Placements {
		byPage[pl.Page] = append(byPage[pl.Page], pl)
	}
	return &mutoolDoc{bin: o.Bin, path: path, pages: info.Pages, byPage: byPage}, nil
}

type mutoolDoc struct {
	bin    string
	path   string
	pages  int
	byPage map[int][]Placement

	mu      sync.Mutex
	images  map[int][]byte // lazy, filled on first ExtractImage
	pending []int          // refs queued for deletion, applied by SaveAs
}

func (d *mutoolDoc) PageCount() int { return d.pages }

func (d *mutoolDoc) ImagePlacements(ctx context.Context, pageIndex int) ([]Placement, error) {
	if pageIndex < 0 || pageIndex >= d.pages {
		return nil, fmt.Errorf("page %d out of range (document has %d pages)", pageIndex, d.pages)
	}
	return d.byPage[pageIndex], nil
}

func (d *mutoolDoc) ExtractImage(ctx context.Context, ref int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.images == nil {
		if err := d.extractAllLocked(); err != nil {
			return nil, err
		}
	}
	b, ok := d.images[ref]
	if !ok {
		return nil, fmt.Errorf("image object %d not found in %s", ref, d.path)
	}
	return b, nil
}

// extractAllLocked pulls every image stream out of the file in one pdfcpu
// pass. Per-image decode failures are logged and skipped; the pipeline treats
// a missing payload as "excluded from classification", not as a run failure.
func (d *mutoolDoc) extractAllLocked() error {
	f, err := os.Open(d.path)
	if err != nil {
		return fmt.Errorf("open for extraction: %w", err)
	}
	defer f.Close()

	pageImages, err := api.ExtractImagesRaw(f, nil, nil)
	if err != nil {
		return fmt.Errorf("extract images: %w", err)
	}
	d.images = make(map[int][]byte)
	for _, perPage := range pageImages {
		for objNr, img := range perPage {
			if _, ok := d.images[objNr]; ok {
				continue
			}
			b, rerr := io.ReadAll(img)
			if rerr != nil {
				log.Warn().Err(rerr).Int("obj", objNr).Str("file", d.path).Msg("image stream unreadable, skipping")
				continue
			}
			d.images[objNr] = b
		}
	}
	return nil
}

func (d *mutoolDoc) DeleteImages(ctx context.Context, refs []int) (int, []int, error) {
	d.mu.Lock()
	d.pending = append(d.pending, refs...)
	d.mu.Unlock()

	want := make(map[int]struct{}, len(refs))
	for _, r := range refs {
		want[r] = struct{}{}
	}
	removed := 0
	pageSet := map[int]struct{}{}
	for page, pls := range d.byPage {
		for _, pl := range pls {
			if _, ok := want[pl.Ref]; ok {
				removed++
				pageSet[page] = struct{}{}
			}
		}
	}
	pages := make([]int, 0, len(pageSet))
	for p := range pageSet {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return removed, pages, nil
}

func (d *mutoolDoc) SaveAs(ctx context.Context, path string) error {
	d.mu.Lock()
	pending := make([]int, len(d.pending))
	copy(pending, d.pending)
	d.mu.Unlock()

	if len(pending) == 0 {
		return Optimize(d.path, path)
	}

	tmp, err := os.CreateTemp("", "imgclean-*.pdf")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	args := make([]string, 0, len(pending))
	for _, r := range pending {
		args = append(args, strconv.Itoa(r))
	}
	if _, err := runDriver(ctx, d.bin, "delete", d.path, tmpPath, strings.Join(args, ",")); err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	return Optimize(tmpPath, path)
}

func (d *mutoolDoc) Close() error { return nil }

// driverJS is the mutool scripting driver. Placement bboxes come from running
// each page through a draw device and transforming the image unit square by
// the current matrix; refs are paired to drawn images via the page's XObject
// resources by pixel dimensions.
const driverJS = `"use strict";
var cmd = scriptArgs[0];
var doc = Document.openDocument(scriptArgs[1]);

function imageXrefsByDim(pageObj) {
	var dims = {};
	var res = pageObj.get("Resources");
	var xo = res ? res.get("XObject") : null;
	if (!xo || !xo.isDictionary()) return dims;
	xo.forEach(function (val, key) {
		if (!val.isIndirect()) return;
		var sub = val.get("Subtype");
		if (!sub || sub.asName() != "Image") return;
		var k = val.get("Width").asNumber() + "x" + val.get("Height").asNumber();
		(dims[k] = dims[k] || []).push(val.asIndirect());
	});
	return dims;
}

if (cmd == "info") {
	var out = { pages: doc.countPages(), placements: [] };
	for (var i = 0; i < out.pages; i++) {
		var page = doc.loadPage(i);
		var b = page.getBounds();
		var dims = imageXrefsByDim(doc.findPage(i));
		page.run({
			fillImage: function (image, ctm, alpha) {
				var k = image.getWidth() + "x" + image.getHeight();
				var refs = dims[k] || [];
				var xs = [ctm[4], ctm[0] + ctm[4], ctm[2] + ctm[4], ctm[0] + ctm[2] + ctm[4]];
				var ys = [ctm[5], ctm[1] + ctm[5], ctm[3] + ctm[5], ctm[1] + ctm[3] + ctm[5]];
				out.placements.push({
					ref: refs.length > 0 ? refs[0] : 0,
					page: i,
					x0: Math.min.apply(null, xs) - b[0],
					y0: Math.min.apply(null, ys) - b[1],
					x1: Math.max.apply(null, xs) - b[0],
					y1: Math.max.apply(null, ys) - b[1],
					page_w: b[2] - b[0],
					page_h: b[3] - b[1]
				});
			}
		}, Identity);
	}
	print(JSON.stringify(out));
}

if (cmd == "delete") {
	var targets = {};
	scriptArgs[3].split(",").forEach(function (s) { targets[parseInt(s, 10)] = true; });
	for (var j = 0; j < doc.countPages(); j++) {
		var pobj = doc.findPage(j);
		var res = pobj.get("Resources");
		var xo = res ? res.get("XObject") : null;
		if (!xo || !xo.isDictionary()) continue;
		var drop = [];
		xo.forEach(function (val, key) {
			if (val.isIndirect() && targets[val.asIndirect()]) drop.push(key);
		});
		drop.forEach(function (key) { xo.delete(key); });
	}
	doc.save(scriptArgs[2], "garbage,compress,clean");
}
`

var (
	driverOnce sync.Once
	driverPath string
	driverErr  error
)

// driverFile writes the embedded driver to a temp file once per process.
func driverFile() (string, error) {
	driverOnce.Do(func() {
		f, err := os.CreateTemp("", "imgclean-driver-*.js")
		if err != nil {
			driverErr = err
			return
		}
		if _, err := f.WriteString(driverJS); err != nil {
			driverErr = err
			_ = f.Close()
			return
		}
		driverErr = f.Close()
		driverPath = f.Name()
	})
	return driverPath, driverErr
}

func runDriver(ctx context.Context, bin, cmd string, args ...string) ([]byte, error) {
	script, err := driverFile()
	if err != nil {
		return nil, fmt.Errorf("materialize driver script: %w", err)
	}
	argv := append([]string{"run", script, cmd}, args...)
	out, err := exec.CommandContext(ctx, bin, argv...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("mutool %s failed: %s", cmd, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("mutool %s: %w", cmd, err)
	}
	return out, nil
}
