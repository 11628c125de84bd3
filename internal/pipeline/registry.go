package pipeline

// Registry maps each image to its merged record across the whole document.
// It is owned by the controller for the duration of one run; partial
// registries arrive from scan workers and are merged serially.
type Registry map[ImageRef]*ImageRecord

// Merge folds a partial registry into r. The operation is associative and
// commutative over chunk arrival order: page sets union, placements append,
// and the byte payload is only set if not already present.
func (r Registry) Merge(part Registry) {
	for ref, in := range part {
		rec := r[ref]
		if rec == nil {
			rec = &ImageRecord{Ref: ref, Pages: map[int]struct{}{}}
			r[ref] = rec
		}
		for p := range in.Pages {
			rec.Pages[p] = struct{}{}
		}
		rec.Placements = append(rec.Placements, in.Placements...)
		if rec.Data == nil {
			rec.Data = in.Data
		}
	}
}

// Classifiable returns the records that captured a byte payload, the only
// ones classification can work on.
func (r Registry) Classifiable() []*ImageRecord {
	out := make([]*ImageRecord, 0, len(r))
	for _, rec := range r {
		if rec.Data != nil {
			out = append(out, rec)
		}
	}
	return out
}
