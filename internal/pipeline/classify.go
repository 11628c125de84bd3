package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/metrics"
)

// defaultClassifyWorkers caps the classification pool. Units are cheap
// relative to page scanning, but documents with thousands of images must not
// translate into thousands of goroutines each decoding pixels.
const defaultClassifyWorkers = 8

type classifyOutcome struct {
	ref     ImageRef
	pages   []int
	cat     Category
	matched bool
	failed  bool
}

// runClassifyPhase dispatches one classification unit per image record to a
// bounded pool, posting an evImageDone per completion. Failures (including a
// panicking unit) are isolated to their image.
func runClassifyPhase(ctx context.Context, cls *Classifier, records []*ImageRecord, rules RuleConfig, totalPages, workers int, token uint64, events chan<- event) {
	if workers <= 0 {
		workers = defaultClassifyWorkers
	}
	work := make(chan *ImageRecord)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range work {
				out := classifyOne(cls, rec, rules, totalPages)
				events <- event{token: token, kind: evImageDone, image: out}
			}
		}()
	}

	for _, rec := range records {
		select {
		case work <- rec:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	// Terminal event for cancelled runs, mirroring the scan phase.
	if err := ctx.Err(); err != nil {
		events <- event{token: token, kind: evScanFailed, err: err}
	}
}

func classifyOne(cls *Classifier, rec *ImageRecord, rules RuleConfig, totalPages int) (out classifyOutcome) {
	out = classifyOutcome{ref: rec.Ref, pages: rec.PageList()}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Int("ref", int(rec.Ref)).Interface("panic", r).Msg("classification unit crashed")
			metrics.IncClassifyFailure()
			out = classifyOutcome{ref: rec.Ref, failed: true}
		}
	}()
	cat, ok := cls.Classify(rec, rules, totalPages)
	if ok {
		out.cat = cat
		out.matched = true
		metrics.IncClassified(cat.String())
	} else {
		metrics.IncClassified("none")
	}
	return out
}

// events carried between phase workers and the controller's poll loop. Every
// event is tagged with the run token that produced it; the controller drops
// anything from a superseded run.
type eventKind int

const (
	evScanStarted eventKind = iota
	evChunkDone
	evScanFailed
	evImageDone
)

func (k eventKind) String() string {
	switch k {
	case evScanStarted:
		return "scan_started"
	case evChunkDone:
		return "chunk_done"
	case evScanFailed:
		return "scan_failed"
	case evImageDone:
		return "image_done"
	default:
		return fmt.Sprintf("eventKind(%d)", int(k))
	}
}

type event struct {
	token       uint64
	kind        eventKind
	totalChunks int
	totalPages  int
	part        Registry
	err         error
	image       classifyOutcome
}
