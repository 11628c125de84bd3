package pipeline

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/document"
	"github.com/local/imagecleaner/internal/metrics"
)

// maxScanWorkers bounds scan parallelism regardless of machine size: each
// worker holds an open document handle and an image byte cache.
const maxScanWorkers = 4

func scanWorkerCount() int {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	if n > maxScanWorkers {
		n = maxScanWorkers
	}
	return n
}

type chunkRange struct {
	start, end int // [start, end)
}

// splitPages partitions [0,total) into ceil(total/workers)-sized chunks.
func splitPages(total, workers int) []chunkRange {
	if total <= 0 || workers < 1 {
		return nil
	}
	size := (total + workers - 1) / workers
	out := make([]chunkRange, 0, workers)
	for s := 0; s < total; s += size {
		e := s + size
		if e > total {
			e = total
		}
		out = append(out, chunkRange{start: s, end: e})
	}
	return out
}

// runScanPhase fans page chunks out to a bounded worker pool and streams each
// chunk's partial registry back through events as it completes, in whatever
// order the workers finish. The first fatal chunk error cancels the remaining
// chunks and is surfaced as evScanFailed; no partial classification follows.
func runScanPhase(ctx context.Context, opener document.Opener, path string, totalPages int, token uint64, events chan<- event) {
	chunks := splitPages(totalPages, scanWorkerCount())
	events <- event{token: token, kind: evScanStarted, totalChunks: len(chunks), totalPages: totalPages}
	if len(chunks) == 0 {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	work := make(chan chunkRange)
	var wg sync.WaitGroup
	workers := scanWorkerCount()
	if workers > len(chunks) {
		workers = len(chunks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range work {
				part, err := scanChunk(ctx, opener, path, ch.start, ch.end)
				if err != nil {
					metrics.IncChunk("failed")
					if ctx.Err() == nil {
						log.Error().Err(err).Str("file", path).Msg("page chunk scan failed")
						events <- event{token: token, kind: evScanFailed, err: err}
					}
					cancel()
					continue
				}
				metrics.IncChunk("ok")
				events <- event{token: token, kind: evChunkDone, part: part}
			}
		}()
	}

	for _, ch := range chunks {
		select {
		case work <- ch:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()

	// A cancelled run still needs a terminal event; without one the
	// controller would hold the run in the scanning state forever.
	if err := ctx.Err(); err != nil {
		events <- event{token: token, kind: evScanFailed, err: err}
	}
}
