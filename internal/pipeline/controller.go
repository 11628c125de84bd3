package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/document"
	"github.com/local/imagecleaner/internal/imaging"
	"github.com/local/imagecleaner/internal/metrics"
)

// ErrSuperseded terminates a run that was replaced by a newer start request
// before reaching a terminal state.
var ErrSuperseded = errors.New("run superseded by a newer start request")

// Progress splits evenly between the two phases: the scan phase reports
// 0 to 50%, classification 50 to 100%.
const scanPhaseWeight = 50.0

// Config tunes the controller's poll loop and pools.
type Config struct {
	// PollInterval is the cadence of the event-draining tick.
	PollInterval time.Duration
	// DrainLimit bounds how many queued events one tick may consume, so a
	// burst of worker completions cannot starve the loop's other work.
	DrainLimit int
	// ClassifyWorkers caps the classification pool (default 8).
	ClassifyWorkers int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.DrainLimit <= 0 {
		c.DrainLimit = 100
	}
	if c.ClassifyWorkers <= 0 {
		c.ClassifyWorkers = defaultClassifyWorkers
	}
	return c
}

// State names the controller's phase for the current run.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateClassifying
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateClassifying:
		return "classifying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Controller drives the two-phase scan/classify pipeline for one document at
// a time. A single loop goroutine owns the registry, the candidate set and
// all state transitions; scan and classification workers only ever talk to it
// through the event channel, so merges are serialized no matter how the
// workers interleave.
type Controller struct {
	opener     document.Opener
	classifier *Classifier
	cfg        Config

	events chan event
	starts chan *runState
	stop   chan struct{}
	token  atomic.Uint64
}

// Run is one pipeline invocation as seen by a consumer: a stream of progress
// updates followed by exactly one terminal outcome.
type Run struct {
	Token    uint64
	Progress <-chan Progress
	Done     <-chan Outcome

	cancel context.CancelFunc
}

// Cancel abandons the run logically: the run token is retired so remaining
// events are discarded, and the run context stops chunk workers between
// pages. Already-running units finish on their own and their output is
// ignored.
func (r *Run) Cancel() { r.cancel() }

type runState struct {
	token   uint64
	ctx     context.Context
	cancel  context.CancelFunc
	path    string
	rules   RuleConfig
	state   State
	started time.Time

	totalPages  int
	totalChunks int
	doneChunks  int
	registry    Registry

	classifiable []*ImageRecord
	totalImages  int
	doneImages   int
	candidates   CandidateSet

	progress chan Progress
	done     chan Outcome
}

// New builds a Controller; call Start before submitting runs.
func New(opener document.Opener, qr imaging.QRDetector, cfg Config) *Controller {
	return &Controller{
		opener:     opener,
		classifier: NewClassifier(qr),
		cfg:        cfg.withDefaults(),
		events:     make(chan event, 256),
		starts:     make(chan *runState),
		stop:       make(chan struct{}),
	}
}

// Start launches the controller loop.
func (c *Controller) Start() { go c.loop() }

// Stop shuts the loop down. In-flight runs are cancelled.
func (c *Controller) Stop() { close(c.stop) }

// StartRun begins a fresh run over the document at path. If a run is already
// active it is superseded: its Done channel receives ErrSuperseded and its
// remaining events are discarded by token mismatch.
func (c *Controller) StartRun(ctx context.Context, path string, rules RuleConfig) *Run {
	token := c.token.Add(1)
	rctx, cancel := context.WithCancel(ctx)
	rs := &runState{
		token:      token,
		ctx:        rctx,
		cancel:     cancel,
		path:       path,
		rules:      rules,
		state:      StateIdle,
		started:    time.Now(),
		registry:   Registry{},
		candidates: CandidateSet{},
		progress:   make(chan Progress, 64),
		done:       make(chan Outcome, 1),
	}
	select {
	case c.starts <- rs:
	case <-c.stop:
		rs.done <- Outcome{Err: errors.New("controller stopped")}
		close(rs.done)
		close(rs.progress)
	}
	return &Run{Token: token, Progress: rs.progress, Done: rs.done, cancel: cancel}
}

func (c *Controller) loop() {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var cur *runState
	for {
		select {
		case <-c.stop:
			if cur != nil {
				cur.cancel()
				c.finish(cur, Outcome{Err: errors.New("controller stopped")})
			}
			return
		case rs := <-c.starts:
			if cur != nil {
				cur.cancel()
				c.finish(cur, Outcome{Err: ErrSuperseded})
			}
			cur = rs
			cur.state = StateScanning
			c.emitProgress(cur, 0, "1/2 preparing page scan...")
			go c.runScan(rs)
		case <-ticker.C:
			cur = c.drain(cur)
		}
	}
}

// runScan resolves the page count and feeds the chunk scheduler. Runs off the
// loop goroutine; results only come back as events.
func (c *Controller) runScan(rs *runState) {
	doc, err := c.opener.Open(rs.path)
	if err != nil {
		c.events <- event{token: rs.token, kind: evScanFailed, err: err}
		return
	}
	pages := doc.PageCount()
	_ = doc.Close()
	runScanPhase(rs.ctx, c.opener, rs.path, pages, rs.token, c.events)
}

// drain pulls up to DrainLimit queued events from the channel. Bounding the
// per-tick intake keeps the loop responsive when a worker batch completes in
// a burst.
func (c *Controller) drain(cur *runState) *runState {
	for i := 0; i < c.cfg.DrainLimit; i++ {
		var ev event
		select {
		case ev = <-c.events:
		default:
			return cur
		}
		if cur == nil || ev.token != cur.token {
			log.Debug().Uint64("token", ev.token).Stringer("kind", ev.kind).Msg("discarding stale pipeline event")
			continue
		}
		cur = c.handle(cur, ev)
	}
	return cur
}

// handle applies one event to the current run. Returns nil once the run
// reaches a terminal state.
func (c *Controller) handle(rs *runState, ev event) *runState {
	switch {
	case ev.kind == evScanFailed:
		rs.state = StateFailed
		metrics.ObserveRun("failed", time.Since(rs.started))
		c.finish(rs, Outcome{Err: ev.err})
		return nil

	case ev.kind == evScanStarted && rs.state == StateScanning:
		rs.totalChunks = ev.totalChunks
		rs.totalPages = ev.totalPages
		if rs.totalChunks == 0 {
			return c.beginClassify(rs)
		}
		c.emitProgress(rs, 0, fmt.Sprintf("1/2 scanning pages... (0/%d)", rs.totalChunks))

	case ev.kind == evChunkDone && rs.state == StateScanning:
		rs.registry.Merge(ev.part)
		rs.doneChunks++
		pct := float64(rs.doneChunks) / float64(rs.totalChunks) * scanPhaseWeight
		c.emitProgress(rs, pct, fmt.Sprintf("1/2 scanning pages... (%d/%d)", rs.doneChunks, rs.totalChunks))
		if rs.doneChunks == rs.totalChunks {
			return c.beginClassify(rs)
		}

	case ev.kind == evImageDone && rs.state == StateClassifying:
		rs.doneImages++
		img := ev.image
		if img.matched {
			rs.candidates[img.cat] = append(rs.candidates[img.cat], Candidate{Ref: img.ref, Pages: img.pages})
		}
		pct := scanPhaseWeight + float64(rs.doneImages)/float64(rs.totalImages)*(100-scanPhaseWeight)
		c.emitProgress(rs, pct, fmt.Sprintf("2/2 analyzing images... (%d/%d)", rs.doneImages, rs.totalImages))
		if rs.doneImages == rs.totalImages {
			return c.complete(rs)
		}

	default:
		log.Warn().Stringer("kind", ev.kind).Stringer("state", rs.state).Msg("pipeline event ignored in current state")
	}
	return rs
}

// beginClassify transitions into phase two, or straight to Completed when
// nothing classifiable was found.
func (c *Controller) beginClassify(rs *runState) *runState {
	rs.state = StateClassifying
	rs.classifiable = rs.registry.Classifiable()
	rs.totalImages = len(rs.classifiable)
	if rs.totalImages == 0 {
		return c.complete(rs)
	}
	go runClassifyPhase(rs.ctx, c.classifier, rs.classifiable, rs.rules, rs.totalPages, c.cfg.ClassifyWorkers, rs.token, c.events)
	return rs
}

func (c *Controller) complete(rs *runState) *runState {
	rs.state = StateCompleted
	for cat := range rs.candidates {
		list := rs.candidates[cat]
		sort.Slice(list, func(i, j int) bool { return list[i].Ref < list[j].Ref })
	}
	previews := make(map[ImageRef][]byte, len(rs.classifiable))
	for _, rec := range rs.classifiable {
		previews[rec.Ref] = rec.Data
	}
	c.emitProgress(rs, 100, "done")
	metrics.ObserveRun("completed", time.Since(rs.started))
	c.finish(rs, Outcome{Result: &Result{Token: rs.token, Candidates: rs.candidates, Previews: previews}})
	return nil
}

func (c *Controller) finish(rs *runState, out Outcome) {
	rs.done <- out
	close(rs.done)
	close(rs.progress)
}

// emitProgress never blocks the loop: if the consumer has fallen a full
// buffer behind, this update is dropped.
func (c *Controller) emitProgress(rs *runState, pct float64, status string) {
	select {
	case rs.progress <- Progress{Token: rs.token, Percent: pct, Status: status}:
	default:
	}
}
