// Package batch drives the scan/classify pipeline over a queue of documents,
// in interactive mode (pause for a human selection) or automatic mode (apply
// every match). One document's failure never halts the batch; the caller
// always receives a complete report.
package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/local/imagecleaner/internal/metrics"
	"github.com/local/imagecleaner/internal/pipeline"
	"github.com/local/imagecleaner/internal/storage"
)

// Mode selects how candidates are applied.
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeAutomatic   Mode = "automatic"
)

// Job is an ordered queue of document paths plus the processing mode.
type Job struct {
	ID        string
	Paths     []string
	Mode      Mode
	OutputDir string // automatic mode destination; may be an s3:// URL
	Rules     pipeline.RuleConfig
}

// OutcomeKind classifies what happened to one document.
type OutcomeKind string

const (
	OutcomeCleaned OutcomeKind = "cleaned"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// DocOutcome records the result for one document of a batch.
type DocOutcome struct {
	Path    string      `json:"path"`
	Kind    OutcomeKind `json:"kind"`
	Output  string      `json:"output,omitempty"`
	Removed int         `json:"removed,omitempty"`
	Pages   []int       `json:"pages,omitempty"`
	Err     string      `json:"error,omitempty"`
}

// Runner starts pipeline runs; satisfied by *pipeline.Controller.
type Runner interface {
	StartRun(ctx context.Context, path string, rules pipeline.RuleConfig) *pipeline.Run
}

// Selector is the human gate of interactive mode. It receives the full result
// (candidates plus previews) and returns the refs to remove; an empty slice
// means the user declined.
type Selector interface {
	Select(ctx context.Context, path string, res *pipeline.Result) ([]pipeline.ImageRef, error)
}

// Saver writes the cleaned copy of one document with the given refs removed.
type Saver interface {
	Save(ctx context.Context, inPath, outDir string, refs []pipeline.ImageRef) (outPath string, removed int, pages []int, err error)
}

// Hooks lets the service layer observe per-document progress and outcomes as
// they happen. Either may be nil.
type Hooks struct {
	Progress func(path string, docIndex, docTotal int, p pipeline.Progress)
	Outcome  func(o DocOutcome)
}

// Orchestrator runs batches sequentially, one pipeline run at a time.
type Orchestrator struct {
	runner   Runner
	saver    Saver
	selector Selector
	// Validate, when set, gates each path before its run (filetype check).
	Validate func(path string) error
	// Fetch, when set, stages remote source documents locally before the
	// run. It returns the local working path and a cleanup func; for paths
	// that are already local it returns them unchanged with a nil cleanup.
	Fetch func(ctx context.Context, path string) (local string, cleanup func(), err error)
	hooks Hooks
}

func New(runner Runner, saver Saver, selector Selector, hooks Hooks) *Orchestrator {
	return &Orchestrator{runner: runner, saver: saver, selector: selector, hooks: hooks}
}

// Run processes every document in the job queue and returns the final report.
// It produces exactly one outcome per queued path, regardless of failures.
func (o *Orchestrator) Run(ctx context.Context, job Job) Report {
	total := len(job.Paths)
	outcomes := make([]DocOutcome, 0, total)
	for i, path := range job.Paths {
		var out DocOutcome
		if err := ctx.Err(); err != nil {
			out = DocOutcome{Path: path, Kind: OutcomeFailed, Err: "batch cancelled"}
		} else {
			out = o.processOne(ctx, job, path, i, total)
		}
		metrics.IncDocProcessed(string(out.Kind))
		if o.hooks.Outcome != nil {
			o.hooks.Outcome(out)
		}
		outcomes = append(outcomes, out)
	}
	return buildReport(job, outcomes)
}

func (o *Orchestrator) processOne(ctx context.Context, job Job, path string, idx, total int) DocOutcome {
	log.Info().Str("batch", job.ID).Str("file", path).Int("index", idx+1).Int("of", total).Msg("processing document")

	local := path
	if o.Fetch != nil {
		l, cleanup, err := o.Fetch(ctx, path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("staging source document failed")
			return DocOutcome{Path: path, Kind: OutcomeFailed, Err: fmt.Sprintf("fetch: %v", err)}
		}
		if cleanup != nil {
			defer cleanup()
		}
		local = l
	}

	if o.Validate != nil {
		if err := o.Validate(local); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("document rejected before scan")
			return DocOutcome{Path: path, Kind: OutcomeFailed, Err: err.Error()}
		}
	}

	res, err := o.runToCompletion(ctx, path, local, job, idx, total)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("pipeline run failed; continuing with next document")
		return DocOutcome{Path: path, Kind: OutcomeFailed, Err: err.Error()}
	}
	if res.Candidates.Empty() {
		log.Info().Str("file", path).Msg("no images matched the active rules")
		return DocOutcome{Path: path, Kind: OutcomeSkipped}
	}

	refs := res.Candidates.Refs()
	if job.Mode == ModeInteractive {
		refs, err = o.selector.Select(ctx, path, res)
		if err != nil {
			return DocOutcome{Path: path, Kind: OutcomeFailed, Err: fmt.Sprintf("selection: %v", err)}
		}
		if len(refs) == 0 {
			return DocOutcome{Path: path, Kind: OutcomeSkipped}
		}
	}

	outDir := job.OutputDir
	if outDir == "" && local != path {
		// Remote source with no destination: the cleaned copy goes back
		// next to the original object, not into the staging directory.
		outDir = storage.DirURL(path)
	}
	outPath, removed, pages, err := o.saver.Save(ctx, local, outDir, refs)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("saving cleaned copy failed")
		return DocOutcome{Path: path, Kind: OutcomeFailed, Err: fmt.Sprintf("save: %v", err)}
	}
	if removed == 0 {
		// Selected refs that are absent from the document remove nothing;
		// the document is unchanged, not cleaned.
		log.Info().Str("file", path).Msg("no image occurrences removed, document unchanged")
		return DocOutcome{Path: path, Kind: OutcomeSkipped}
	}
	log.Info().Str("file", path).Str("out", outPath).Int("removed", removed).Int("pages", len(pages)).Msg("cleaned copy written")
	return DocOutcome{Path: path, Kind: OutcomeCleaned, Output: outPath, Removed: removed, Pages: pages}
}

// runToCompletion consumes one pipeline run's progress stream and waits for
// its terminal outcome. path is the caller-facing name used in progress
// hooks; local is the staged file the pipeline actually reads.
func (o *Orchestrator) runToCompletion(ctx context.Context, path, local string, job Job, idx, total int) (*pipeline.Result, error) {
	run := o.runner.StartRun(ctx, local, job.Rules)
	for p := range run.Progress {
		if o.hooks.Progress != nil {
			o.hooks.Progress(path, idx, total, p)
		}
	}
	out := <-run.Done
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Result, nil
}

// OutputName derives the cleaned-copy filename for a source document.
func OutputName(inPath string) string {
	base := filepath.Base(inPath)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)] + "_cleaned.pdf"
}
