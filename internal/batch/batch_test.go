package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/local/imagecleaner/internal/pipeline"
)

// fakeRunner serves precomputed outcomes per path.
type fakeRunner struct {
	results map[string]*pipeline.Result
	errs    map[string]error
}

func (f *fakeRunner) StartRun(ctx context.Context, path string, rules pipeline.RuleConfig) *pipeline.Run {
	progress := make(chan pipeline.Progress, 1)
	done := make(chan pipeline.Outcome, 1)
	progress <- pipeline.Progress{Percent: 100, Status: "done"}
	close(progress)
	if err := f.errs[path]; err != nil {
		done <- pipeline.Outcome{Err: err}
	} else {
		done <- pipeline.Outcome{Result: f.results[path]}
	}
	close(done)
	return &pipeline.Run{Progress: progress, Done: done}
}

type fakeSaver struct {
	mu         sync.Mutex
	calls      map[string][]pipeline.ImageRef
	outDirs    map[string]string
	err        error
	noRemovals bool
}

func (f *fakeSaver) Save(_ context.Context, inPath, outDir string, refs []pipeline.ImageRef) (string, int, []int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", 0, nil, f.err
	}
	if f.calls == nil {
		f.calls = map[string][]pipeline.ImageRef{}
		f.outDirs = map[string]string{}
	}
	f.calls[inPath] = refs
	f.outDirs[inPath] = outDir
	if f.noRemovals {
		return OutputName(inPath), 0, nil, nil
	}
	return OutputName(inPath), len(refs), []int{0}, nil
}

type staticSelector struct {
	refs []pipeline.ImageRef
	err  error
}

func (s staticSelector) Select(context.Context, string, *pipeline.Result) ([]pipeline.ImageRef, error) {
	return s.refs, s.err
}

func resultWith(refs ...pipeline.ImageRef) *pipeline.Result {
	cs := pipeline.CandidateSet{}
	for _, r := range refs {
		cs[pipeline.CategoryQR] = append(cs[pipeline.CategoryQR], pipeline.Candidate{Ref: r, Pages: []int{0}})
	}
	return &pipeline.Result{Candidates: cs}
}

func TestBatchIsolatesFailures(t *testing.T) {
	runner := &fakeRunner{
		results: map[string]*pipeline.Result{
			"a.pdf": resultWith(5),
			"c.pdf": {Candidates: pipeline.CandidateSet{}},
		},
		errs: map[string]error{"b.pdf": errors.New("scan blew up")},
	}
	saver := &fakeSaver{}
	o := New(runner, saver, nil, Hooks{})

	report := o.Run(context.Background(), Job{
		ID:    "t1",
		Paths: []string{"a.pdf", "b.pdf", "c.pdf"},
		Mode:  ModeAutomatic,
	})

	if report.Total != 3 {
		t.Fatalf("Total = %d, want one outcome per queued document", report.Total)
	}
	want := []OutcomeKind{OutcomeCleaned, OutcomeFailed, OutcomeSkipped}
	for i, k := range want {
		if report.Outcomes[i].Kind != k {
			t.Errorf("outcome[%d] = %s, want %s", i, report.Outcomes[i].Kind, k)
		}
	}
	if report.Cleaned != 1 || report.Failed != 1 || report.Skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", report.Cleaned, report.Failed, report.Skipped)
	}
	if got := saver.calls["a.pdf"]; len(got) != 1 || got[0] != 5 {
		t.Errorf("saver got %v for a.pdf, want [5]", got)
	}
}

func TestInteractiveDeclineSkips(t *testing.T) {
	runner := &fakeRunner{results: map[string]*pipeline.Result{"a.pdf": resultWith(5)}}
	saver := &fakeSaver{}
	o := New(runner, saver, staticSelector{refs: nil}, Hooks{})

	report := o.Run(context.Background(), Job{ID: "t2", Paths: []string{"a.pdf"}, Mode: ModeInteractive})
	if report.Outcomes[0].Kind != OutcomeSkipped {
		t.Fatalf("declined selection: outcome = %s, want skipped", report.Outcomes[0].Kind)
	}
	if len(saver.calls) != 0 {
		t.Fatal("saver must not run without a selection")
	}
}

func TestInteractiveSubsetApplied(t *testing.T) {
	runner := &fakeRunner{results: map[string]*pipeline.Result{"a.pdf": resultWith(5, 7, 9)}}
	saver := &fakeSaver{}
	o := New(runner, saver, staticSelector{refs: []pipeline.ImageRef{7}}, Hooks{})

	o.Run(context.Background(), Job{ID: "t3", Paths: []string{"a.pdf"}, Mode: ModeInteractive})
	if got := saver.calls["a.pdf"]; len(got) != 1 || got[0] != 7 {
		t.Fatalf("saver got %v, want the selected subset [7]", got)
	}
}

func TestSaveFailureRecordedAndBatchContinues(t *testing.T) {
	runner := &fakeRunner{results: map[string]*pipeline.Result{
		"a.pdf": resultWith(5),
		"b.pdf": {Candidates: pipeline.CandidateSet{}},
	}}
	saver := &fakeSaver{err: errors.New("disk full")}
	o := New(runner, saver, nil, Hooks{})

	report := o.Run(context.Background(), Job{ID: "t4", Paths: []string{"a.pdf", "b.pdf"}, Mode: ModeAutomatic})
	if report.Outcomes[0].Kind != OutcomeFailed {
		t.Errorf("save failure: outcome = %s, want failed", report.Outcomes[0].Kind)
	}
	if report.Outcomes[1].Kind != OutcomeSkipped {
		t.Errorf("second document must still be processed, got %s", report.Outcomes[1].Kind)
	}
}

func TestValidateGate(t *testing.T) {
	runner := &fakeRunner{}
	o := New(runner, &fakeSaver{}, nil, Hooks{})
	o.Validate = func(path string) error { return fmt.Errorf("%s: not a pdf", path) }

	report := o.Run(context.Background(), Job{ID: "t5", Paths: []string{"a.txt"}, Mode: ModeAutomatic})
	if report.Outcomes[0].Kind != OutcomeFailed {
		t.Fatalf("rejected input: outcome = %s, want failed", report.Outcomes[0].Kind)
	}
}

func TestCancelledContextFailsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{results: map[string]*pipeline.Result{}}
	o := New(runner, &fakeSaver{}, nil, Hooks{})

	report := o.Run(ctx, Job{ID: "t6", Paths: []string{"a.pdf", "b.pdf"}, Mode: ModeAutomatic})
	if report.Total != 2 || report.Failed != 2 {
		t.Fatalf("cancelled batch: %d outcomes, %d failed; want 2 and 2", report.Total, report.Failed)
	}
}

func TestOutputName(t *testing.T) {
	cases := map[string]string{
		"/in/report.pdf": "report_cleaned.pdf",
		"scan.PDF":       "scan_cleaned.pdf",
		"noext":          "noext_cleaned.pdf",
	}
	for in, want := range cases {
		if got := OutputName(in); got != want {
			t.Errorf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReportTruncation(t *testing.T) {
	var outcomes []DocOutcome
	for i := 0; i < reportLineLimit+10; i++ {
		outcomes = append(outcomes, DocOutcome{Path: fmt.Sprintf("doc%d.pdf", i), Kind: OutcomeSkipped})
	}
	r := buildReport(Job{ID: "big"}, outcomes)
	s := r.String()
	if !strings.Contains(s, "... and 10 more") {
		t.Fatalf("report not truncated:\n%s", s)
	}
	if lines := strings.Count(s, "\n"); lines > reportLineLimit+2 {
		t.Fatalf("report has %d lines, want at most %d", lines, reportLineLimit+2)
	}
}

func TestFetchStagesRemoteSources(t *testing.T) {
	const src = "s3://bucket/docs/a.pdf"
	const staged = "/tmp/stage/a.pdf"
	runner := &fakeRunner{results: map[string]*pipeline.Result{staged: resultWith(5)}}
	saver := &fakeSaver{}
	o := New(runner, saver, nil, Hooks{})
	cleaned := false
	o.Fetch = func(_ context.Context, path string) (string, func(), error) {
		if path != src {
			return path, nil, nil
		}
		return staged, func() { cleaned = true }, nil
	}

	report := o.Run(context.Background(), Job{ID: "t7", Paths: []string{src}, Mode: ModeAutomatic})
	if report.Outcomes[0].Kind != OutcomeCleaned {
		t.Fatalf("outcome = %s, want cleaned", report.Outcomes[0].Kind)
	}
	if report.Outcomes[0].Path != src {
		t.Errorf("outcome path = %q, want the original source URL", report.Outcomes[0].Path)
	}
	if got := saver.calls[staged]; len(got) != 1 || got[0] != 5 {
		t.Errorf("saver got %v for the staged copy, want [5]", got)
	}
	if got := saver.outDirs[staged]; got != "s3://bucket/docs" {
		t.Errorf("output dir = %q, want the source prefix s3://bucket/docs", got)
	}
	if !cleaned {
		t.Error("staging cleanup was not called")
	}
}

func TestFetchFailureIsolated(t *testing.T) {
	runner := &fakeRunner{results: map[string]*pipeline.Result{"b.pdf": resultWith(3)}}
	saver := &fakeSaver{}
	o := New(runner, saver, nil, Hooks{})
	o.Fetch = func(_ context.Context, path string) (string, func(), error) {
		if path == "s3://bucket/missing.pdf" {
			return "", nil, errors.New("no such key")
		}
		return path, nil, nil
	}

	report := o.Run(context.Background(), Job{ID: "t8", Paths: []string{"s3://bucket/missing.pdf", "b.pdf"}, Mode: ModeAutomatic})
	if report.Outcomes[0].Kind != OutcomeFailed {
		t.Errorf("fetch failure: outcome = %s, want failed", report.Outcomes[0].Kind)
	}
	if report.Outcomes[1].Kind != OutcomeCleaned {
		t.Errorf("next document must still run, got %s", report.Outcomes[1].Kind)
	}
}

func TestSaveWithoutRemovalsCountsAsSkip(t *testing.T) {
	runner := &fakeRunner{results: map[string]*pipeline.Result{"a.pdf": resultWith(5)}}
	saver := &fakeSaver{noRemovals: true}
	o := New(runner, saver, staticSelector{refs: []pipeline.ImageRef{99}}, Hooks{})

	report := o.Run(context.Background(), Job{ID: "t9", Paths: []string{"a.pdf"}, Mode: ModeInteractive})
	if report.Outcomes[0].Kind != OutcomeSkipped {
		t.Fatalf("zero removals: outcome = %s, want skipped", report.Outcomes[0].Kind)
	}
	if report.Cleaned != 0 || report.Skipped != 1 {
		t.Fatalf("counts = %d cleaned, %d skipped; want 0 and 1", report.Cleaned, report.Skipped)
	}
}
