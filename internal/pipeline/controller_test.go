package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/local/imagecleaner/internal/document"
	"github.com/local/imagecleaner/internal/document/doctest"
)

func testConfig() Config {
	return Config{PollInterval: 2 * time.Millisecond}
}

// gateOpener delays Open for one path until released, so tests can hold a run
// in its scanning phase deterministically.
type gateOpener struct {
	inner document.Opener
	path  string
	gate  chan struct{}
}

func (g *gateOpener) Open(path string) (document.Document, error) {
	if path == g.path {
		<-g.gate
	}
	return g.inner.Open(path)
}

func waitOutcome(t *testing.T, run *Run) Outcome {
	t.Helper()
	go func() {
		for range run.Progress {
		}
	}()
	select {
	case out := <-run.Done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
		return Outcome{}
	}
}

func TestRunEndToEnd(t *testing.T) {
	opener := doctest.NewOpener()
	placements := []document.Placement{
		{Ref: 5, Page: 1, X0: 200, Y0: 300, X1: 260, Y1: 360, PageWidth: 600, PageHeight: 800},
	}
	// ref 7 on every page, ref 9 degenerate
	for p := 0; p < 4; p++ {
		placements = append(placements,
			document.Placement{Ref: 7, Page: p, X0: 250, Y0: 400, X1: 300, Y1: 450, PageWidth: 600, PageHeight: 800})
	}
	placements = append(placements,
		document.Placement{Ref: 9, Page: 2, X0: 0, Y0: 0, X1: 4, Y1: 4, PageWidth: 600, PageHeight: 800})

	opener.Add("doc.pdf", &doctest.Doc{
		Pages:      4,
		Placements: placements,
		Images: map[int]doctest.Image{
			5: {Ref: 5, Data: pngBytes(t, 40, 40)},
			7: {Ref: 7, Data: pngBytes(t, 20, 20)},
			9: {Ref: 9, Data: pngBytes(t, 4, 4)},
		},
	})

	c := New(opener, stubQR{payload: []string{"hit"}}, testConfig())
	c.Start()
	defer c.Stop()

	run := c.StartRun(context.Background(), "doc.pdf", RuleConfig{QR: true, Repeated: true})

	var last Progress
	sawProgress := false
	done := make(chan Outcome, 1)
	go func() {
		for p := range run.Progress {
			if p.Percent < last.Percent {
				t.Errorf("progress went backwards: %v after %v", p.Percent, last.Percent)
			}
			last = p
			sawProgress = true
		}
		done <- <-run.Done
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
	}
	if out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}
	if !sawProgress || last.Percent != 100 {
		t.Fatalf("final progress = %v, want 100", last.Percent)
	}

	res := out.Result
	if got := res.Candidates[CategoryQR]; len(got) != 1 || got[0].Ref != 5 {
		t.Errorf("QR candidates = %v, want [ref 5]", got)
	}
	// ref 7 appears on 4/4 pages but is too small for QR
	if got := res.Candidates[CategoryRepeated]; len(got) != 1 || got[0].Ref != 7 {
		t.Errorf("repeated candidates = %v, want [ref 7]", got)
	}
	if _, ok := res.Previews[9]; ok {
		t.Error("degenerate image must not reach previews")
	}
	if _, ok := res.Previews[5]; !ok {
		t.Error("preview bytes missing for ref 5")
	}
}

func TestRunWithNoImagesCompletes(t *testing.T) {
	opener := doctest.NewOpener()
	opener.Add("empty.pdf", &doctest.Doc{Pages: 3})

	c := New(opener, stubQR{}, testConfig())
	c.Start()
	defer c.Stop()

	out := waitOutcome(t, c.StartRun(context.Background(), "empty.pdf", DefaultRules()))
	if out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}
	if !out.Result.Candidates.Empty() {
		t.Fatalf("candidates = %v, want none", out.Result.Candidates)
	}
}

func TestRunZeroPageDocumentCompletes(t *testing.T) {
	opener := doctest.NewOpener()
	opener.Add("zero.pdf", &doctest.Doc{Pages: 0})

	c := New(opener, stubQR{}, testConfig())
	c.Start()
	defer c.Stop()

	out := waitOutcome(t, c.StartRun(context.Background(), "zero.pdf", DefaultRules()))
	if out.Err != nil {
		t.Fatalf("run failed: %v", out.Err)
	}
}

func TestRunFailsOnOpenError(t *testing.T) {
	opener := doctest.NewOpener()
	opener.OpenErr["gone.pdf"] = errors.New("missing")

	c := New(opener, stubQR{}, testConfig())
	c.Start()
	defer c.Stop()

	out := waitOutcome(t, c.StartRun(context.Background(), "gone.pdf", DefaultRules()))
	if out.Err == nil || !IsDocumentOpen(out.Err) {
		t.Fatalf("err = %v, want document open failure", out.Err)
	}
}

func TestNewRunSupersedesActiveOne(t *testing.T) {
	opener := doctest.NewOpener()
	opener.Add("slow.pdf", &doctest.Doc{Pages: 1})
	opener.Add("fast.pdf", &doctest.Doc{Pages: 1})
	gate := &gateOpener{inner: opener, path: "slow.pdf", gate: make(chan struct{})}

	c := New(gate, stubQR{}, testConfig())
	c.Start()
	defer c.Stop()

	first := c.StartRun(context.Background(), "slow.pdf", DefaultRules())
	second := c.StartRun(context.Background(), "fast.pdf", DefaultRules())
	close(gate.gate)

	if out := waitOutcome(t, first); !errors.Is(out.Err, ErrSuperseded) {
		t.Fatalf("first run err = %v, want ErrSuperseded", out.Err)
	}
	if out := waitOutcome(t, second); out.Err != nil {
		t.Fatalf("second run failed: %v", out.Err)
	}
}

func TestCancelTerminatesRun(t *testing.T) {
	opener := doctest.NewOpener()
	opener.Add("doc.pdf", &doctest.Doc{Pages: 8})
	gate := &gateOpener{inner: opener, path: "doc.pdf", gate: make(chan struct{})}

	c := New(gate, stubQR{}, testConfig())
	c.Start()
	defer c.Stop()

	run := c.StartRun(context.Background(), "doc.pdf", DefaultRules())
	run.Cancel()
	close(gate.gate)

	out := waitOutcome(t, run)
	if out.Err == nil {
		t.Fatal("cancelled run must not complete successfully")
	}
}

func TestStoppedControllerRejectsRuns(t *testing.T) {
	c := New(doctest.NewOpener(), stubQR{}, testConfig())
	c.Start()
	c.Stop()
	time.Sleep(10 * time.Millisecond)

	out := waitOutcome(t, c.StartRun(context.Background(), "doc.pdf", DefaultRules()))
	if out.Err == nil {
		t.Fatal("run on a stopped controller must fail")
	}
}
