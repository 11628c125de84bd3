package batch

import (
	"fmt"
	"strings"
)

// reportLineLimit caps the per-document section of the text rendering so a
// huge batch cannot flood a terminal or log sink.
const reportLineLimit = 50

// Report summarises a finished batch.
type Report struct {
	BatchID   string       `json:"batch_id"`
	Total     int          `json:"total"`
	Cleaned   int          `json:"cleaned"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Outcomes  []DocOutcome `json:"outcomes"`
	Truncated int          `json:"truncated,omitempty"`
}

func buildReport(job Job, outcomes []DocOutcome) Report {
	r := Report{BatchID: job.ID, Total: len(outcomes), Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeCleaned:
			r.Cleaned++
		case OutcomeSkipped:
			r.Skipped++
		case OutcomeFailed:
			r.Failed++
		}
	}
	return r
}

// String renders a human-readable report. At most reportLineLimit document
// lines are shown; the rest is summarised by a trailing count.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch %s: %d documents, %d cleaned, %d skipped, %d failed\n",
		r.BatchID, r.Total, r.Cleaned, r.Skipped, r.Failed)
	for i, o := range r.Outcomes {
		if i == reportLineLimit {
			fmt.Fprintf(&b, "... and %d more\n", len(r.Outcomes)-reportLineLimit)
			break
		}
		switch o.Kind {
		case OutcomeCleaned:
			fmt.Fprintf(&b, "  %s: cleaned, %d images removed across %d pages -> %s\n",
				o.Path, o.Removed, len(o.Pages), o.Output)
		case OutcomeSkipped:
			fmt.Fprintf(&b, "  %s: skipped, nothing to remove\n", o.Path)
		case OutcomeFailed:
			fmt.Fprintf(&b, "  %s: failed: %s\n", o.Path, o.Err)
		}
	}
	return b.String()
}
