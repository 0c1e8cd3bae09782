package batch

import (
	"fmt"
	"strings"
	"time"

	"contentfactory/internal/domain"
	"contentfactory/internal/modification"
)

// Job is one image to produce.
type Job struct {
	Index          int
	ReferenceAsset string
	BasePrompt     string
	Modifications  modification.Set
	// Variation is the rendered description of Modifications appended to
	// the base prompt.
	Variation string
}

// Prompt returns the prompt actually sent to the image provider.
func (j Job) Prompt() string {
	base := strings.TrimSpace(j.BasePrompt)
	variation := strings.TrimSpace(j.Variation)
	switch {
	case variation == "":
		return base
	case base == "":
		return variation
	default:
		return strings.TrimRight(base, ". ") + ". " + variation
	}
}

// Outcome is the final state of a job.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// JobResult records how one job resolved.
type JobResult struct {
	Index         int
	Prompt        string
	Modifications modification.Set
	Attempts      int
	Outcome       Outcome
	Degraded      bool
	DegradedBy    string
	Asset         string
	Elapsed       time.Duration
	Err           error
}

// Succeeded reports whether the job produced an asset, degraded or not.
func (r JobResult) Succeeded() bool { return r.Outcome == OutcomeSuccess }

// Result aggregates one batch run. Results keep the submitted job order.
type Result struct {
	Results           []JobResult
	SuccessCount      int
	FailureCount      int
	DegradedCount     int
	TotalTime         time.Duration
	ModificationUsage map[string]int
}

// Err wraps ErrPartialBatchFailure when at least one job failed.
func (r Result) Err() error {
	if r.FailureCount == 0 {
		return nil
	}
	return &PartialFailureError{Failed: r.FailureCount, Total: len(r.Results)}
}

// Assets returns the successful results that carry an asset, in job order.
func (r Result) Assets() []JobResult {
	out := make([]JobResult, 0, r.SuccessCount)
	for _, res := range r.Results {
		if res.Succeeded() && res.Asset != "" {
			out = append(out, res)
		}
	}
	return out
}

// PartialFailureError reports how many jobs failed in a batch.
type PartialFailureError struct {
	Failed int
	Total  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s: %d of %d jobs failed", domain.ErrPartialBatchFailure, e.Failed, e.Total)
}

func (e *PartialFailureError) Unwrap() error { return domain.ErrPartialBatchFailure }
