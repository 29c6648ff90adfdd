package scanning

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/metafix/metafix/internal/domain/scanning"
)

// StepFunc is a single per-item step. Steps are supplied by callers; the
// executor treats them as opaque and only counts their outputs.
type StepFunc func(ctx context.Context, item domain.ItemRef) (domain.StepResult, error)

var _ domain.ItemProcessor = (*StepRegistry)(nil)

// StepRegistry selects which step functions run for a given job kind and
// merges their results. The artwork step runs before the edition step for
// combined jobs.
type StepRegistry struct {
	artwork StepFunc
	edition StepFunc
}

// NewStepRegistry builds a registry from the two supported steps. Nil steps
// default to no-ops so a partially configured system still scans.
func NewStepRegistry(artwork, edition StepFunc) *StepRegistry {
	if artwork == nil {
		artwork = NoopStep
	}
	if edition == nil {
		edition = NoopStep
	}
	return &StepRegistry{artwork: artwork, edition: edition}
}

// NoopStep is the default step: it inspects nothing and reports nothing.
func NoopStep(context.Context, domain.ItemRef) (domain.StepResult, error) {
	return domain.StepResult{}, nil
}

// Process runs the steps selected by kind against one item. A step error does
// not stop later steps; errors are joined so the executor can count a single
// item failure while every runnable step still executed.
func (r *StepRegistry) Process(ctx context.Context, kind domain.JobKind, item domain.ItemRef) (domain.StepResult, error) {
	var merged domain.StepResult
	var errs []error

	if kind.IncludesArtwork() {
		res, err := r.artwork(ctx, item)
		if err != nil {
			errs = append(errs, fmt.Errorf("artwork step: %w", err))
		} else {
			merged.Issues = append(merged.Issues, res.Issues...)
		}
	}

	if kind.IncludesEdition() {
		res, err := r.edition(ctx, item)
		if err != nil {
			errs = append(errs, fmt.Errorf("edition step: %w", err))
		} else {
			merged.Issues = append(merged.Issues, res.Issues...)
			merged.AppliedEdition = res.AppliedEdition
		}
	}

	return merged, errors.Join(errs...)
}
