package scanning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/metafix/metafix/internal/domain/scanning"
)

func artworkIssueStep(_ context.Context, item domain.ItemRef) (domain.StepResult, error) {
	return domain.StepResult{Issues: []domain.IssueRecord{
		{RatingKey: item.RatingKey, IssueType: "missing_poster"},
	}}, nil
}

func editionStep(_ context.Context, _ domain.ItemRef) (domain.StepResult, error) {
	edition := "Remastered"
	return domain.StepResult{AppliedEdition: &edition}, nil
}

func failingStep(_ context.Context, _ domain.ItemRef) (domain.StepResult, error) {
	return domain.StepResult{}, errors.New("provider timeout")
}

func TestStepRegistry_KindSelection(t *testing.T) {
	reg := NewStepRegistry(artworkIssueStep, editionStep)
	item := domain.ItemRef{RatingKey: "42"}

	tests := []struct {
		kind        domain.JobKind
		wantIssues  int
		wantEdition bool
	}{
		{domain.JobKindArtwork, 1, false},
		{domain.JobKindEdition, 0, true},
		{domain.JobKindCombined, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			res, err := reg.Process(context.Background(), tt.kind, item)
			require.NoError(t, err)
			assert.Len(t, res.Issues, tt.wantIssues)
			assert.Equal(t, tt.wantEdition, res.AppliedEdition != nil)
		})
	}
}

func TestStepRegistry_FailingStepDoesNotBlockOthers(t *testing.T) {
	reg := NewStepRegistry(failingStep, editionStep)

	res, err := reg.Process(context.Background(), domain.JobKindCombined, domain.ItemRef{RatingKey: "7"})
	require.Error(t, err)
	assert.NotNil(t, res.AppliedEdition, "edition step still ran after artwork failure")
}

func TestStepRegistry_NilStepsDefaultToNoop(t *testing.T) {
	reg := NewStepRegistry(nil, nil)

	res, err := reg.Process(context.Background(), domain.JobKindCombined, domain.ItemRef{RatingKey: "1"})
	require.NoError(t, err)
	assert.Empty(t, res.Issues)
	assert.Nil(t, res.AppliedEdition)
}
