//nolint:revive // types is a standard Go package name pattern
package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestComparePhases(t *testing.T) {
	tests := []struct {
		name string
		a, b FrameRef
		want int
	}{
		{"index wins", FrameRef{Index: 1, Phase: "frame_009"}, FrameRef{Index: 2, Phase: "frame_001"}, -1},
		{"numeric phase", FrameRef{Phase: "frame_2"}, FrameRef{Phase: "frame_10"}, -1},
		{"swing positions", FrameRef{Phase: "P10_finish"}, FrameRef{Phase: "P9_followthrough"}, 1},
		{"equal", FrameRef{Index: 3, Phase: "frame_003"}, FrameRef{Index: 3, Phase: "frame_003"}, 0},
		{"no digits", FrameRef{Phase: "address"}, FrameRef{Phase: "impact"}, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComparePhases(tt.a, tt.b))
		})
	}
}

func TestAnalysisRecord_Consistent(t *testing.T) {
	rec := &AnalysisRecord{Status: StatusAICompleted, Completed: true}
	assert.True(t, rec.Consistent())

	rec.Completed = false
	assert.False(t, rec.Consistent())

	rec = &AnalysisRecord{Status: StatusAIProcessing, Completed: true}
	assert.False(t, rec.Consistent())
}

func TestAnalysisRecord_ClaimExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &AnalysisRecord{Status: StatusAIProcessing, UpdatedAt: now.Add(-2 * time.Minute)}

	assert.False(t, rec.ClaimExpired(now, 10*time.Minute))
	assert.True(t, rec.ClaimExpired(now, time.Minute))
}

func TestAnalysisRecord_HasResult(t *testing.T) {
	rec := &AnalysisRecord{}
	assert.False(t, rec.HasResult())

	rec.Result = &AnalysisResult{CoachingResponse: "   "}
	assert.False(t, rec.HasResult())

	rec.Result.CoachingResponse = "Keep your head still through impact."
	assert.True(t, rec.HasResult())
}

func TestAnalyzeRequest_Validate(t *testing.T) {
	valid := AnalyzeRequest{StorageKey: "golf-swings/u1/abc.mov", BucketRef: "uploads"}
	assert.NoError(t, valid.Validate())

	missingKey := AnalyzeRequest{BucketRef: "uploads"}
	assert.Error(t, missingKey.Validate())

	missingBucket := AnalyzeRequest{StorageKey: "golf-swings/u1/abc.mov"}
	assert.Error(t, missingBucket.Validate())
}

func TestChatRequest_Validate(t *testing.T) {
	assert.NoError(t, (&ChatRequest{Message: "How do I stop slicing?"}).Validate())
	assert.Error(t, (&ChatRequest{}).Validate())
}

func TestNewAnalysisView(t *testing.T) {
	rec := &AnalysisRecord{
		ID:      "swing-1",
		OwnerID: "user-1",
		Status:  StatusAICompleted,
		FrameRefs: []FrameRef{
			{Phase: "frame_000", Location: "a.jpg"},
		},
		Result: &AnalysisResult{
			CoachingResponse: "Nice tempo",
			Summary:          "Solid",
			Drills:           []string{"Pump drill"},
			FramesAnalyzed:   1,
			Usage:            TokenUsage{TotalTokens: 42},
		},
	}

	view := NewAnalysisView(rec)
	assert.Equal(t, "swing-1", view.JobID)
	assert.Equal(t, "Solid", view.Summary)
	assert.Equal(t, []string{"Pump drill"}, view.Drills)
	assert.Equal(t, int32(42), view.Usage.TotalTokens)
	assert.Len(t, view.Frames, 1)

	empty := NewAnalysisView(&AnalysisRecord{ID: "swing-2"})
	assert.NotNil(t, empty.Frames)
	assert.Zero(t, empty.FramesAnalyzed)
}
