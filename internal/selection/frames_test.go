package selection

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/swing-coach/internal/types"
)

func makeFrames(n int) []types.FrameRef {
	frames := make([]types.FrameRef, n)
	for i := range frames {
		phase := fmt.Sprintf("frame_%03d", i)
		frames[i] = types.FrameRef{
			Phase:     phase,
			Location:  fmt.Sprintf("golf-swings/u1/job/frames/%s_Frame_at_%.2fs.jpg", phase, float64(i)*0.25),
			Index:     i,
			Timestamp: float64(i) * 0.25,
		}
	}
	return frames
}

func TestEvenIndices(t *testing.T) {
	tests := []struct {
		name string
		n, k int
		want []int
	}{
		{"fifty into twelve", 50, 12, []int{0, 4, 9, 13, 18, 22, 27, 31, 36, 40, 45, 49}},
		{"budget equals n", 5, 5, []int{0, 1, 2, 3, 4}},
		{"budget above n", 3, 12, []int{0, 1, 2}},
		{"single pick", 10, 1, []int{0}},
		{"two picks span ends", 10, 2, []int{0, 9}},
		{"zero budget", 10, 0, []int{}},
		{"no frames", 0, 12, []int{}},
		{"tight", 7, 6, []int{0, 1, 2, 4, 5, 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvenIndices(tt.n, tt.k))
		})
	}
}

func TestEvenIndices_DistinctAndBounded(t *testing.T) {
	for n := 1; n <= 60; n++ {
		for k := 1; k <= 25; k++ {
			got := EvenIndices(n, k)
			require.Len(t, got, min(n, k), "n=%d k=%d", n, k)
			assert.True(t, slices.IsSorted(got))
			assert.Equal(t, len(got), len(slices.Compact(slices.Clone(got))), "duplicates for n=%d k=%d", n, k)
			assert.Equal(t, 0, got[0])
			if k > 1 {
				assert.Equal(t, n-1, got[len(got)-1])
			}
		}
	}
}

func TestSelectFrames_FiftyIntoTwelve(t *testing.T) {
	frames := makeFrames(50)

	got := SelectFrames(frames, 12)

	require.Len(t, got, 12)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 49, got[len(got)-1].Index)
	for i := 1; i < len(got); i++ {
		assert.Less(t, types.ComparePhases(got[i-1], got[i]), 0, "phase order broken at %d", i)
	}
}

func TestSelectFrames_Deterministic(t *testing.T) {
	frames := makeFrames(37)

	first := SelectFrames(frames, 9)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, SelectFrames(frames, 9))
	}
}

func TestSelectFrames_BudgetCoversInput(t *testing.T) {
	// Deliberately out of phase order: the boundary case must not reorder.
	frames := []types.FrameRef{
		{Phase: "frame_002", Location: "c", Index: 2},
		{Phase: "frame_000", Location: "a", Index: 0},
		{Phase: "frame_001", Location: "b", Index: 1},
	}

	got := SelectFrames(frames, 12)

	assert.Equal(t, frames, got)
	got[0].Phase = "mutated"
	assert.Equal(t, "frame_002", frames[0].Phase, "result must not alias the input")
}

func TestSelectFrames_SortsByPhase(t *testing.T) {
	frames := makeFrames(20)
	slices.Reverse(frames)

	got := SelectFrames(frames, 6)

	require.Len(t, got, 6)
	assert.True(t, slices.IsSortedFunc(got, types.ComparePhases))
}

func TestSelectFrames_Empty(t *testing.T) {
	assert.Empty(t, SelectFrames(nil, 12))
}
