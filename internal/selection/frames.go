// Package selection samples the frames sent to the vision model.
package selection

import (
	"math"
	"slices"

	"github.com/jonathan/swing-coach/internal/types"
)

// EvenIndices returns k distinct indices spread evenly across [0, n-1].
// Targets are round(i*(n-1)/(k-1)); a target already taken is nudged to the
// nearest unused index, trying the higher side first. The result is sorted.
func EvenIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return []int{}
	}
	if k >= n {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if k == 1 {
		return []int{0}
	}

	used := make([]bool, n)
	out := make([]int, 0, k)
	step := float64(n-1) / float64(k-1)
	for i := 0; i < k; i++ {
		target := int(math.Round(float64(i) * step))
		idx := nearestUnused(used, target)
		used[idx] = true
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// nearestUnused finds the closest free slot to target. Ties go to the higher index.
func nearestUnused(used []bool, target int) int {
	if !used[target] {
		return target
	}
	for d := 1; d < len(used); d++ {
		if hi := target + d; hi < len(used) && !used[hi] {
			return hi
		}
		if lo := target - d; lo >= 0 && !used[lo] {
			return lo
		}
	}
	// unreachable while k < n
	return target
}

// SelectFrames picks at most budget frames evenly distributed across frames.
//
// When len(frames) <= budget the input is returned as a copy in its original
// order. Otherwise the chosen frames are ordered by natural phase order so
// callers always see a temporal sequence. The function is pure.
func SelectFrames(frames []types.FrameRef, budget int) []types.FrameRef {
	if len(frames) <= budget {
		return slices.Clone(frames)
	}
	indices := EvenIndices(len(frames), budget)
	out := make([]types.FrameRef, 0, len(indices))
	for _, idx := range indices {
		out = append(out, frames[idx])
	}
	slices.SortStableFunc(out, types.ComparePhases)
	return out
}
