package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFrames(t *testing.T) {
	names := []string{"frame_003.jpg", "frame_001.jpg", "frame_002.jpg", "frame_004.jpg", "frame_005.jpg"}

	frames := PlanFrames(names, DefaultFrameRate, 0.9)

	require.Len(t, frames, 4, "frame at 1.00s is past a 0.9s video")
	assert.Equal(t, "frame_001.jpg", frames[0].Path)
	assert.Equal(t, "frame_000", frames[0].Phase)
	assert.Equal(t, 0.0, frames[0].Timestamp)
	assert.Equal(t, "frame_003", frames[3].Phase)
	assert.Equal(t, 0.75, frames[3].Timestamp)
	assert.Equal(t, "Frame at 0.75s", frames[3].Description)
	assert.Equal(t, 3, frames[3].Index)
}

func TestPlanFrames_Empty(t *testing.T) {
	assert.Empty(t, PlanFrames(nil, DefaultFrameRate, 3))
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("3.520000\n")
	require.NoError(t, err)
	assert.InDelta(t, 3.52, d, 1e-9)

	_, err = ParseDuration("N/A")
	assert.Error(t, err)
	_, err = ParseDuration("0")
	assert.Error(t, err)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "Invalid data found", lastLine("ffmpeg version 6\nInvalid data found\n"))
	assert.Equal(t, "single", lastLine("single"))
}
