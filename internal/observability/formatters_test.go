package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/swing-coach/internal/types"
)

func TestPrintAnalysis(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	view := &types.AnalysisView{
		Summary:        "Athletic setup, early extension through impact.",
		Strengths:      []string{"Balanced setup", "Full shoulder turn"},
		Improvements:   []string{"Hips thrust toward the ball"},
		Drills:         []string{"a", "b", "c", "d", "e", "f", "g"},
		FramesAnalyzed: 12,
		FramesSkipped:  2,
		Usage:          types.TokenUsage{TotalTokens: 1500},
	}

	p.PrintAnalysis(view, "Keep your trail hip back longer. Feel your glutes stay on the wall through impact.")
	output := buf.String()

	assert.Contains(t, output, "SWING ANALYSIS")
	assert.Contains(t, output, "Full shoulder turn")
	assert.Contains(t, output, "... and 2 more")
	assert.Contains(t, output, "12 analyzed, 2 skipped")
	assert.Contains(t, output, "Tokens:   1500")
	assert.Contains(t, output, "COACH")
	assert.Contains(t, output, "Keep your trail hip back longer.")
}

func TestPrintAnalysis_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintAnalysis(nil, "  ")
	assert.Empty(t, buf.String())
}

func TestPrintBox_WrapsLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	long := strings.Repeat("tempo ", 30)
	p.printBox("TITLE", long)

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.Equal(t, boxWidth, utf8.RuneCountInString(line), line)
	}
	assert.Equal(t, 30, strings.Count(buf.String(), "tempo"))
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"short"}, wrap("short", 10))
	assert.Equal(t, []string{"one two", "three"}, wrap("one two three", 8))
	assert.Equal(t, []string{"  ab cd", "  ef"}, wrap("  ab cd ef", 7))
	assert.Equal(t, []string{"abcde", "fgh"}, wrap("abcdefgh", 5))
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintProgress(3, 60, "Analyzing your swing...", 12500*time.Millisecond, nil)
	p.PrintProgress(4, 60, "Reconnecting...", 15*time.Second, errors.New("connection refused"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "[3/60  12.5s] Analyzing your swing...", lines[0])
	assert.Contains(t, lines[1], "(connection refused)")
}

func TestPrintRecord(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRecord(&types.AnalysisRecord{
		ID:              "swing-1",
		OwnerID:         "user-1",
		Status:          types.StatusAICompleted,
		ProgressMessage: "Analysis complete",
		FrameRefs:       []types.FrameRef{{Phase: "frame_000", Location: "a.jpg"}},
		Result:          &types.AnalysisResult{CoachingResponse: "Nice swing", FramesAnalyzed: 1},
	})
	output := buf.String()

	assert.Contains(t, output, "ANALYSIS RECORD")
	assert.Contains(t, output, "AI_COMPLETED")
	assert.Contains(t, output, "Nice swing")

	buf.Reset()
	p.PrintRecord(nil)
	assert.Empty(t, buf.String())
}
