// Package media extracts still frames from swing videos with ffmpeg.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFrameRate samples four frames per second (0.25s spacing).
const DefaultFrameRate = 4.0

// Frame is one extracted still on local disk.
type Frame struct {
	Path        string
	Phase       string
	Index       int
	Timestamp   float64
	Description string
}

// Extractor shells out to ffmpeg and ffprobe.
type Extractor struct {
	ffmpegPath  string
	ffprobePath string
	frameRate   float64
	timeout     time.Duration
	log         logrus.FieldLogger
}

// NewExtractor locates ffmpeg and ffprobe on PATH.
func NewExtractor(frameRate float64, log logrus.FieldLogger) (*Extractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	return &Extractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		frameRate:   frameRate,
		timeout:     2 * time.Minute,
		log:         log,
	}, nil
}

// Duration returns the container duration of videoPath in seconds.
func (e *Extractor) Duration(ctx context.Context, videoPath string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("failed to get video duration: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseDuration(stdout.String())
}

// Extract writes frames of videoPath into outDir at the configured rate and
// returns those that fall within the video's duration, in order.
func (e *Extractor) Extract(ctx context.Context, videoPath, outDir string) ([]Frame, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("video file not accessible: %w", err)
	}

	duration, err := e.Duration(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	e.log.WithField("duration_s", duration).Debug("probed video")

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	pattern := filepath.Join(outDir, "frame_%03d.jpg")
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=%g", e.frameRate),
		"-q:v", "2",
		"-y",
		pattern)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("frame extraction timed out after %s", e.timeout)
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, lastLine(stderr.String()))
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracted frames: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}

	frames := PlanFrames(names, e.frameRate, duration)
	for i := range frames {
		frames[i].Path = filepath.Join(outDir, frames[i].Path)
	}
	return frames, nil
}

// PlanFrames turns ffmpeg output file names into frames. Names are sorted;
// frame i sits at i/rate seconds and frames past duration are dropped.
func PlanFrames(names []string, rate, duration float64) []Frame {
	sorted := slices.Clone(names)
	slices.Sort(sorted)

	frames := make([]Frame, 0, len(sorted))
	for i, name := range sorted {
		ts := float64(i) / rate
		if ts > duration {
			break
		}
		frames = append(frames, Frame{
			Path:        name,
			Phase:       fmt.Sprintf("frame_%03d", i),
			Index:       i,
			Timestamp:   ts,
			Description: fmt.Sprintf("Frame at %.2fs", ts),
		})
	}
	return frames
}

// ParseDuration parses ffprobe's duration output.
func ParseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid video duration: %f", d)
	}
	return d, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
