package client

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jonathan/swing-coach/internal/types"
)

// Default polling limits.
const (
	DefaultMaxAttempts = 60
	DefaultInterval    = 5 * time.Second
)

// ResultFetcher performs one status fetch.
type ResultFetcher interface {
	GetResult(ctx context.Context, jobID string) (*StatusResponse, error)
}

// Progress is reported once per attempt.
type Progress struct {
	JobID       string
	Attempt     int
	MaxAttempts int
	Status      string
	Message     string
	Elapsed     time.Duration
	// Err is set when the attempt's fetch failed transiently.
	Err error
}

// PollOptions configures a Poller.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
	OnProgress  func(Progress)
}

// Poller waits for an analysis to reach a terminal state.
type Poller struct {
	fetcher ResultFetcher
	opts    PollOptions
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller over fetcher.
func NewPoller(fetcher ResultFetcher, opts PollOptions) *Poller {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	return &Poller{fetcher: fetcher, opts: opts, now: time.Now, sleep: sleepContext}
}

// Wait polls jobID until it completes, fails or the attempt budget runs out.
//
// A completed status without a result body counts as still processing.
// An empty response is treated like a transient fetch error.
// A FAILED status returns *AnalysisFailedError at once. Network errors, 404s
// and 5xx responses use up an attempt without ending the loop. Rejected
// credentials return *AuthenticationRequiredError at once. Running out of
// attempts returns *AnalysisTimeoutError.
func (p *Poller) Wait(ctx context.Context, jobID string) (*StatusResponse, error) {
	start := p.now()
	lastStatus := ""

	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		resp, err := p.fetcher.GetResult(ctx, jobID)
		if err == nil && resp == nil {
			err = errEmptyStatus
		}
		progress := Progress{
			JobID:       jobID,
			Attempt:     attempt,
			MaxAttempts: p.opts.MaxAttempts,
		}

		switch {
		case err != nil:
			var authErr *AuthenticationRequiredError
			if errors.As(err, &authErr) {
				return nil, err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			progress.Err = err
			progress.Message = reconnectMessage
		case isFailed(resp.Status):
			progress.Status = resp.Status
			progress.Message = resp.Message
			p.report(progress, start)
			return nil, &AnalysisFailedError{JobID: jobID, Message: resp.Message}
		case isCompleted(resp.Status) && resp.HasPayload():
			progress.Status = resp.Status
			progress.Message = completeMessage
			p.report(progress, start)
			return resp, nil
		default:
			lastStatus = resp.Status
			progress.Status = resp.Status
			progress.Message = StageMessage(resp.Status, attempt)
		}
		p.report(progress, start)

		if attempt < p.opts.MaxAttempts {
			if err := p.sleep(ctx, p.opts.Interval); err != nil {
				return nil, err
			}
		}
	}

	return nil, &AnalysisTimeoutError{
		JobID:      jobID,
		Attempts:   p.opts.MaxAttempts,
		Elapsed:    p.now().Sub(start),
		LastStatus: lastStatus,
	}
}

func (p *Poller) report(progress Progress, start time.Time) {
	if p.opts.OnProgress == nil {
		return
	}
	progress.Elapsed = p.now().Sub(start)
	p.opts.OnProgress(progress)
}

func isFailed(status string) bool {
	return strings.EqualFold(status, string(types.StatusFailed))
}

func isCompleted(status string) bool {
	return strings.EqualFold(status, "completed") || strings.EqualFold(status, string(types.StatusAICompleted))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var errEmptyStatus = errors.New("status response was empty")

const (
	reconnectMessage = "Still working, reconnecting to the coach..."
	completeMessage  = "Your swing analysis is ready!"
)

var stageMessages = map[types.Status][]string{
	types.StatusStarted: {
		"Getting your video ready...",
		"Preparing your swing for analysis...",
		"Queuing up your swing...",
	},
	types.StatusProcessing: {
		"Extracting key frames from your swing...",
		"Breaking your swing down frame by frame...",
		"Finding the key positions in your swing...",
	},
	types.StatusCompleted: {
		"Frames ready, handing your swing to the coach...",
		"Lining up the best frames for review...",
	},
	types.StatusAIProcessing: {
		"Analyzing your swing mechanics...",
		"Reviewing your setup and takeaway...",
		"Checking your position at impact...",
		"Writing up your coaching notes...",
	},
}

var fallbackMessages = []string{
	"Working on your analysis...",
	"Almost there, hang tight...",
}

// StageMessage returns a user-facing message for status, rotated by attempt.
// The lowercase "completed" of a result still missing its body reads as
// AI_PROCESSING; uppercase COMPLETED means frames are ready.
func StageMessage(status string, attempt int) string {
	variants := fallbackMessages
	if status == "completed" {
		variants = stageMessages[types.StatusAIProcessing]
	} else if parsed, err := types.ParseStatus(status); err == nil {
		if v, ok := stageMessages[parsed]; ok {
			variants = v
		}
	}
	if attempt < 1 {
		attempt = 1
	}
	return variants[(attempt-1)%len(variants)]
}
