package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/swing-coach/internal/llm"
	"github.com/jonathan/swing-coach/internal/objectstore"
	"github.com/jonathan/swing-coach/internal/prompts"
	"github.com/jonathan/swing-coach/internal/schemas"
	"github.com/jonathan/swing-coach/internal/selection"
	"github.com/jonathan/swing-coach/internal/types"
)

// Messages written by the inference stage.
const (
	MsgAnalyzing        = "Analyzing your swing..."
	MsgAnalysisComplete = "Analysis complete"
	MsgAnalysisFailed   = "Analysis failed"
)

// InferenceOptions configures the inference stage.
type InferenceOptions struct {
	FrameBudget      int
	LockWindow       time.Duration
	HistoryLimit     int
	FetchConcurrency int
	Tier             llm.ModelTier
	// Timeout bounds the single model call. Zero leaves it to ctx.
	Timeout    time.Duration
	OnProgress ProgressCallback
}

// Outcome reports how an inference run ended without error.
type Outcome struct {
	Record *types.AnalysisRecord
	// Skipped is set when the run was a no-op, e.g. ALREADY_COMPLETED.
	Skipped Code
}

// Inference turns a job's extracted frames into a coaching result.
type Inference struct {
	store   Store
	objects objectstore.Store
	model   llm.Client
	opts    InferenceOptions
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewInference creates the inference stage.
func NewInference(store Store, objects objectstore.Store, model llm.Client, opts InferenceOptions, log logrus.FieldLogger) *Inference {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	if opts.Tier == "" {
		opts.Tier = llm.TierAdvanced
	}
	return &Inference{
		store:   store,
		objects: objects,
		model:   model,
		opts:    opts,
		log:     log.WithField("stage", StageInference),
		now:     time.Now,
	}
}

// CoachingPayload is the JSON object the model is asked to return.
type CoachingPayload struct {
	CoachingResponse string   `json:"coaching_response"`
	Summary          string   `json:"summary"`
	Strengths        []string `json:"strengths"`
	Improvements     []string `json:"improvements"`
	Drills           []string `json:"drills"`
}

type fetchedFrame struct {
	ref  types.FrameRef
	data []byte
}

// Run analyzes one job. It is safe to call repeatedly: completed jobs,
// failed jobs and jobs claimed within the lock window are skipped.
func (s *Inference) Run(ctx context.Context, jobID string) (*Outcome, error) {
	log := s.log.WithField("job_id", jobID)

	rec, err := s.store.GetAnalysis(ctx, jobID)
	if err != nil {
		return nil, stageErr(CodeStoreUnavailable, "failed to load analysis record", err)
	}
	if rec == nil {
		return nil, stageErr(CodeRecordNotFound, fmt.Sprintf("no analysis record %s", jobID), nil)
	}
	log = log.WithField("owner_id", rec.OwnerID)

	skip, err := s.guard(rec)
	if err != nil {
		return nil, err
	}
	if skip != "" {
		log.WithField("reason", skip).Info("skipping inference")
		return &Outcome{Record: rec, Skipped: skip}, nil
	}

	frames := validFrames(rec.FrameRefs)
	if len(frames) < len(rec.FrameRefs) {
		log.WithField("dropped", len(rec.FrameRefs)-len(frames)).Warn("ignoring malformed frame references")
	}
	if len(frames) == 0 {
		return s.fail(ctx, rec.ID, stageErr(CodeNoFrames, "no frames available for analysis", nil))
	}

	claimed, err := s.store.ClaimForInference(ctx, rec.ID, rec.Version, MsgAnalyzing)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			log.Info("another worker claimed this analysis")
			return &Outcome{Record: rec, Skipped: CodeAlreadyProcessing}, nil
		}
		if errors.Is(err, types.ErrNotFound) {
			return nil, stageErr(CodeRecordNotFound, fmt.Sprintf("no analysis record %s", jobID), err)
		}
		return nil, stageErr(CodeStoreUnavailable, "failed to claim analysis", err)
	}
	emit(s.opts.OnProgress, jobID, StageInference, MsgAnalyzing)

	// From here on every failure is written under the claim.
	sampled := selection.SelectFrames(frames, s.opts.FrameBudget)
	fetched, err := s.fetchFrames(ctx, sampled, log)
	if err != nil {
		return s.failClaimed(ctx, claimed, stageErr(CodeTransport, "frame download interrupted", err))
	}
	if len(fetched) == 0 {
		return s.failClaimed(ctx, claimed, stageErr(CodeFrameFetchExhausted,
			fmt.Sprintf("none of the %d sampled frames could be fetched", len(sampled)), nil))
	}
	skipped := len(sampled) - len(fetched)

	history := s.history(ctx, rec, log)

	result, err := s.infer(ctx, fetched, skipped, history)
	if err != nil {
		return s.failClaimed(ctx, claimed, err)
	}

	done, err := s.store.CompleteInference(ctx, rec.ID, claimed.Version, result, MsgAnalysisComplete)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			log.Warn("claim was superseded before the result could be written")
			return s.superseded(ctx, claimed), nil
		}
		return s.failClaimed(ctx, claimed, stageErr(CodeStoreUnavailable, "failed to store analysis result", err))
	}
	emit(s.opts.OnProgress, jobID, StageInference, MsgAnalysisComplete)
	log.WithFields(logrus.Fields{
		"frames_analyzed": result.FramesAnalyzed,
		"frames_skipped":  result.FramesSkipped,
		"total_tokens":    result.Usage.TotalTokens,
	}).Info("analysis completed")

	if rec.OwnerID != types.GuestOwnerID {
		if err := s.store.AppendConversation(ctx, rec.OwnerID, types.ConversationTurn{
			Role:    types.RoleCoach,
			Content: result.CoachingResponse,
			JobID:   rec.ID,
		}); err != nil {
			log.WithError(err).Warn("failed to append analysis to conversation")
		}
	}

	return &Outcome{Record: done}, nil
}

// guard decides whether rec may be claimed now.
func (s *Inference) guard(rec *types.AnalysisRecord) (Code, error) {
	if rec.Completed || rec.HasResult() {
		return CodeAlreadyCompleted, nil
	}
	switch rec.Status {
	case types.StatusCompleted:
		return "", nil
	case types.StatusAICompleted:
		return CodeAlreadyCompleted, nil
	case types.StatusFailed:
		return CodeAlreadyFailed, nil
	case types.StatusAIProcessing:
		if rec.ClaimExpired(s.now(), s.opts.LockWindow) {
			s.log.WithField("job_id", rec.ID).Warn("reclaiming stale analysis")
			return "", nil
		}
		return CodeAlreadyProcessing, nil
	default:
		return "", stageErr(CodeFramesNotReady,
			fmt.Sprintf("frames for %s are not ready (status %s)", rec.ID, rec.Status), nil)
	}
}

func validFrames(refs []types.FrameRef) []types.FrameRef {
	out := make([]types.FrameRef, 0, len(refs))
	for _, r := range refs {
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// fetchFrames downloads the sampled frames in parallel. A frame that cannot be
// fetched is logged and dropped. The result keeps the sampled order.
func (s *Inference) fetchFrames(ctx context.Context, sampled []types.FrameRef, log logrus.FieldLogger) ([]fetchedFrame, error) {
	slots := make([]*fetchedFrame, len(sampled))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.FetchConcurrency)
	for i, ref := range sampled {
		g.Go(func() error {
			loc, err := objectstore.ParseRef(ref.Location)
			if err == nil {
				var data []byte
				data, err = objectstore.ReadAll(gCtx, s.objects, loc)
				if err == nil && len(data) > 0 {
					slots[i] = &fetchedFrame{ref: ref, data: data}
					return nil
				}
				if err == nil {
					err = errors.New("frame is empty")
				}
			}
			log.WithError(err).WithField("phase", ref.Phase).Warn("skipping frame that could not be fetched")
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]fetchedFrame, 0, len(slots))
	for _, f := range slots {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

// history renders up to HistoryLimit prior analyses. Failures yield no history.
func (s *Inference) history(ctx context.Context, rec *types.AnalysisRecord, log logrus.FieldLogger) string {
	if s.opts.HistoryLimit <= 0 || rec.OwnerID == types.GuestOwnerID {
		return prompts.MustGet(prompts.CoachingFile, "no-history")
	}
	prior, err := s.store.ListRecentCompleted(ctx, rec.OwnerID, rec.ID, s.opts.HistoryLimit)
	if err != nil {
		log.WithError(err).Warn("failed to load analysis history")
	}
	return FormatHistory(prior)
}

// FormatHistory renders prior analyses as a numbered list, newest first.
func FormatHistory(prior []types.AnalysisRecord) string {
	var sb strings.Builder
	n := 0
	for _, p := range prior {
		if !p.HasResult() {
			continue
		}
		n++
		text := p.Result.Summary
		if text == "" {
			text = truncate(p.Result.CoachingResponse, 400)
		}
		fmt.Fprintf(&sb, "%d. %s (%s): %s\n", n, p.ID, p.UpdatedAt.Format("2006-01-02"), text)
		if len(p.Result.Improvements) > 0 {
			fmt.Fprintf(&sb, "   Focus areas: %s\n", strings.Join(p.Result.Improvements, "; "))
		}
	}
	if n == 0 {
		return prompts.MustGet(prompts.CoachingFile, "no-history")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func truncate(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}

// infer makes the single model call and normalizes its answer.
func (s *Inference) infer(ctx context.Context, frames []fetchedFrame, skipped int, history string) (*types.AnalysisResult, error) {
	instructions, err := prompts.Render(prompts.CoachingFile, "analyze-swing", map[string]string{
		"FrameCount":   strconv.Itoa(len(frames)),
		"SkippedCount": strconv.Itoa(skipped),
		"History":      history,
	})
	if err != nil {
		return nil, err
	}

	images := make([]llm.Image, 0, len(frames))
	for i, f := range frames {
		label, err := prompts.Render(prompts.CoachingFile, "frame-label", map[string]string{
			"Index":     strconv.Itoa(i + 1),
			"Phase":     f.ref.Phase,
			"Timestamp": strconv.FormatFloat(f.ref.Timestamp, 'f', 2, 64),
		})
		if err != nil {
			return nil, err
		}
		images = append(images, llm.Image{Format: "jpeg", Data: f.data, Label: label})
	}

	callCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	resp, err := s.model.AnalyzeImages(callCtx, llm.VisionRequest{
		Instructions: instructions,
		Images:       images,
		Tier:         s.opts.Tier,
		JSON:         true,
	})
	if err != nil {
		if errors.Is(err, llm.ErrEmptyResponse) {
			return nil, stageErr(CodeEmptyResponse, "model returned no content", err)
		}
		return nil, stageErr(CodeTransport, "model call failed", err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, stageErr(CodeEmptyResponse, "model returned no content", nil)
	}

	payload, err := ParseCoachingResponse(resp.Text)
	if err != nil {
		return nil, err
	}

	return &types.AnalysisResult{
		CoachingResponse: strings.TrimSpace(payload.CoachingResponse),
		Summary:          payload.Summary,
		Strengths:        payload.Strengths,
		Improvements:     payload.Improvements,
		Drills:           payload.Drills,
		Usage: types.TokenUsage{
			PromptTokens:   resp.Usage.PromptTokens,
			ResponseTokens: resp.Usage.ResponseTokens,
			TotalTokens:    resp.Usage.TotalTokens,
		},
		FramesAnalyzed: len(frames),
		FramesSkipped:  skipped,
		Model:          resp.Model,
		GeneratedAt:    s.now().UTC(),
	}, nil
}

// ParseCoachingResponse validates and decodes the model's JSON answer.
func ParseCoachingResponse(text string) (*CoachingPayload, error) {
	cleaned := llm.CleanJSONBlock(text)
	if cleaned == "" {
		return nil, stageErr(CodeEmptyResponse, "model returned no content", nil)
	}
	if err := schemas.ValidateCoachingResponse(cleaned); err != nil {
		return nil, stageErr(CodeMalformedResponse, "model response did not match the coaching schema", err)
	}
	var payload CoachingPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, stageErr(CodeMalformedResponse, "failed to decode model response", err)
	}
	return &payload, nil
}

func failureMessage(cause error) string {
	var se *StageError
	if errors.As(cause, &se) {
		return fmt.Sprintf("%s: %s", MsgAnalysisFailed, se.Message)
	}
	return fmt.Sprintf("%s: %v", MsgAnalysisFailed, cause)
}

// fail records FAILED for a job that has not been claimed yet.
func (s *Inference) fail(ctx context.Context, jobID string, cause error) (*Outcome, error) {
	msg := failureMessage(cause)
	if _, err := s.store.MarkFailed(context.WithoutCancel(ctx), jobID, msg); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to record analysis failure")
	}
	emit(s.opts.OnProgress, jobID, StageInference, msg)
	s.log.WithError(cause).WithField("job_id", jobID).Error("analysis failed")
	return nil, cause
}

// failClaimed records FAILED only while claimed is still the current claim.
// The write outlives a cancelled trigger so the job never stays AI_PROCESSING.
func (s *Inference) failClaimed(ctx context.Context, claimed *types.AnalysisRecord, cause error) (*Outcome, error) {
	log := s.log.WithField("job_id", claimed.ID)
	msg := failureMessage(cause)
	_, err := s.store.FailInference(context.WithoutCancel(ctx), claimed.ID, claimed.Version, msg)
	switch {
	case errors.Is(err, types.ErrConflict):
		log.WithError(cause).Warn("analysis failed after its claim was superseded")
		return s.superseded(ctx, claimed), nil
	case err != nil:
		log.WithError(err).Error("failed to record analysis failure")
	}
	emit(s.opts.OnProgress, claimed.ID, StageInference, msg)
	log.WithError(cause).Error("analysis failed")
	return nil, cause
}

// superseded reports the record's current state after another worker took
// over the claim.
func (s *Inference) superseded(ctx context.Context, claimed *types.AnalysisRecord) *Outcome {
	current, err := s.store.GetAnalysis(context.WithoutCancel(ctx), claimed.ID)
	if err != nil || current == nil {
		return &Outcome{Record: claimed, Skipped: CodeAlreadyProcessing}
	}
	skip := CodeAlreadyProcessing
	switch {
	case current.Completed || current.HasResult():
		skip = CodeAlreadyCompleted
	case current.Status == types.StatusFailed:
		skip = CodeAlreadyFailed
	}
	return &Outcome{Record: current, Skipped: skip}
}
