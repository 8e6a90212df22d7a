package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// AnalyzeRequest is the body of POST /api/video/analyze.
type AnalyzeRequest struct {
	StorageKey string `json:"storageKey" validate:"required,min=1"`
	BucketRef  string `json:"bucketRef" validate:"required,min=1"`
}

// AnalyzeResponse acknowledges an accepted analysis job.
type AnalyzeResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message" validate:"required,min=1,max=4000"`
	UserID  string `json:"userId,omitempty"`
}

// ChatResponse carries the coach's reply.
type ChatResponse struct {
	Reply    string `json:"reply"`
	Fallback bool   `json:"fallback,omitempty"`
}

// ProgressResponse is returned by the results endpoint while a job is in flight or failed.
type ProgressResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AnalysisView is the analysis section of a completed results response.
type AnalysisView struct {
	JobID          string     `json:"jobId"`
	OwnerID        string     `json:"ownerId"`
	Summary        string     `json:"summary,omitempty"`
	Strengths      []string   `json:"strengths,omitempty"`
	Improvements   []string   `json:"improvements,omitempty"`
	Drills         []string   `json:"drills,omitempty"`
	Frames         []FrameRef `json:"frames"`
	FramesAnalyzed int        `json:"framesAnalyzed"`
	FramesSkipped  int        `json:"framesSkipped"`
	Usage          TokenUsage `json:"usage"`
	Model          string     `json:"model,omitempty"`
}

// ResultResponse is returned by the results endpoint once a job reached AI_COMPLETED.
type ResultResponse struct {
	Status           string        `json:"status"`
	Analysis         *AnalysisView `json:"analysis"`
	CoachingResponse string        `json:"coaching_response"`
}

// Validate validates the AnalyzeRequest using the validator.
func (r *AnalyzeRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ChatRequest using the validator.
func (r *ChatRequest) Validate() error {
	return validate.Struct(r)
}

// NewAnalysisView projects a completed record onto its API shape.
func NewAnalysisView(rec *AnalysisRecord) *AnalysisView {
	view := &AnalysisView{
		JobID:   rec.ID,
		OwnerID: rec.OwnerID,
		Frames:  rec.FrameRefs,
	}
	if view.Frames == nil {
		view.Frames = []FrameRef{}
	}
	if res := rec.Result; res != nil {
		view.Summary = res.Summary
		view.Strengths = res.Strengths
		view.Improvements = res.Improvements
		view.Drills = res.Drills
		view.FramesAnalyzed = res.FramesAnalyzed
		view.FramesSkipped = res.FramesSkipped
		view.Usage = res.Usage
		view.Model = res.Model
	}
	return view
}
