// Package pipeline runs the analysis stages: intake, frame extraction and
// coaching inference. Stages coordinate only through the record store; each
// one is safe to invoke more than once for the same job.
package pipeline

import (
	"context"

	"github.com/jonathan/swing-coach/internal/types"
)

// Store is the record store contract implemented by db.DB and mongostore.Store.
type Store interface {
	CreateAnalysis(ctx context.Context, rec *types.AnalysisRecord) (*types.AnalysisRecord, bool, error)
	GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error)
	MarkExtracting(ctx context.Context, id, message string) (*types.AnalysisRecord, error)
	FinalizeFrames(ctx context.Context, id string, frames []types.FrameRef, message string) (*types.AnalysisRecord, error)
	ClaimForInference(ctx context.Context, id string, expectedVersion int64, message string) (*types.AnalysisRecord, error)
	CompleteInference(ctx context.Context, id string, claimVersion int64, result *types.AnalysisResult, message string) (*types.AnalysisRecord, error)
	FailInference(ctx context.Context, id string, claimVersion int64, message string) (*types.AnalysisRecord, error)
	MarkFailed(ctx context.Context, id, message string) (*types.AnalysisRecord, error)
	ListRecentCompleted(ctx context.Context, ownerID, excludeID string, limit int) ([]types.AnalysisRecord, error)
	AppendConversation(ctx context.Context, ownerID string, turns ...types.ConversationTurn) error
	RecentConversation(ctx context.Context, ownerID string, n int) ([]types.ConversationTurn, error)
}

// ProgressEvent represents a progress update during stage execution
type ProgressEvent struct {
	JobID   string `json:"job_id"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// ProgressCallback is called when stage progress occurs
type ProgressCallback func(event ProgressEvent)

func emit(cb ProgressCallback, jobID, stage, message string) {
	if cb != nil {
		cb(ProgressEvent{JobID: jobID, Stage: stage, Message: message})
	}
}

// Stage names used in logs and progress events.
const (
	StageIntake     = "intake"
	StageExtraction = "extraction"
	StageInference  = "inference"
)
