package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/types"
)

// Messages written by the intake stage.
const (
	MsgReceived       = "Analysis request received"
	MsgDispatchFailed = "Failed to start frame extraction"
)

var videoExtensions = map[string]bool{".mov": true, ".mp4": true, ".avi": true, ".m4v": true}

// DeriveJobID maps an upload's storage key to its job id.
//
// Keys shaped golf-swings/{user}/{file}.{ext} use the file name minus a known
// video extension. Other keys use their base name minus any extension. When
// nothing usable remains a random UUID is returned.
func DeriveJobID(storageKey string) string {
	key := strings.Trim(strings.TrimSpace(storageKey), "/")
	if key == "" {
		return uuid.NewString()
	}

	base := path.Base(key)
	ext := path.Ext(base)
	parts := strings.Split(key, "/")
	uploadShaped := len(parts) == 3 && parts[0] == "golf-swings"

	switch {
	case videoExtensions[strings.ToLower(ext)]:
		base = strings.TrimSuffix(base, ext)
	case !uploadShaped && ext != "":
		base = strings.TrimSuffix(base, ext)
	}

	base = strings.TrimSpace(base)
	if base == "" || base == "." {
		return uuid.NewString()
	}
	return base
}

// Intake accepts analysis requests and hands them to extraction.
type Intake struct {
	store      Store
	extraction queue.Publisher
	log        logrus.FieldLogger
}

// NewIntake creates the intake stage.
func NewIntake(store Store, extraction queue.Publisher, log logrus.FieldLogger) *Intake {
	return &Intake{store: store, extraction: extraction, log: log.WithField("stage", StageIntake)}
}

// IntakeResult reports what Submit did.
type IntakeResult struct {
	Record *types.AnalysisRecord
	// Created is false when the job already existed and nothing was dispatched.
	Created bool
}

// Submit creates the analysis record for req and dispatches extraction.
// Submitting the same storage key twice returns the existing record.
// A dispatch failure marks the record FAILED rather than returning an error,
// so pollers observe an outcome.
func (s *Intake) Submit(ctx context.Context, ownerID string, req types.AnalyzeRequest) (*IntakeResult, error) {
	if ownerID == "" {
		ownerID = types.GuestOwnerID
	}
	jobID := DeriveJobID(req.StorageKey)
	log := s.log.WithFields(logrus.Fields{"job_id": jobID, "owner_id": ownerID})

	rec, created, err := s.store.CreateAnalysis(ctx, &types.AnalysisRecord{
		ID:              jobID,
		OwnerID:         ownerID,
		ProgressMessage: MsgReceived,
	})
	if err != nil {
		return nil, stageErr(CodeStoreUnavailable, "failed to create analysis record", err)
	}
	if !created {
		log.WithField("status", rec.Status).Info("analysis already exists, not dispatching again")
		return &IntakeResult{Record: rec}, nil
	}

	payload, err := json.Marshal(types.ExtractionRequest{
		JobID:      jobID,
		OwnerID:    ownerID,
		BucketRef:  req.BucketRef,
		StorageKey: req.StorageKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	if err := s.extraction.Publish(ctx, queue.Message{
		Data:       payload,
		Attributes: map[string]string{"jobId": jobID},
	}); err != nil {
		log.WithError(err).Error("failed to dispatch extraction")
		failed, markErr := s.store.MarkFailed(ctx, jobID, fmt.Sprintf("%s: %v", MsgDispatchFailed, err))
		if markErr != nil {
			log.WithError(markErr).Error("failed to record dispatch failure")
			return nil, stageErr(CodeDispatchFailed, "failed to dispatch extraction", err)
		}
		return &IntakeResult{Record: failed, Created: true}, nil
	}

	log.Info("analysis accepted")
	return &IntakeResult{Record: rec, Created: true}, nil
}
