package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/types"
)

// ExtractionHandler adapts the extraction stage to a queue consumer.
func ExtractionHandler(s *Extraction) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var req types.ExtractionRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return stageErr(CodeMalformedTrigger, "extraction request is not valid JSON", err)
		}
		if req.JobID == "" || req.StorageKey == "" || req.BucketRef == "" {
			return stageErr(CodeMalformedTrigger, "extraction request is missing fields", nil)
		}
		if req.OwnerID == "" {
			req.OwnerID = types.GuestOwnerID
		}
		_, err := s.Run(ctx, req)
		return err
	}
}

// InferenceHandler adapts the inference stage to a queue consumer. Triggers
// that do not announce completed extraction are ignored.
func InferenceHandler(s *Inference) queue.Handler {
	return func(ctx context.Context, msg queue.Message) error {
		var trigger types.TriggerPayload
		if err := json.Unmarshal(msg.Data, &trigger); err != nil {
			return stageErr(CodeMalformedTrigger, "trigger is not valid JSON", err)
		}
		if trigger.JobID == "" {
			return stageErr(CodeMalformedTrigger, "trigger has no jobId", nil)
		}
		if !strings.EqualFold(trigger.Status, string(types.StatusCompleted)) {
			s.log.WithField("job_id", trigger.JobID).WithField("status", trigger.Status).
				Debug("ignoring trigger for unfinished extraction")
			return nil
		}
		_, err := s.Run(ctx, trigger.JobID)
		return err
	}
}
