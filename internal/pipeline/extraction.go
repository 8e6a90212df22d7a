package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/swing-coach/internal/media"
	"github.com/jonathan/swing-coach/internal/objectstore"
	"github.com/jonathan/swing-coach/internal/queue"
	"github.com/jonathan/swing-coach/internal/types"
)

// Messages written by the extraction stage.
const (
	MsgExtractionStarting = "Frame extraction starting..."
	MsgExtractionFailed   = "Frame extraction error"
)

// ExtractionCompletedMessage is the progress message written when frames are final.
func ExtractionCompletedMessage(n int) string {
	return fmt.Sprintf("Frame extraction completed. Extracted %d frames for analysis.", n)
}

// FrameKey is the object key of one extracted frame.
func FrameKey(ownerID, jobID, phase string, timestamp float64) string {
	return fmt.Sprintf("golf-swings/%s/%s/frames/%s_Frame_at_%.2fs.jpg", ownerID, jobID, phase, timestamp)
}

// FrameExtractor decomposes a local video file into still frames.
type FrameExtractor interface {
	Extract(ctx context.Context, videoPath, outDir string) ([]media.Frame, error)
}

// ExtractionOptions configures the extraction stage.
type ExtractionOptions struct {
	// FrameBucket receives the extracted frames. Empty uses the upload's bucket.
	FrameBucket string
	// UploadConcurrency bounds parallel frame uploads.
	UploadConcurrency int
	// StaleAfter fails a PROCESSING record that has not moved for this long.
	StaleAfter time.Duration
	// TempDir is where videos and frames are staged. Empty uses os.TempDir.
	TempDir    string
	OnProgress ProgressCallback
}

// Extraction turns an uploaded video into frame references and triggers inference.
type Extraction struct {
	store     Store
	objects   objectstore.Store
	extractor FrameExtractor
	trigger   queue.Publisher
	opts      ExtractionOptions
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewExtraction creates the extraction stage.
func NewExtraction(store Store, objects objectstore.Store, extractor FrameExtractor, trigger queue.Publisher, opts ExtractionOptions, log logrus.FieldLogger) *Extraction {
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 4
	}
	return &Extraction{
		store:     store,
		objects:   objects,
		extractor: extractor,
		trigger:   trigger,
		opts:      opts,
		log:       log.WithField("stage", StageExtraction),
		now:       time.Now,
	}
}

// Run processes one extraction request. Redelivery of a request whose record
// has already moved past STARTED is a no-op.
func (s *Extraction) Run(ctx context.Context, req types.ExtractionRequest) (*types.AnalysisRecord, error) {
	log := s.log.WithFields(logrus.Fields{"job_id": req.JobID, "owner_id": req.OwnerID})

	rec, err := s.store.GetAnalysis(ctx, req.JobID)
	if err != nil {
		return nil, stageErr(CodeStoreUnavailable, "failed to load analysis record", err)
	}
	if rec == nil {
		return nil, stageErr(CodeRecordNotFound, fmt.Sprintf("no analysis record %s", req.JobID), nil)
	}

	switch rec.Status {
	case types.StatusStarted:
	case types.StatusProcessing:
		if s.opts.StaleAfter > 0 && s.now().Sub(rec.UpdatedAt) >= s.opts.StaleAfter {
			log.Warn("extraction stalled, marking failed")
			return s.fail(ctx, rec.ID, errors.New("extraction did not finish in time"))
		}
		log.Debug("extraction already in progress")
		return rec, nil
	default:
		log.WithField("status", rec.Status).Debug("extraction already finished")
		return rec, nil
	}

	rec, err = s.store.MarkExtracting(ctx, req.JobID, MsgExtractionStarting)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			log.Debug("lost extraction start to another worker")
			return s.store.GetAnalysis(ctx, req.JobID)
		}
		return nil, stageErr(CodeStoreUnavailable, "failed to start extraction", err)
	}
	emit(s.opts.OnProgress, req.JobID, StageExtraction, MsgExtractionStarting)

	refs, err := s.extract(ctx, req, log)
	if err != nil {
		return s.fail(ctx, req.JobID, err)
	}

	msg := ExtractionCompletedMessage(len(refs))
	rec, err = s.store.FinalizeFrames(ctx, req.JobID, refs, msg)
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			log.Warn("record changed during extraction, frames not written")
			return s.store.GetAnalysis(ctx, req.JobID)
		}
		return s.fail(ctx, req.JobID, err)
	}
	emit(s.opts.OnProgress, req.JobID, StageExtraction, msg)
	log.WithField("frames", len(refs)).Info("frame extraction completed")

	s.publishTrigger(ctx, rec, log)
	return rec, nil
}

func (s *Extraction) extract(ctx context.Context, req types.ExtractionRequest, log logrus.FieldLogger) ([]types.FrameRef, error) {
	workDir, err := os.MkdirTemp(s.opts.TempDir, "swing-"+sanitize(req.JobID)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.WithError(err).Warn("failed to remove work directory")
		}
	}()

	videoPath := filepath.Join(workDir, "video"+strings.ToLower(path.Ext(req.StorageKey)))
	if err := s.download(ctx, objectstore.Ref{Bucket: req.BucketRef, Key: req.StorageKey}, videoPath); err != nil {
		return nil, err
	}

	frames, err := s.extractor.Extract(ctx, videoPath, filepath.Join(workDir, "frames"))
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames could be extracted from the video")
	}

	bucket := s.opts.FrameBucket
	if bucket == "" {
		bucket = req.BucketRef
	}

	refs := make([]types.FrameRef, len(frames))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.UploadConcurrency)
	for i, f := range frames {
		g.Go(func() error {
			ref, err := s.upload(gCtx, f, objectstore.Ref{
				Bucket: bucket,
				Key:    FrameKey(req.OwnerID, req.JobID, f.Phase, f.Timestamp),
			})
			if err != nil {
				return err
			}
			refs[i] = types.FrameRef{
				Phase:       f.Phase,
				Location:    ref.String(),
				Index:       f.Index,
				Timestamp:   f.Timestamp,
				Description: f.Description,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *Extraction) download(ctx context.Context, ref objectstore.Ref, dst string) error {
	rc, err := s.objects.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("failed to open video %s: %w", ref, err)
	}
	defer func() { _ = rc.Close() }()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create video file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to download video %s: %w", ref, err)
	}
	return f.Close()
}

func (s *Extraction) upload(ctx context.Context, frame media.Frame, ref objectstore.Ref) (objectstore.Ref, error) {
	f, err := os.Open(frame.Path)
	if err != nil {
		return objectstore.Ref{}, fmt.Errorf("failed to open frame %s: %w", frame.Phase, err)
	}
	defer func() { _ = f.Close() }()

	stored, err := s.objects.Put(ctx, ref, f, "image/jpeg")
	if err != nil {
		return objectstore.Ref{}, fmt.Errorf("failed to upload frame %s: %w", frame.Phase, err)
	}
	return stored, nil
}

// publishTrigger hands the job to inference. A failure is logged only: the
// frames are already committed and the job can be re-triggered.
func (s *Extraction) publishTrigger(ctx context.Context, rec *types.AnalysisRecord, log logrus.FieldLogger) {
	payload, err := json.Marshal(types.TriggerPayload{
		JobID:   rec.ID,
		OwnerID: rec.OwnerID,
		Status:  string(types.StatusCompleted),
	})
	if err == nil {
		err = s.trigger.Publish(ctx, queue.Message{
			Data:       payload,
			Attributes: map[string]string{"jobId": rec.ID},
		})
	}
	if err != nil {
		log.WithError(err).Error("failed to publish inference trigger")
	}
}

func (s *Extraction) fail(ctx context.Context, jobID string, cause error) (*types.AnalysisRecord, error) {
	msg := fmt.Sprintf("%s: %v", MsgExtractionFailed, cause)
	if _, err := s.store.MarkFailed(context.WithoutCancel(ctx), jobID, msg); err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to record extraction failure")
	}
	emit(s.opts.OnProgress, jobID, StageExtraction, msg)
	return nil, stageErr(CodeExtractionFailed, "frame extraction failed", cause)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}
