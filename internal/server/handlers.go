package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/swing-coach/internal/server/middleware"
	"github.com/jonathan/swing-coach/internal/types"
)

// Response status values of the public API.
const (
	apiStatusStarted   = "started"
	apiStatusFailed    = "failed"
	apiStatusCompleted = "completed"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// handleAnalyze accepts an uploaded video for analysis
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req types.AnalyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.StorageKey = strings.TrimSpace(req.StorageKey)
	req.BucketRef = strings.TrimSpace(req.BucketRef)
	if err := req.Validate(); err != nil {
		s.writeError(w, validationError(err))
		return
	}

	caller := middleware.FromContext(r.Context())
	result, err := s.intake.Submit(r.Context(), caller.Subject, req)
	if err != nil {
		s.log.WithError(err).WithField("storage_key", req.StorageKey).Error("failed to submit analysis")
		s.writeError(w, err)
		return
	}

	status := apiStatusStarted
	if result.Record.Status == types.StatusFailed {
		status = apiStatusFailed
	}
	s.jsonResponse(w, http.StatusOK, types.AnalyzeResponse{JobID: result.Record.ID, Status: status})
}

// handleResults reports progress or the finished analysis for a job
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("jobId"))
	if jobID == "" {
		s.writeError(w, &ErrValidation{Field: "jobId", Message: "is required"})
		return
	}

	rec, err := s.analyses.GetAnalysis(r.Context(), jobID)
	if err != nil {
		s.log.WithError(err).WithField("job_id", jobID).Error("failed to load analysis")
		s.errorResponse(w, http.StatusServiceUnavailable, "service temporarily unavailable")
		return
	}
	if rec == nil {
		s.writeError(w, &ErrJobNotFound{JobID: jobID})
		return
	}

	switch {
	case rec.Status == types.StatusAICompleted && rec.Result != nil:
		s.jsonResponse(w, http.StatusOK, types.ResultResponse{
			Status:           apiStatusCompleted,
			Analysis:         types.NewAnalysisView(rec),
			CoachingResponse: rec.Result.CoachingResponse,
		})
	case rec.Status == types.StatusFailed:
		s.jsonResponse(w, http.StatusOK, types.ProgressResponse{Status: apiStatusFailed, Message: rec.ProgressMessage})
	default:
		s.jsonResponse(w, http.StatusOK, types.ProgressResponse{Status: string(rec.Status), Message: rec.ProgressMessage})
	}
}

// handleChat answers a chat message in the coach's voice
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := req.Validate(); err != nil {
		s.writeError(w, validationError(err))
		return
	}

	owner := chatOwner(middleware.FromContext(r.Context()).Subject)
	if owner == types.GuestOwnerID && strings.TrimSpace(req.UserID) != "" {
		s.log.WithField("claimed_user_id", req.UserID).Debug("ignoring unverified userId, chatting as guest")
	}
	reply, err := s.chat.Reply(r.Context(), owner, req.Message)
	if err != nil {
		s.log.WithError(err).WithField("owner_id", owner).Error("chat failed")
		s.writeError(w, err)
		return
	}
	if reply.Fallback {
		s.log.WithFields(logrus.Fields{"owner_id": owner}).Info("served fallback chat reply")
	}
	s.jsonResponse(w, http.StatusOK, types.ChatResponse{Reply: reply.Text, Fallback: reply.Fallback})
}

// chatOwner returns the verified subject. A userId in the body alone does not
// grant access to that user's history, so such callers chat as guest.
func chatOwner(subject string) string {
	if subject == "" {
		return types.GuestOwnerID
	}
	return subject
}
