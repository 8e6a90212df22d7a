package types

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// GuestOwnerID is the owner recorded for unauthenticated submissions.
const GuestOwnerID = "guest-user"

// FrameRef points at one extracted still frame in object storage.
type FrameRef struct {
	Phase       string  `json:"phase" bson:"phase"`
	Location    string  `json:"location" bson:"location"`
	Index       int     `json:"frame_number" bson:"frame_number"`
	Timestamp   float64 `json:"timestamp" bson:"timestamp"`
	Description string  `json:"description,omitempty" bson:"description,omitempty"`
}

// Valid reports whether the reference carries enough data to be fetched.
func (f FrameRef) Valid() bool {
	return strings.TrimSpace(f.Phase) != "" && strings.TrimSpace(f.Location) != ""
}

// TokenUsage is the accounting reported by the inference collaborator.
type TokenUsage struct {
	PromptTokens   int32 `json:"prompt_tokens" bson:"prompt_tokens"`
	ResponseTokens int32 `json:"response_tokens" bson:"response_tokens"`
	TotalTokens    int32 `json:"total_tokens" bson:"total_tokens"`
}

// AnalysisResult is the normalized outcome of a coaching inference.
type AnalysisResult struct {
	CoachingResponse string     `json:"coaching_response" bson:"coaching_response"`
	Summary          string     `json:"summary,omitempty" bson:"summary,omitempty"`
	Strengths        []string   `json:"strengths,omitempty" bson:"strengths,omitempty"`
	Improvements     []string   `json:"improvements,omitempty" bson:"improvements,omitempty"`
	Drills           []string   `json:"drills,omitempty" bson:"drills,omitempty"`
	Usage            TokenUsage `json:"usage" bson:"usage"`
	FramesAnalyzed   int        `json:"frames_analyzed" bson:"frames_analyzed"`
	FramesSkipped    int        `json:"frames_skipped" bson:"frames_skipped"`
	Model            string     `json:"model,omitempty" bson:"model,omitempty"`
	GeneratedAt      time.Time  `json:"generated_at" bson:"generated_at"`
}

// AnalysisRecord is the persisted state of one analysis job.
type AnalysisRecord struct {
	ID              string          `json:"id" bson:"_id"`
	OwnerID         string          `json:"owner_id" bson:"owner_id"`
	Status          Status          `json:"status" bson:"status"`
	ProgressMessage string          `json:"progress_message" bson:"progress_message"`
	FrameRefs       []FrameRef      `json:"frame_refs" bson:"frame_refs"`
	Result          *AnalysisResult `json:"result,omitempty" bson:"result,omitempty"`
	Completed       bool            `json:"completed" bson:"completed"`
	Version         int64           `json:"version" bson:"version"`
	CreatedAt       time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" bson:"updated_at"`
}

// Consistent reports whether the completed flag agrees with the status.
func (r *AnalysisRecord) Consistent() bool {
	return r.Completed == r.Status.IsSuccess()
}

// HasResult reports whether a result payload has been written.
func (r *AnalysisRecord) HasResult() bool {
	return r.Result != nil && strings.TrimSpace(r.Result.CoachingResponse) != ""
}

// ClaimExpired reports whether an AI_PROCESSING claim is older than window.
func (r *AnalysisRecord) ClaimExpired(now time.Time, window time.Duration) bool {
	return now.Sub(r.UpdatedAt) >= window
}

// ConversationTurn is one message in a user's running coaching conversation.
type ConversationTurn struct {
	OwnerID   string    `json:"owner_id" bson:"owner_id"`
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
	JobID     string    `json:"job_id,omitempty" bson:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Conversation roles.
const (
	RoleUser  = "user"
	RoleCoach = "coach"
)

// TriggerPayload is the minimal message handed from extraction to inference.
type TriggerPayload struct {
	JobID   string `json:"jobId"`
	OwnerID string `json:"ownerId"`
	Status  string `json:"status"`
}

// ExtractionRequest asks the extraction stage to decompose an uploaded video.
type ExtractionRequest struct {
	JobID      string `json:"jobId"`
	OwnerID    string `json:"ownerId"`
	BucketRef  string `json:"bucketRef"`
	StorageKey string `json:"storageKey"`
}

var digitRun = regexp.MustCompile(`\d+`)

// ComparePhases orders two frame references by natural phase order: frame
// number first, then phase names with embedded numbers compared numerically.
func ComparePhases(a, b FrameRef) int {
	if a.Index != b.Index {
		if a.Index < b.Index {
			return -1
		}
		return 1
	}
	return compareNatural(a.Phase, b.Phase)
}

func compareNatural(a, b string) int {
	na := digitRun.FindString(a)
	nb := digitRun.FindString(b)
	if na != "" && nb != "" {
		ia, errA := strconv.Atoi(na)
		ib, errB := strconv.Atoi(nb)
		if errA == nil && errB == nil && ia != ib {
			if ia < ib {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}
