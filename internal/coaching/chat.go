// Package coaching continues a golfer's coaching conversation, grounded in
// their recent swing analyses.
package coaching

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jonathan/swing-coach/internal/llm"
	"github.com/jonathan/swing-coach/internal/pipeline"
	"github.com/jonathan/swing-coach/internal/prompts"
	"github.com/jonathan/swing-coach/internal/types"
)

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("message is required")

// Store is the subset of the record store the chat needs.
type Store interface {
	ListRecentCompleted(ctx context.Context, ownerID, excludeID string, limit int) ([]types.AnalysisRecord, error)
	AppendConversation(ctx context.Context, ownerID string, turns ...types.ConversationTurn) error
	RecentConversation(ctx context.Context, ownerID string, n int) ([]types.ConversationTurn, error)
}

// Options tunes how much context goes into a reply.
type Options struct {
	HistoryLimit      int
	ConversationTurns int
	Tier              llm.ModelTier
}

// DefaultOptions returns the standard chat settings.
func DefaultOptions() Options {
	return Options{HistoryLimit: 3, ConversationTurns: 10, Tier: llm.TierStandard}
}

// Reply is the coach's answer.
type Reply struct {
	Text string
	// Fallback is set when the model could not answer and a canned reply was used.
	Fallback bool
}

// Service answers chat messages.
type Service struct {
	store Store
	model llm.Client
	opts  Options
	log   logrus.FieldLogger
}

// NewService creates a chat service. model may be nil, in which case every
// reply is the fallback.
func NewService(store Store, model llm.Client, opts Options, log logrus.FieldLogger) *Service {
	if opts.Tier == "" {
		opts.Tier = llm.TierStandard
	}
	return &Service{store: store, model: model, opts: opts, log: log.WithField("component", "chat")}
}

// Reply answers message on behalf of ownerID. Model failures never surface as
// errors: the caller gets an in-character fallback instead.
func (s *Service) Reply(ctx context.Context, ownerID, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if ownerID == "" {
		ownerID = types.GuestOwnerID
	}
	guest := ownerID == types.GuestOwnerID
	log := s.log.WithField("owner_id", ownerID)

	var analyses []types.AnalysisRecord
	var turns []types.ConversationTurn
	if !guest {
		var err error
		if s.opts.HistoryLimit > 0 {
			if analyses, err = s.store.ListRecentCompleted(ctx, ownerID, "", s.opts.HistoryLimit); err != nil {
				log.WithError(err).Warn("failed to load recent analyses")
			}
		}
		if s.opts.ConversationTurns > 0 {
			if turns, err = s.store.RecentConversation(ctx, ownerID, s.opts.ConversationTurns); err != nil {
				log.WithError(err).Warn("failed to load conversation")
			}
		}
	}

	text, err := s.generate(ctx, analyses, turns, message)
	if err != nil {
		log.WithError(err).Warn("chat generation failed, using fallback reply")
		return &Reply{Text: FallbackReply(), Fallback: true}, nil
	}

	if !guest {
		if err := s.store.AppendConversation(ctx, ownerID,
			types.ConversationTurn{Role: types.RoleUser, Content: message},
			types.ConversationTurn{Role: types.RoleCoach, Content: text},
		); err != nil {
			log.WithError(err).Warn("failed to save conversation")
		}
	}
	return &Reply{Text: text}, nil
}

func (s *Service) generate(ctx context.Context, analyses []types.AnalysisRecord, turns []types.ConversationTurn, message string) (string, error) {
	if s.model == nil {
		return "", errors.New("no model configured")
	}
	prompt, err := prompts.Render(prompts.ChatFile, "coach-reply", map[string]string{
		"Analyses":     pipeline.FormatHistory(analyses),
		"Conversation": formatConversation(turns),
		"Message":      message,
	})
	if err != nil {
		return "", err
	}
	text, err := s.model.GenerateContent(ctx, prompt, s.opts.Tier)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func formatConversation(turns []types.ConversationTurn) string {
	if len(turns) == 0 {
		return "(this is the start of the conversation)"
	}
	var sb strings.Builder
	for _, t := range turns {
		speaker := "Student"
		if t.Role == types.RoleCoach {
			speaker = "Coach"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, strings.TrimSpace(t.Content))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FallbackReply is the in-character answer used when the model is unavailable.
func FallbackReply() string {
	return prompts.MustGet(prompts.ChatFile, "fallback-reply")
}
