// Package mongostore provides a MongoDB implementation of the analysis record store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jonathan/swing-coach/internal/types"
)

const (
	analysesCollection      = "analyses"
	conversationsCollection = "conversation_turns"
)

// Store keeps analysis records and conversation turns in MongoDB.
type Store struct {
	client        *mongo.Client
	analyses      *mongo.Collection
	conversations *mongo.Collection
	now           func() time.Time
}

// Connect dials uri, checks the connection and ensures indexes on database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb connection uri is empty")
	}

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMinPoolSize(2).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := New(client, database)
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// New wraps an existing client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:        client,
		analyses:      db.Collection(analysesCollection),
		conversations: db.Collection(conversationsCollection),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Close disconnects the client.
func (s *Store) Close() {
	_ = s.client.Disconnect(context.Background())
}

// EnsureIndexes creates the secondary indexes used by history and chat lookups.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.analyses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "completed", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create analyses index: %w", err)
	}
	_, err = s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}
	return nil
}

// CreateAnalysis inserts rec if no record with the same id exists.
func (s *Store) CreateAnalysis(ctx context.Context, rec *types.AnalysisRecord) (*types.AnalysisRecord, bool, error) {
	now := s.now()
	doc := types.AnalysisRecord{
		ID:              rec.ID,
		OwnerID:         rec.OwnerID,
		Status:          types.StatusStarted,
		ProgressMessage: rec.ProgressMessage,
		FrameRefs:       []types.FrameRef{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err := s.analyses.InsertOne(ctx, doc)
	if err == nil {
		return &doc, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, fmt.Errorf("failed to create analysis: %w", err)
	}

	existing, err := s.GetAnalysis(ctx, rec.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("failed to create analysis %s: %w", rec.ID, types.ErrConflict)
	}
	return existing, false, nil
}

// GetAnalysis returns nil, nil when the record does not exist.
func (s *Store) GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	var rec types.AnalysisRecord
	err := s.analyses.FindOne(ctx, bson.M{"_id": id}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &rec, nil
}

// MarkExtracting moves STARTED -> PROCESSING.
func (s *Store) MarkExtracting(ctx context.Context, id, message string) (*types.AnalysisRecord, error) {
	filter := bson.M{"_id": id, "status": types.StatusStarted}
	set := bson.M{"status": types.StatusProcessing, "progress_message": message}
	return s.conditionalUpdate(ctx, id, filter, set, "mark extracting")
}

// FinalizeFrames writes frame references and moves PROCESSING -> COMPLETED.
func (s *Store) FinalizeFrames(ctx context.Context, id string, frames []types.FrameRef, message string) (*types.AnalysisRecord, error) {
	if frames == nil {
		frames = []types.FrameRef{}
	}
	filter := bson.M{"_id": id, "status": types.StatusProcessing}
	set := bson.M{"status": types.StatusCompleted, "frame_refs": frames, "progress_message": message}
	return s.conditionalUpdate(ctx, id, filter, set, "finalize frames")
}

// ClaimForInference is a compare-and-swap on version.
func (s *Store) ClaimForInference(ctx context.Context, id string, expectedVersion int64, message string) (*types.AnalysisRecord, error) {
	filter := bson.M{
		"_id":     id,
		"version": expectedVersion,
		"status":  bson.M{"$in": bson.A{types.StatusCompleted, types.StatusAIProcessing}},
		"result":  bson.M{"$exists": false},
	}
	set := bson.M{"status": types.StatusAIProcessing, "progress_message": message}
	return s.conditionalUpdate(ctx, id, filter, set, "claim for inference")
}

// CompleteInference writes the result once under the claim identified by claimVersion.
func (s *Store) CompleteInference(ctx context.Context, id string, claimVersion int64, result *types.AnalysisResult, message string) (*types.AnalysisRecord, error) {
	filter := bson.M{
		"_id":     id,
		"version": claimVersion,
		"status":  types.StatusAIProcessing,
		"result":  bson.M{"$exists": false},
	}
	set := bson.M{
		"status":           types.StatusAICompleted,
		"result":           result,
		"completed":        true,
		"progress_message": message,
	}
	return s.conditionalUpdate(ctx, id, filter, set, "complete inference")
}

// FailInference fails the record only under the claim identified by claimVersion.
func (s *Store) FailInference(ctx context.Context, id string, claimVersion int64, message string) (*types.AnalysisRecord, error) {
	filter := bson.M{
		"_id":     id,
		"version": claimVersion,
		"status":  types.StatusAIProcessing,
		"result":  bson.M{"$exists": false},
	}
	set := bson.M{"status": types.StatusFailed, "progress_message": message}
	return s.conditionalUpdate(ctx, id, filter, set, "fail inference")
}

// MarkFailed moves any non-terminal record to FAILED.
func (s *Store) MarkFailed(ctx context.Context, id, message string) (*types.AnalysisRecord, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$nin": bson.A{types.StatusAICompleted, types.StatusFailed}},
	}
	set := bson.M{"status": types.StatusFailed, "progress_message": message}
	return s.conditionalUpdate(ctx, id, filter, set, "mark failed")
}

// ListRecentCompleted returns up to limit completed analyses for owner, newest first.
func (s *Store) ListRecentCompleted(ctx context.Context, ownerID, excludeID string, limit int) ([]types.AnalysisRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.analyses.Find(ctx, bson.M{
		"owner_id":  ownerID,
		"completed": true,
		"_id":       bson.M{"$ne": excludeID},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent analyses: %w", err)
	}

	var records []types.AnalysisRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode recent analyses: %w", err)
	}
	return records, nil
}

// AppendConversation stores turns for ownerID.
func (s *Store) AppendConversation(ctx context.Context, ownerID string, turns ...types.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}
	docs := make([]any, 0, len(turns))
	now := s.now()
	for i, turn := range turns {
		turn.OwnerID = ownerID
		if turn.CreatedAt.IsZero() {
			// keep insertion order stable within one call
			turn.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		}
		docs = append(docs, turn)
	}
	if _, err := s.conversations.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

// RecentConversation returns the last n turns in chronological order.
func (s *Store) RecentConversation(ctx context.Context, ownerID string, n int) ([]types.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(n))
	cursor, err := s.conversations.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var turns []types.ConversationTurn
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	slices.Reverse(turns)
	return turns, nil
}

// conditionalUpdate applies set when filter still matches, bumping version.
func (s *Store) conditionalUpdate(ctx context.Context, id string, filter, set bson.M, op string) (*types.AnalysisRecord, error) {
	set["updated_at"] = s.now()
	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var rec types.AnalysisRecord
	err := s.analyses.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	count, err := s.analyses.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("failed to %s %s: %w", op, id, types.ErrNotFound)
	}
	return nil, fmt.Errorf("failed to %s %s: %w", op, id, types.ErrConflict)
}
