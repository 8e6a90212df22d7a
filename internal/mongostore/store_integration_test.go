//go:build integration
// +build integration

package mongostore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/jonathan/swing-coach/internal/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("Skipping integration test: cannot start mongodb container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := Connect(ctx, uri, "swing_coach_test")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func readyRecord(ctx context.Context, t *testing.T, s *Store, owner string) *types.AnalysisRecord {
	t.Helper()
	rec := &types.AnalysisRecord{ID: "swing-" + uuid.NewString(), OwnerID: owner, ProgressMessage: "Analysis request received"}
	_, created, err := s.CreateAnalysis(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)
	_, err = s.MarkExtracting(ctx, rec.ID, "Frame extraction starting...")
	require.NoError(t, err)
	ready, err := s.FinalizeFrames(ctx, rec.ID, []types.FrameRef{
		{Phase: "frame_000", Location: "a.jpg"},
		{Phase: "frame_001", Location: "b.jpg", Index: 1, Timestamp: 0.25},
	}, "Frame extraction completed. Extracted 2 frames for analysis.")
	require.NoError(t, err)
	return ready
}

func TestStoreLifecycle_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	s := setupTestStore(t)
	ctx := context.Background()
	ready := readyRecord(ctx, t, s, "user-1")

	assert.Equal(t, types.StatusCompleted, ready.Status)
	assert.Len(t, ready.FrameRefs, 2)

	_, created, err := s.CreateAnalysis(ctx, &types.AnalysisRecord{ID: ready.ID, OwnerID: "someone-else"})
	require.NoError(t, err)
	assert.False(t, created)

	claimed, err := s.ClaimForInference(ctx, ready.ID, ready.Version, "Analyzing your swing...")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAIProcessing, claimed.Status)

	// The pre-claim version is stale now.
	_, err = s.ClaimForInference(ctx, ready.ID, ready.Version, "second worker")
	assert.ErrorIs(t, err, types.ErrConflict)

	done, err := s.CompleteInference(ctx, ready.ID, claimed.Version,
		&types.AnalysisResult{CoachingResponse: "Smooth transition."}, "Analysis complete")
	require.NoError(t, err)
	assert.True(t, done.Completed)
	assert.True(t, done.HasResult())

	_, err = s.MarkFailed(ctx, ready.ID, "too late")
	assert.ErrorIs(t, err, types.ErrConflict)

	_, err = s.MarkFailed(ctx, "missing", "x")
	assert.ErrorIs(t, err, types.ErrNotFound)

	missing, err := s.GetAnalysis(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreFailInference_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	s := setupTestStore(t)
	ctx := context.Background()
	ready := readyRecord(ctx, t, s, "user-3")

	stale, err := s.ClaimForInference(ctx, ready.ID, ready.Version, "first worker")
	require.NoError(t, err)
	current, err := s.ClaimForInference(ctx, ready.ID, stale.Version, "second worker")
	require.NoError(t, err)

	_, err = s.FailInference(ctx, ready.ID, stale.Version, "Analysis failed: model call failed")
	assert.ErrorIs(t, err, types.ErrConflict)

	failed, err := s.FailInference(ctx, ready.ID, current.Version, "Analysis failed: model call failed")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, failed.Status)

	_, err = s.FailInference(ctx, ready.ID, failed.Version, "again")
	assert.ErrorIs(t, err, types.ErrConflict)
}

func TestStoreHistoryAndConversation_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	s := setupTestStore(t)
	ctx := context.Background()
	owner := "user-" + uuid.NewString()

	var ids []string
	for i := 0; i < 3; i++ {
		ready := readyRecord(ctx, t, s, owner)
		claimed, err := s.ClaimForInference(ctx, ready.ID, ready.Version, "x")
		require.NoError(t, err)
		_, err = s.CompleteInference(ctx, ready.ID, claimed.Version, &types.AnalysisResult{CoachingResponse: "tip"}, "done")
		require.NoError(t, err)
		ids = append(ids, ready.ID)
	}

	recent, err := s.ListRecentCompleted(ctx, owner, ids[2], 5)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[1], recent[0].ID)

	require.NoError(t, s.AppendConversation(ctx, owner,
		types.ConversationTurn{Role: types.RoleUser, Content: "first"},
		types.ConversationTurn{Role: types.RoleCoach, Content: "second"},
		types.ConversationTurn{Role: types.RoleUser, Content: "third"},
	))
	turns, err := s.RecentConversation(ctx, owner, 2)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "second", turns[0].Content)
	assert.Equal(t, "third", turns[1].Content)
	assert.Equal(t, owner, turns[1].OwnerID)
}
