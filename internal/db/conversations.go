package db

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/swing-coach/internal/types"
)

// AppendConversation stores turns for ownerID in a single batch.
func (db *DB) AppendConversation(ctx context.Context, ownerID string, turns ...types.ConversationTurn) error {
	if len(turns) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, turn := range turns {
		var jobID *string
		if turn.JobID != "" {
			jobID = &turn.JobID
		}
		batch.Queue(
			`INSERT INTO conversation_turns (owner_id, role, content, job_id) VALUES ($1, $2, $3, $4)`,
			ownerID, turn.Role, turn.Content, jobID,
		)
	}

	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

// RecentConversation returns the last n turns for ownerID in chronological order.
func (db *DB) RecentConversation(ctx context.Context, ownerID string, n int) ([]types.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT owner_id, role, content, COALESCE(job_id, ''), created_at
		 FROM conversation_turns
		 WHERE owner_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		ownerID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	defer rows.Close()

	var turns []types.ConversationTurn
	for rows.Next() {
		var turn types.ConversationTurn
		if err := rows.Scan(&turn.OwnerID, &turn.Role, &turn.Content, &turn.JobID, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}
