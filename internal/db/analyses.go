package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/swing-coach/internal/types"
)

// -----------------------------------------------------------------------------
// Analysis Record Methods
// -----------------------------------------------------------------------------
//
// Every write names its field set and its status precondition, bumps version
// and sets updated_at. A write whose precondition no longer holds affects no
// rows and returns types.ErrConflict (or types.ErrNotFound for a missing id).

const analysisColumns = `id, owner_id, status, progress_message, frame_refs, result,
	completed, version, created_at, updated_at`

// CreateAnalysis inserts rec if no record with the same id exists.
// It returns the stored record and whether this call created it.
func (db *DB) CreateAnalysis(ctx context.Context, rec *types.AnalysisRecord) (*types.AnalysisRecord, bool, error) {
	framesJSON, err := marshalFrames(rec.FrameRefs)
	if err != nil {
		return nil, false, err
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO analyses (id, owner_id, status, progress_message, frame_refs, completed)
		 VALUES ($1, $2, $3, $4, $5, FALSE)
		 ON CONFLICT (id) DO NOTHING
		 RETURNING `+analysisColumns,
		rec.ID, rec.OwnerID, string(types.StatusStarted), rec.ProgressMessage, framesJSON,
	)
	created, err := scanAnalysis(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to create analysis: %w", err)
	}

	existing, err := db.GetAnalysis(ctx, rec.ID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("failed to create analysis %s: %w", rec.ID, types.ErrConflict)
	}
	return existing, false, nil
}

// GetAnalysis retrieves a record by id. Returns nil, nil when it does not exist.
func (db *DB) GetAnalysis(ctx context.Context, id string) (*types.AnalysisRecord, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id)
	rec, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return rec, nil
}

// MarkExtracting moves STARTED -> PROCESSING.
func (db *DB) MarkExtracting(ctx context.Context, id, message string) (*types.AnalysisRecord, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE analyses
		 SET status = $2, progress_message = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $4
		 RETURNING `+analysisColumns,
		id, string(types.StatusProcessing), message, string(types.StatusStarted),
	)
	return db.conditionalResult(ctx, id, row, "mark extracting")
}

// FinalizeFrames writes the frame references and moves PROCESSING -> COMPLETED.
// Frames are immutable once this succeeds.
func (db *DB) FinalizeFrames(ctx context.Context, id string, frames []types.FrameRef, message string) (*types.AnalysisRecord, error) {
	framesJSON, err := marshalFrames(frames)
	if err != nil {
		return nil, err
	}
	row := db.pool.QueryRow(ctx,
		`UPDATE analyses
		 SET status = $2, frame_refs = $3, progress_message = $4, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $5
		 RETURNING `+analysisColumns,
		id, string(types.StatusCompleted), framesJSON, message, string(types.StatusProcessing),
	)
	return db.conditionalResult(ctx, id, row, "finalize frames")
}

// ClaimForInference atomically moves the record to AI_PROCESSING if it still
// carries expectedVersion, is COMPLETED or AI_PROCESSING, and has no result.
func (db *DB) ClaimForInference(ctx context.Context, id string, expectedVersion int64, message string) (*types.AnalysisRecord, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE analyses
		 SET status = $2, progress_message = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND version = $4 AND status IN ($5, $2) AND result IS NULL
		 RETURNING `+analysisColumns,
		id, string(types.StatusAIProcessing), message, expectedVersion, string(types.StatusCompleted),
	)
	return db.conditionalResult(ctx, id, row, "claim for inference")
}

// CompleteInference writes the result once and moves AI_PROCESSING -> AI_COMPLETED,
// provided the caller still holds the claim identified by claimVersion.
func (db *DB) CompleteInference(ctx context.Context, id string, claimVersion int64, result *types.AnalysisResult, message string) (*types.AnalysisRecord, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	row := db.pool.QueryRow(ctx,
		`UPDATE analyses
		 SET status = $2, result = $3, completed = TRUE, progress_message = $4,
		     version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $5 AND version = $6 AND result IS NULL
		 RETURNING `+analysisColumns,
		id, string(types.StatusAICompleted), resultJSON, message, string(types.StatusAIProcessing), claimVersion,
	)
	return db.conditionalResult(ctx, id, row, "complete inference")
}

// FailInference moves AI_PROCESSING -> FAILED only while the caller still
// holds the claim identified by claimVersion. A superseded claim gets ErrConflict.
func (db *DB) FailInference(ctx context.Context, id string, claimVersion int64, message string) (*types.AnalysisRecord, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE analyses
		 SET status = $2, progress_message = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND status = $4 AND version = $5 AND result IS NULL
		 RETURNING `+analysisColumns,
		id, string(types.StatusFailed), message, string(types.StatusAIProcessing), claimVersion,
	)
	return db.conditionalResult(ctx, id, row, "fail inference")
}

// MarkFailed moves any non-terminal record to FAILED with message.
func (db *DB) MarkFailed(ctx context.Context, id, message string) (*types.AnalysisRecord, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE analyses
		 SET status = $2, progress_message = $3, version = version + 1, updated_at = NOW()
		 WHERE id = $1 AND status NOT IN ($2, $4)
		 RETURNING `+analysisColumns,
		id, string(types.StatusFailed), message, string(types.StatusAICompleted),
	)
	return db.conditionalResult(ctx, id, row, "mark failed")
}

// ListRecentCompleted returns up to limit of owner's completed analyses,
// newest first, skipping excludeID.
func (db *DB) ListRecentCompleted(ctx context.Context, ownerID, excludeID string, limit int) ([]types.AnalysisRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+analysisColumns+`
		 FROM analyses
		 WHERE owner_id = $1 AND completed AND id <> $2
		 ORDER BY updated_at DESC
		 LIMIT $3`,
		ownerID, excludeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent analyses: %w", err)
	}
	defer rows.Close()

	var records []types.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// conditionalResult turns an empty RETURNING into ErrNotFound or ErrConflict.
func (db *DB) conditionalResult(ctx context.Context, id string, row pgx.Row, op string) (*types.AnalysisRecord, error) {
	rec, err := scanAnalysis(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM analyses WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	if !exists {
		return nil, fmt.Errorf("failed to %s %s: %w", op, id, types.ErrNotFound)
	}
	return nil, fmt.Errorf("failed to %s %s: %w", op, id, types.ErrConflict)
}

func scanAnalysis(row pgx.Row) (*types.AnalysisRecord, error) {
	var rec types.AnalysisRecord
	var status string
	var framesJSON, resultJSON []byte

	if err := row.Scan(&rec.ID, &rec.OwnerID, &status, &rec.ProgressMessage, &framesJSON, &resultJSON,
		&rec.Completed, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := types.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	rec.Status = parsed

	if len(framesJSON) > 0 {
		if err := json.Unmarshal(framesJSON, &rec.FrameRefs); err != nil {
			return nil, fmt.Errorf("failed to decode frame refs: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		rec.Result = &types.AnalysisResult{}
		if err := json.Unmarshal(resultJSON, rec.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return &rec, nil
}

func marshalFrames(frames []types.FrameRef) ([]byte, error) {
	if frames == nil {
		frames = []types.FrameRef{}
	}
	data, err := json.Marshal(frames)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame refs: %w", err)
	}
	return data, nil
}
