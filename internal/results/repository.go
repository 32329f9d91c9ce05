package results

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keyrace/keyrace/internal/models"
)

// Repository persists game results to Postgres. It is the durable leg of the
// result sink; see schema.sql for the table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a results repository over a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save inserts a batch of game results in one round trip.
func (r *Repository) Save(ctx context.Context, results []models.GameResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(
			`INSERT INTO game_results (username, wpm, accuracy, room_id, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			res.Username, res.WPM, res.Accuracy, res.RoomID, res.Timestamp,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert game result: %w", err)
		}
	}
	return nil
}

// TopResults returns persisted results ordered by wpm descending. An empty
// or "global" room id means all rooms.
func (r *Repository) TopResults(ctx context.Context, roomID string, limit int) ([]models.GameResult, error) {
	const base = `SELECT username, wpm, accuracy, room_id, recorded_at FROM game_results`

	var rows pgx.Rows
	var err error
	if roomID == "" || roomID == "global" {
		rows, err = r.pool.Query(ctx, base+` ORDER BY wpm DESC LIMIT $1`, limit)
	} else {
		rows, err = r.pool.Query(ctx, base+` WHERE room_id = $1 ORDER BY wpm DESC LIMIT $2`, roomID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query top results: %w", err)
	}
	defer rows.Close()

	var out []models.GameResult
	for rows.Next() {
		var res models.GameResult
		if err := rows.Scan(&res.Username, &res.WPM, &res.Accuracy, &res.RoomID, &res.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read result rows: %w", err)
	}
	return out, nil
}
