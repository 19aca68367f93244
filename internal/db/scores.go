package db

import (
	"context"
	"fmt"
)

// ScoreRow is one participant's final score for a game instance.
type ScoreRow struct {
	UserID string
	RoomID string
	Score  int
}

func (d *DB) InsertScore(ctx context.Context, s ScoreRow) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO game_sessions (user_id, room_id, score)
		VALUES ($1, $2, $3)
	`, s.UserID, s.RoomID, s.Score)
	if err != nil {
		return fmt.Errorf("inserting score: %w", err)
	}
	return nil
}

// ScoresForInstance lists the score rows written for a game instance, keyed by user.
func (d *DB) ScoresForInstance(ctx context.Context, roomID string) (map[string]int, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT user_id, score FROM game_sessions WHERE room_id = $1
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("listing scores: %w", err)
	}
	defer rows.Close()

	scores := make(map[string]int)
	for rows.Next() {
		var (
			user  string
			score int
		)
		if err := rows.Scan(&user, &score); err != nil {
			return nil, fmt.Errorf("scanning score: %w", err)
		}
		scores[user] = score
	}
	return scores, rows.Err()
}
