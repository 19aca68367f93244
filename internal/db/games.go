package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GameInstance is one persisted playthrough, written when a room starts a game.
type GameInstance struct {
	ID                string
	RoomCode          string
	GameType          string
	Duration          int
	GamemodeIndex     *int
	TotalParticipants int
	CreatorID         string // empty when unknown
	LearningMaterial  string
	CreatedAt         time.Time
}

func (d *DB) CreateGameInstance(ctx context.Context, g GameInstance) (string, error) {
	var id string
	err := d.conn.QueryRowContext(ctx, `
		INSERT INTO rooms (room_code, game_type, duration, gamemode_index, total_participants, creator_id, learning_material)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, g.RoomCode, g.GameType, g.Duration, nullInt(g.GamemodeIndex), g.TotalParticipants, nullString(g.CreatorID), g.LearningMaterial).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("creating game instance: %w", err)
	}
	return id, nil
}

// LatestGameInstance returns the most recently created instance for a room code.
func (d *DB) LatestGameInstance(ctx context.Context, roomCode string) (GameInstance, error) {
	g := GameInstance{RoomCode: roomCode}
	var (
		gamemode sql.NullInt64
		creator  sql.NullString
	)
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, game_type, duration, gamemode_index, total_participants, creator_id, learning_material, created_at
		FROM rooms
		WHERE room_code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, roomCode).Scan(&g.ID, &g.GameType, &g.Duration, &gamemode, &g.TotalParticipants, &creator, &g.LearningMaterial, &g.CreatedAt)
	if err != nil {
		return GameInstance{}, notFound("getting latest game instance", err)
	}
	if gamemode.Valid {
		idx := int(gamemode.Int64)
		g.GamemodeIndex = &idx
	}
	g.CreatorID = creator.String
	return g, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
