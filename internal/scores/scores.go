// Package scores collects final scores per game and writes them once.
package scores

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"signroom/internal/db"
	"signroom/internal/rooms"
)

var ErrNoInstance = errors.New("no game instance for room")

type Store interface {
	LatestGameInstance(ctx context.Context, roomCode string) (db.GameInstance, error)
	InsertScore(ctx context.Context, s db.ScoreRow) error
}

type Aggregator struct {
	store Store
}

func New(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Record stores a participant's final score; a later call overwrites it.
func (a *Aggregator) Record(room *rooms.Room, participant string, score int) {
	room.FinalScores[participant] = score
}

// Forget drops a departed participant from the expected scorers unless they
// already submitted a score, which is still written.
func (a *Aggregator) Forget(room *rooms.Room, participant string) {
	if room.Game == nil || room.Game.Expected == nil {
		return
	}
	if _, scored := room.FinalScores[participant]; !scored {
		delete(room.Game.Expected, participant)
	}
}

// Complete reports whether at least one score is recorded and every expected
// scorer has submitted.
func (a *Aggregator) Complete(room *rooms.Room) bool {
	if len(room.FinalScores) == 0 {
		return false
	}
	for _, id := range expectedScorers(room) {
		if _, ok := room.FinalScores[id]; !ok {
			return false
		}
	}
	return true
}

// TryFlush writes every recorded score once all expected scorers have
// submitted. It reports whether the scores were saved by this call.
// A failed write stops the flush; rows already written stay and are not
// written again by a later attempt.
func (a *Aggregator) TryFlush(ctx context.Context, room *rooms.Room) (bool, error) {
	if room.ScoresSaved || !a.Complete(room) {
		return false, nil
	}

	instance, err := a.store.LatestGameInstance(ctx, room.Code)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, fmt.Errorf("%w %s", ErrNoInstance, room.Code)
		}
		return false, fmt.Errorf("resolving game instance: %w", err)
	}

	game := room.EnsureGame()
	if game.Written == nil {
		game.Written = make(map[string]bool)
	}
	for _, participant := range scoreOrder(room) {
		if participant == room.CreatorID && !room.CreatorParticipated {
			continue
		}
		if game.Written[participant] {
			continue
		}
		row := db.ScoreRow{UserID: participant, RoomID: instance.ID, Score: room.FinalScores[participant]}
		if err := a.store.InsertScore(ctx, row); err != nil {
			return false, fmt.Errorf("writing score for %s: %w", participant, err)
		}
		game.Written[participant] = true
	}

	room.ScoresSaved = true
	room.FinalScores = make(map[string]int)
	game.Expected = nil
	game.Written = nil
	return true, nil
}

// expectedScorers is the start snapshot, or the current participants when
// no game has been started through the state machine.
func expectedScorers(room *rooms.Room) []string {
	if room.Game != nil && room.Game.Expected != nil {
		ids := make([]string, 0, len(room.Game.Expected))
		for id := range room.Game.Expected {
			ids = append(ids, id)
		}
		return ids
	}
	return room.Participants
}

// scoreOrder lists recorded scorers in participant order, then any departed ones.
func scoreOrder(room *rooms.Room) []string {
	order := make([]string, 0, len(room.FinalScores))
	seen := make(map[string]bool, len(room.FinalScores))
	for _, id := range room.Participants {
		if _, ok := room.FinalScores[id]; ok {
			order = append(order, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range room.FinalScores {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(order, rest...)
}
