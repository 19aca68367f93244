// Package session drives a room's game lifecycle: configuration, the
// camera-gated start, the synchronized go signal and the end of a game.
//
// Transitions:
//
//	Idle    --RequestStart (all cameras ready)--> Ongoing
//	Ongoing --EndGame-->                          Idle
//
// RequestStart from Ongoing and ConfirmStart/EndGame without a started game
// are rejected with an error instead of being ignored.
package session

import (
	"context"
	"errors"
	"fmt"

	"signroom/internal/db"
	"signroom/internal/presence"
	"signroom/internal/rooms"
	"signroom/internal/scores"
)

var (
	ErrGameInProgress = errors.New("game already in progress")
	ErrNoGame         = errors.New("no game awaiting this action")
)

// NotReadyError rejects a start while the camera barrier is open.
type NotReadyError struct {
	Ready int
	Total int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("Not all cameras ready. %d/%d ready.", e.Ready, e.Total)
}

type Store interface {
	CreateGameInstance(ctx context.Context, g db.GameInstance) (string, error)
}

type Machine struct {
	store  Store
	scores *scores.Aggregator
}

func NewMachine(store Store, agg *scores.Aggregator) *Machine {
	return &Machine{store: store, scores: agg}
}

// Configure stores the mode for the next game. It is valid in any phase.
// A non-positive duration falls back to the default.
func (m *Machine) Configure(room *rooms.Room, gameType string, duration int, gamemodeIndex *int) rooms.GameConfig {
	if duration <= 0 {
		duration = rooms.DefaultDuration
	}
	room.EnsureGame()
	room.Config = rooms.GameConfig{
		GameType:      gameType,
		Duration:      duration,
		GamemodeIndex: gamemodeIndex,
	}
	return room.Config
}

// RequestStart moves an idle room with every camera ready into Ongoing and
// persists a game instance. On any error the room is left unchanged.
func (m *Machine) RequestStart(ctx context.Context, room *rooms.Room, requester string) (db.GameInstance, error) {
	if room.Ongoing() {
		return db.GameInstance{}, ErrGameInProgress
	}
	readiness := presence.Check(room)
	if !readiness.AllReady() {
		return db.GameInstance{}, &NotReadyError{Ready: readiness.Ready, Total: readiness.Total}
	}

	instance := db.GameInstance{
		RoomCode:          room.Code,
		GameType:          room.Config.GameType,
		Duration:          room.Config.Duration,
		GamemodeIndex:     room.Config.GamemodeIndex,
		TotalParticipants: len(room.Participants),
		CreatorID:         room.CreatorID,
		LearningMaterial:  room.LearningMaterial,
	}
	if instance.GameType == "" {
		instance.GameType = rooms.DefaultGameType
	}
	if instance.LearningMaterial == "" {
		instance.LearningMaterial = rooms.DefaultLearningMaterial
	}

	id, err := m.store.CreateGameInstance(ctx, instance)
	if err != nil {
		return db.GameInstance{}, fmt.Errorf("starting game requested by %s: %w", requester, err)
	}
	instance.ID = id

	game := room.EnsureGame()
	game.Phase = rooms.PhaseOngoing
	game.InstanceID = id
	game.Expected = make(map[string]bool, len(room.Participants))
	for _, p := range room.Participants {
		game.Expected[p] = true
	}
	game.Written = nil
	room.LearningMaterial = ""
	room.ScoresSaved = false
	room.FinalScores = make(map[string]int)
	return instance, nil
}

// ConfirmStart accepts the post-countdown go signal. The phase does not
// change; it only checks that a game has been started in this room.
func (m *Machine) ConfirmStart(room *rooms.Room) error {
	if room.Game == nil || room.Game.InstanceID == "" {
		return ErrNoGame
	}
	return nil
}

// EndGame finishes an ongoing game, records the participant's score when
// given and tries to flush. Once the game is idle, further calls are late
// score submissions for the same instance until its scores are saved.
func (m *Machine) EndGame(ctx context.Context, room *rooms.Room, participant string, finalScore *int) (bool, error) {
	game := room.Game
	switch {
	case game == nil || game.InstanceID == "":
		return false, ErrNoGame
	case game.Phase == rooms.PhaseOngoing:
		game.Phase = rooms.PhaseIdle
	case room.ScoresSaved:
		return false, ErrNoGame
	}

	if finalScore != nil {
		m.scores.Record(room, participant, *finalScore)
	}
	return m.scores.TryFlush(ctx, room)
}

