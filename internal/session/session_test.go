package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"signroom/internal/db"
	"signroom/internal/presence"
	"signroom/internal/rooms"
	"signroom/internal/scores"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateGameInstance(ctx context.Context, g db.GameInstance) (string, error) {
	args := m.Called(ctx, g)
	return args.String(0), args.Error(1)
}

func (m *MockStore) LatestGameInstance(ctx context.Context, roomCode string) (db.GameInstance, error) {
	args := m.Called(ctx, roomCode)
	return args.Get(0).(db.GameInstance), args.Error(1)
}

func (m *MockStore) InsertScore(ctx context.Context, s db.ScoreRow) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func newMachine(store *MockStore) *Machine {
	return NewMachine(store, scores.New(store))
}

func readyRoom(ids ...string) *rooms.Room {
	room := rooms.NewRoom("ABC123", "ann", time.Now())
	for _, id := range ids {
		presence.Join(room, id, id)
		presence.SetCameraReady(room, id, true)
	}
	return room
}

func intp(i int) *int { return &i }

func TestConfigure(t *testing.T) {
	m := newMachine(&MockStore{})
	room := readyRoom("ann")

	cfg := m.Configure(room, "Spelling", 45, intp(2))

	assert.Equal(t, "Spelling", cfg.GameType)
	assert.Equal(t, 45, cfg.Duration)
	require.NotNil(t, cfg.GamemodeIndex)
	assert.Equal(t, 2, *cfg.GamemodeIndex)
	assert.Equal(t, cfg, room.Config)
	require.NotNil(t, room.Game, "configure creates the game state")
	assert.Equal(t, rooms.PhaseIdle, room.Game.Phase)
}

func TestConfigure_DefaultDuration(t *testing.T) {
	m := newMachine(&MockStore{})
	room := readyRoom("ann")

	cfg := m.Configure(room, "Quiz", 0, nil)
	assert.Equal(t, rooms.DefaultDuration, cfg.Duration)
	assert.Nil(t, cfg.GamemodeIndex)
}

func TestConfigure_WhileOngoing(t *testing.T) {
	m := newMachine(&MockStore{})
	room := readyRoom("ann")
	room.EnsureGame().Phase = rooms.PhaseOngoing

	m.Configure(room, "Quiz", 20, nil)
	assert.Equal(t, "Quiz", room.Config.GameType)
	assert.True(t, room.Ongoing())
}

func TestRequestStart_RejectedWhenNotReady(t *testing.T) {
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann", "bo")
	presence.Join(room, "cy", "cy")

	_, err := m.RequestStart(context.Background(), room, "ann")

	var notReady *NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, 2, notReady.Ready)
	assert.Equal(t, 3, notReady.Total)
	assert.Equal(t, "Not all cameras ready. 2/3 ready.", err.Error())
	assert.Nil(t, room.Game)
	assert.False(t, room.Ongoing())
	store.AssertNotCalled(t, "CreateGameInstance", mock.Anything, mock.Anything)
}

func TestRequestStart_RejectedInEmptyRoom(t *testing.T) {
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom()

	_, err := m.RequestStart(context.Background(), room, "ann")

	var notReady *NotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Zero(t, notReady.Total)
	store.AssertNotCalled(t, "CreateGameInstance", mock.Anything, mock.Anything)
}

func TestRequestStart_Succeeds(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann", "bo")
	m.Configure(room, "Spelling", 60, intp(1))
	room.LearningMaterial = "numbers"
	room.ScoresSaved = true

	want := db.GameInstance{
		RoomCode: "ABC123", GameType: "Spelling", Duration: 60, GamemodeIndex: intp(1),
		TotalParticipants: 2, CreatorID: "ann", LearningMaterial: "numbers",
	}
	store.On("CreateGameInstance", ctx, want).Return("game-1", nil).Once()

	instance, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)

	assert.Equal(t, "game-1", instance.ID)
	assert.True(t, room.Ongoing())
	assert.Equal(t, "game-1", room.Game.InstanceID)
	assert.Equal(t, map[string]bool{"ann": true, "bo": true}, room.Game.Expected)
	assert.False(t, room.ScoresSaved)
	assert.Empty(t, room.LearningMaterial, "learning material is consumed by the start")
	store.AssertExpectations(t)
}

func TestRequestStart_Defaults(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann")

	store.On("CreateGameInstance", ctx, mock.MatchedBy(func(g db.GameInstance) bool {
		return g.GameType == rooms.DefaultGameType &&
			g.Duration == rooms.DefaultDuration &&
			g.LearningMaterial == rooms.DefaultLearningMaterial
	})).Return("game-1", nil)

	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestRequestStart_RejectedWhileOngoing(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann")
	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-1", nil).Once()

	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)

	_, err = m.RequestStart(ctx, room, "ann")
	assert.ErrorIs(t, err, ErrGameInProgress)
	assert.Equal(t, "game-1", room.Game.InstanceID)
	store.AssertNumberOfCalls(t, "CreateGameInstance", 1)
}

func TestRequestStart_StoreFailureLeavesRoomIdle(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann")
	room.LearningMaterial = "numbers"
	boom := errors.New("db down")
	store.On("CreateGameInstance", ctx, mock.Anything).Return("", boom)

	_, err := m.RequestStart(ctx, room, "ann")

	assert.ErrorIs(t, err, boom)
	assert.False(t, room.Ongoing())
	assert.Equal(t, "numbers", room.LearningMaterial)
}

func TestConfirmStart(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann")

	assert.ErrorIs(t, m.ConfirmStart(room), ErrNoGame)

	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-1", nil)
	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)

	require.NoError(t, m.ConfirmStart(room))
	assert.True(t, room.Ongoing(), "confirm does not change the phase")
}

func TestConfirmStart_SurvivesLeave(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann", "bo")
	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-1", nil)

	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)
	presence.Leave(room, "bo")

	require.NoError(t, m.ConfirmStart(room))
	assert.True(t, room.Ongoing())
}

func TestEndGame_WithoutStart(t *testing.T) {
	m := newMachine(&MockStore{})
	room := readyRoom("ann")

	_, err := m.EndGame(context.Background(), room, "ann", intp(5))
	assert.ErrorIs(t, err, ErrNoGame)
	assert.Empty(t, room.FinalScores)

	m.Configure(room, "Quiz", 30, nil)
	_, err = m.EndGame(context.Background(), room, "ann", intp(5))
	assert.ErrorIs(t, err, ErrNoGame)
}

func TestEndGame_FlushesOnceAllScoresArrive(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann", "bo")
	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-1", nil)
	store.On("LatestGameInstance", ctx, "ABC123").Return(db.GameInstance{ID: "game-1"}, nil)
	store.On("InsertScore", ctx, mock.Anything).Return(nil)

	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)

	flushed, err := m.EndGame(ctx, room, "ann", intp(10))
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.False(t, room.Ongoing())

	flushed, err = m.EndGame(ctx, room, "bo", intp(7))
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.True(t, room.ScoresSaved)
	assert.Empty(t, room.FinalScores)
	store.AssertNumberOfCalls(t, "InsertScore", 2)

	// Another end without a new game writes nothing.
	_, err = m.EndGame(ctx, room, "bo", nil)
	assert.ErrorIs(t, err, ErrNoGame)
	store.AssertNumberOfCalls(t, "InsertScore", 2)
}

func TestEndGame_WithoutScoreDoesNotRecord(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann")
	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-1", nil)

	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)

	flushed, err := m.EndGame(ctx, room, "ann", nil)
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.Empty(t, room.FinalScores)
	assert.Equal(t, rooms.PhaseIdle, room.Game.Phase)
	store.AssertNotCalled(t, "LatestGameInstance", mock.Anything, mock.Anything)
}

func TestRestartResetsScores(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	m := newMachine(store)
	room := readyRoom("ann", "bo")
	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-1", nil).Once()
	store.On("CreateGameInstance", ctx, mock.Anything).Return("game-2", nil).Once()

	_, err := m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)
	_, err = m.EndGame(ctx, room, "ann", intp(3))
	require.NoError(t, err)

	_, err = m.RequestStart(ctx, room, "ann")
	require.NoError(t, err)
	assert.Equal(t, "game-2", room.Game.InstanceID)
	assert.Empty(t, room.FinalScores, "an unfinished flush does not leak into the next game")
}
