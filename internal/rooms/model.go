package rooms

import "time"

// Phase is the lifecycle position of a room's game.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOngoing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOngoing:
		return "ongoing"
	}
	return "unknown"
}

const (
	DefaultDuration         = 30
	DefaultGameType         = "Unknown"
	DefaultLearningMaterial = "alphabet"
)

type CameraStatus struct {
	Username    string `json:"username"`
	CameraReady bool   `json:"camera_ready"`
}

type ChatMessage struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// GameConfig is the mode chosen for the next game. GameType is empty until
// the room is configured; GamemodeIndex is nil when the client sent none.
type GameConfig struct {
	GameType      string
	Duration      int
	GamemodeIndex *int
}

// GameState exists from the first configure or start and lives as long as the room.
type GameState struct {
	Phase Phase
	// InstanceID is the persisted game-instance row created by the last start.
	InstanceID string
	// Expected holds the identities whose final scores a flush waits for.
	// Snapshotted at start; shrinks when a participant leaves without scoring.
	Expected map[string]bool
	// Written tracks score rows already persisted for the current instance.
	Written map[string]bool
}

// Room is the complete in-memory state of one active room. Every field has
// a usable zero or default value after NewRoom.
type Room struct {
	Code      string
	CreatorID string
	CreatedAt time.Time

	// Members counts live connections attributed to the room.
	Members int
	// Participants holds identities in join order.
	Participants []string
	// Connections counts live connections per identity. An identity stays a
	// participant until its last connection leaves.
	Connections map[string]int
	Cameras      map[string]*CameraStatus
	Messages     []ChatMessage

	Config           GameConfig
	LearningMaterial string

	CreatorParticipated bool
	FinalScores         map[string]int
	ScoresSaved         bool

	Game *GameState
}

func NewRoom(code, creatorID string, now time.Time) *Room {
	return &Room{
		Code:                code,
		CreatorID:           creatorID,
		CreatedAt:           now,
		Participants:        make([]string, 0),
		Connections:         make(map[string]int),
		Cameras:             make(map[string]*CameraStatus),
		Messages:            make([]ChatMessage, 0),
		Config:              GameConfig{Duration: DefaultDuration},
		CreatorParticipated: true,
		FinalScores:         make(map[string]int),
	}
}

func (r *Room) HasParticipant(identity string) bool {
	for _, p := range r.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// Ongoing reports whether a game is currently being played.
func (r *Room) Ongoing() bool {
	return r.Game != nil && r.Game.Phase == PhaseOngoing
}

// EnsureGame lazily creates the room's game state in the idle phase.
func (r *Room) EnsureGame() *GameState {
	if r.Game == nil {
		r.Game = &GameState{Phase: PhaseIdle}
	}
	return r.Game
}

func (r *Room) IsCreator(identity string) bool {
	return identity != "" && identity == r.CreatorID
}
