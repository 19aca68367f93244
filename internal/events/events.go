// Package events defines the real-time wire protocol: the envelope every
// frame travels in, the event names and their payloads.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"signroom/internal/rooms"
)

// Inbound event names.
const (
	JoinRoom             = "join_room"
	CameraReady          = "camera_ready"
	CameraStopped        = "camera_stopped"
	SetGameTypeAndTime   = "set_game_type_and_time"
	StartGame            = "start_game"
	StartActualGame      = "start_actual_game"
	EndGame              = "end_game"
	ScoreUpdate          = "score_update"
	RoomCreatorLeaving   = "room_creator_leaving"
	Message              = "message"
	CreatorParticipation = "creator_participation"
	SetLearningMaterial  = "set_learning_material"
	ProcessLandmarks     = "process_landmarks"
)

// Outbound event names. Message is shared with the inbound chat event.
const (
	ParticipantsUpdated  = "participants_updated"
	Status               = "status"
	CameraStatusUpdate   = "camera_status_update"
	AllCamerasReady      = "all_cameras_ready"
	WaitingForCameras    = "waiting_for_cameras"
	GameTypeSet          = "game_type_set"
	StartGameCountdown   = "start_game_countdown"
	StartGameSignal      = "start_game_signal"
	LeaderboardUpdate    = "leaderboard_update"
	RoomDeletedByCreator = "room_deleted_by_creator"
	Error                = "error"
	PredictionResult     = "prediction_result"
	ConnectionDenied     = "connection_denied"
)

var ErrMissingEvent = errors.New("frame has no event name")

// Envelope is one frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload in an envelope. A nil payload produces a frame
// without data.
func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// Bind unmarshals the envelope data into v. Missing or null data leaves v
// at its zero value.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Event, err)
	}
	return nil
}

// Inbound payloads.

type JoinRoomData struct {
	Room string `json:"room"`
	Name string `json:"name"`
}

type GameTypeData struct {
	Type          string `json:"type"`
	Duration      int    `json:"duration"`
	GamemodeIndex *int   `json:"gamemodeIndex"`
}

type EndGameData struct {
	FinalScore *int `json:"finalScore,omitempty"`
}

// UnmarshalJSON accepts any JSON number as the final score and rounds it
// to the nearest integer.
func (d *EndGameData) UnmarshalJSON(b []byte) error {
	var raw struct {
		FinalScore *float64 `json:"finalScore"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.FinalScore = nil
	if raw.FinalScore != nil {
		score := int(math.Round(*raw.FinalScore))
		d.FinalScore = &score
	}
	return nil
}

type ScoreUpdateData struct {
	Score int `json:"score"`
}

type ChatData struct {
	Room string `json:"room"`
	Name string `json:"name"`
	Data string `json:"data"`
}

type CreatorParticipationData struct {
	Participates *bool `json:"participates"`
}

type LearningMaterialData struct {
	LearningMaterial string `json:"learningMaterial"`
}

type LandmarksData struct {
	Landmarks json.RawMessage `json:"landmarks"`
}

// Outbound payloads.

type Participant struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	ProfilePicture *string `json:"profilePicture"`
}

type ParticipantsData struct {
	Participants []Participant `json:"participants"`
}

type StatusData struct {
	Message     string `json:"message"`
	ModelLoaded bool   `json:"modelLoaded"`
}

type CameraStatusData struct {
	Total int                           `json:"total"`
	Ready int                           `json:"ready"`
	Users map[string]rooms.CameraStatus `json:"users"`
}

type WaitingData struct {
	Ready int `json:"ready"`
	Total int `json:"total"`
}

type LeaderboardData struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

type MessageData struct {
	Message string `json:"message"`
}

type DeniedData struct {
	Reason string `json:"reason"`
}
