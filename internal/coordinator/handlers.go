package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"signroom/internal/events"
	"signroom/internal/presence"
	"signroom/internal/rooms"
	"signroom/internal/session"

	"github.com/rs/zerolog/log"
)

const (
	enteredMessage = "has entered the room"
	leftMessage    = "has left the room"
	statusMessage  = "Connected - Server processing"
	inProgress     = "Game already in progress"
	startFailed    = "Could not start the game. Please try again."
)

type handler func(ctx context.Context, conn *Conn, env events.Envelope) error

// Dispatch applies one inbound event from connID and waits for it to finish.
// Events from unknown connections are dropped.
func (c *Coordinator) Dispatch(ctx context.Context, connID string, env events.Envelope) error {
	return c.do(ctx, func(loopCtx context.Context) {
		conn, ok := c.conns[connID]
		if !ok {
			return
		}
		c.dispatch(loopCtx, conn, env)
	})
}

func (c *Coordinator) routes() map[string]handler {
	return map[string]handler{
		events.JoinRoom:             c.handleJoin,
		events.CameraReady:          c.handleCamera(true),
		events.CameraStopped:        c.handleCamera(false),
		events.SetGameTypeAndTime:   c.handleGameType,
		events.StartGame:            c.handleStartGame,
		events.StartActualGame:      c.handleStartActualGame,
		events.EndGame:              c.handleEndGame,
		events.ScoreUpdate:          c.handleScoreUpdate,
		events.RoomCreatorLeaving:   c.handleCreatorLeaving,
		events.Message:              c.handleMessage,
		events.CreatorParticipation: c.handleCreatorParticipation,
		events.SetLearningMaterial:  c.handleLearningMaterial,
	}
}

func (c *Coordinator) dispatch(ctx context.Context, conn *Conn, env events.Envelope) {
	h, ok := c.handlers[env.Event]
	if !ok {
		log.Debug().Str("component", component).Str("event", env.Event).Msg("unhandled event")
		return
	}
	c.metrics.Event(env.Event)
	if err := h(ctx, conn, env); err != nil {
		log.Warn().Str("component", component).Str("event", env.Event).Str("conn", conn.ID).Err(err).Msg("event rejected")
	}
}

// currentRoom resolves the room the connection joined. A missing room is an
// expected race with a teardown and is only logged.
func (c *Coordinator) currentRoom(conn *Conn, event string) *rooms.Room {
	if conn.room == "" {
		return nil
	}
	room := c.registry.Get(conn.room)
	if room == nil {
		log.Debug().Str("component", component).Str("room", conn.room).Str("event", event).Msg("room not found")
	}
	return room
}

func (c *Coordinator) handleJoin(ctx context.Context, conn *Conn, env events.Envelope) error {
	var data events.JoinRoomData
	if err := env.Bind(&data); err != nil {
		return err
	}
	code := normalizeCode(data.Room)
	room := c.registry.Get(code)
	if room == nil {
		log.Debug().Str("component", component).Str("room", code).Msg("join for unknown room")
		return nil
	}
	if conn.room == room.Code {
		return nil
	}
	if room.Ongoing() {
		c.hub.EmitTo(conn.ID, events.Error, events.MessageData{Message: inProgress})
		return nil
	}
	if conn.room != "" {
		if previous := c.registry.Get(conn.room); previous != nil {
			if previous.IsCreator(conn.UserID) {
				c.closeByCreator(previous, conn, conn.ID)
			} else {
				c.leave(ctx, conn, previous)
			}
		}
	}

	name := data.Name
	if name == "" {
		name = conn.Username
	}
	conn.room = room.Code
	conn.name = name

	presence.Join(room, conn.UserID, name)
	c.hub.Join(conn.ID, room.Code)

	c.broadcastParticipants(ctx, room)
	c.hub.Emit(room.Code, events.Message, rooms.ChatMessage{Name: name, Message: enteredMessage})
	c.broadcastReadiness(room)
	c.hub.EmitTo(conn.ID, events.Status, events.StatusData{
		Message:     statusMessage,
		ModelLoaded: c.model != nil && c.model.Loaded(),
	})
	if room.Config.GameType != "" {
		c.hub.EmitTo(conn.ID, events.GameTypeSet, gameTypeData(room.Config))
	}

	log.Info().Str("component", component).Str("room", room.Code).Str("user", conn.UserID).Msg("joined room")
	return nil
}

func (c *Coordinator) handleCamera(ready bool) handler {
	return func(ctx context.Context, conn *Conn, env events.Envelope) error {
		room := c.currentRoom(conn, env.Event)
		if room == nil {
			return nil
		}
		if !presence.SetCameraReady(room, conn.UserID, ready) {
			return nil
		}
		c.broadcastReadiness(room)
		return nil
	}
}

func (c *Coordinator) handleGameType(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	var data events.GameTypeData
	if err := env.Bind(&data); err != nil {
		return err
	}
	cfg := c.session.Configure(room, data.Type, data.Duration, data.GamemodeIndex)
	c.hub.Emit(room.Code, events.GameTypeSet, gameTypeData(cfg))
	return nil
}

func (c *Coordinator) handleStartGame(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	instance, err := c.session.RequestStart(ctx, room, conn.UserID)
	if err != nil {
		var notReady *session.NotReadyError
		switch {
		case errors.As(err, &notReady):
			c.hub.EmitTo(conn.ID, events.Error, events.MessageData{Message: notReady.Error()})
		case errors.Is(err, session.ErrGameInProgress):
			c.hub.EmitTo(conn.ID, events.Error, events.MessageData{Message: inProgress})
		default:
			log.Error().Str("component", component).Str("room", room.Code).Err(err).Msg("failed to persist game instance")
			c.hub.EmitTo(conn.ID, events.Error, events.MessageData{Message: startFailed})
		}
		return nil
	}

	c.metrics.GameStarted()
	log.Info().Str("component", component).Str("room", room.Code).Str("instance", instance.ID).
		Int("participants", instance.TotalParticipants).Msg("game started")
	c.hub.Emit(room.Code, events.StartGameCountdown, nil)
	return nil
}

func (c *Coordinator) handleStartActualGame(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	if err := c.session.ConfirmStart(room); err != nil {
		return err
	}
	c.hub.Emit(room.Code, events.StartGameSignal, nil)
	return nil
}

func (c *Coordinator) handleEndGame(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	// A malformed payload still ends the game, without a score.
	var data events.EndGameData
	if err := env.Bind(&data); err != nil {
		log.Warn().Str("component", component).Str("room", room.Code).Str("conn", conn.ID).Err(err).Msg("end_game payload ignored")
		data = events.EndGameData{}
	}
	flushed, err := c.session.EndGame(ctx, room, conn.UserID, data.FinalScore)
	if errors.Is(err, session.ErrNoGame) {
		return err
	}
	c.afterFlush(room, flushed, err)
	return nil
}

func (c *Coordinator) handleScoreUpdate(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	var data events.ScoreUpdateData
	if err := env.Bind(&data); err != nil {
		return err
	}
	username := conn.Username
	if username == "" {
		username = "Unknown"
	}
	c.hub.Emit(room.Code, events.LeaderboardUpdate, events.LeaderboardData{Username: username, Score: data.Score})
	return nil
}

// handleCreatorLeaving closes the room ahead of the creator's disconnect.
// Requests from anyone but the creator are ignored.
func (c *Coordinator) handleCreatorLeaving(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil || !room.IsCreator(conn.UserID) {
		return nil
	}
	msg := fmt.Sprintf("The room creator %q has left. Room is now closed.", conn.name)
	c.hub.EmitExcept(room.Code, conn.ID, events.RoomDeletedByCreator, events.MessageData{Message: msg})
	c.destroyRoom(room.Code)
	return nil
}

func (c *Coordinator) handleMessage(ctx context.Context, conn *Conn, env events.Envelope) error {
	var data events.ChatData
	if err := env.Bind(&data); err != nil {
		return err
	}
	code := normalizeCode(data.Room)
	if code == "" {
		code = conn.room
	}
	if code != conn.room {
		return nil
	}
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	name := data.Name
	if name == "" {
		name = conn.name
	}
	msg := rooms.ChatMessage{Name: name, Message: data.Data}
	room.Messages = append(room.Messages, msg)
	c.hub.Emit(room.Code, events.Message, msg)
	return nil
}

func (c *Coordinator) handleCreatorParticipation(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil || !room.IsCreator(conn.UserID) {
		return nil
	}
	var data events.CreatorParticipationData
	if err := env.Bind(&data); err != nil {
		return err
	}
	room.CreatorParticipated = data.Participates == nil || *data.Participates
	return nil
}

func (c *Coordinator) handleLearningMaterial(ctx context.Context, conn *Conn, env events.Envelope) error {
	room := c.currentRoom(conn, env.Event)
	if room == nil {
		return nil
	}
	var data events.LearningMaterialData
	if err := env.Bind(&data); err != nil {
		return err
	}
	room.LearningMaterial = data.LearningMaterial
	return nil
}

func (c *Coordinator) disconnect(ctx context.Context, conn *Conn) {
	room := c.currentRoom(conn, "disconnect")
	if room == nil {
		return
	}
	if room.IsCreator(conn.UserID) {
		c.closeByCreator(room, conn, "")
		return
	}
	c.leave(ctx, conn, room)
}

// closeByCreator tears room down after its creator left it, either by
// disconnecting or by joining another room. exceptID is skipped.
func (c *Coordinator) closeByCreator(room *rooms.Room, conn *Conn, exceptID string) {
	msg := fmt.Sprintf("Room has been closed by creator %s", conn.name)
	c.hub.EmitExcept(room.Code, exceptID, events.RoomDeletedByCreator, events.MessageData{Message: msg})
	c.destroyRoom(room.Code)
	log.Info().Str("component", component).Str("room", room.Code).Msg("room closed by creator")
}

// leave drops the connection from room. When it was the identity's last
// connection, a pending score flush is retried without it. The room is
// destroyed once nobody is left.
func (c *Coordinator) leave(ctx context.Context, conn *Conn, room *rooms.Room) {
	gone, empty := presence.Leave(room, conn.UserID)
	c.hub.Leave(conn.ID)
	conn.room = ""

	if gone && room.Game != nil && room.Game.InstanceID != "" && !room.ScoresSaved {
		c.scores.Forget(room, conn.UserID)
		flushed, err := c.scores.TryFlush(ctx, room)
		c.afterFlush(room, flushed, err)
	}

	c.broadcastParticipants(ctx, room)
	c.broadcastReadiness(room)
	if gone {
		c.hub.Emit(room.Code, events.Message, rooms.ChatMessage{Name: conn.name, Message: leftMessage})
	}

	if empty {
		c.destroyRoom(room.Code)
	}
	log.Info().Str("component", component).Str("room", room.Code).Str("user", conn.UserID).Msg("left room")
}

func (c *Coordinator) afterFlush(room *rooms.Room, flushed bool, err error) {
	switch {
	case err != nil:
		c.metrics.ScoreFlushFailed()
		log.Error().Str("component", component).Str("room", room.Code).Err(err).Msg("score flush failed")
	case flushed:
		c.metrics.ScoresFlushed()
		log.Info().Str("component", component).Str("room", room.Code).Msg("scores saved")
	}
}

func (c *Coordinator) destroyRoom(code string) {
	c.hub.CloseRoom(code)
	c.registry.Destroy(code)
	for _, conn := range c.conns {
		if conn.room == code {
			conn.room = ""
		}
	}
	c.metrics.SetRooms(c.registry.Len())
}

func (c *Coordinator) broadcastParticipants(ctx context.Context, room *rooms.Room) {
	list := make([]events.Participant, 0, len(room.Participants))
	for _, id := range room.Participants {
		p := events.Participant{ID: id}
		if status, ok := room.Cameras[id]; ok {
			p.Username = status.Username
		}
		user, err := c.store.GetUserByID(ctx, id)
		if err != nil {
			log.Debug().Str("component", component).Str("user", id).Err(err).Msg("profile lookup failed")
		} else {
			p.ProfilePicture = user.ProfilePicture
			if p.Username == "" {
				p.Username = user.Username
			}
		}
		list = append(list, p)
	}
	c.hub.Emit(room.Code, events.ParticipantsUpdated, events.ParticipantsData{Participants: list})
}

func (c *Coordinator) broadcastReadiness(room *rooms.Room) {
	r := presence.Check(room)
	c.hub.Emit(room.Code, events.CameraStatusUpdate, events.CameraStatusData{Total: r.Total, Ready: r.Ready, Users: r.Users})
	if r.AllReady() {
		c.hub.Emit(room.Code, events.AllCamerasReady, nil)
		return
	}
	c.hub.Emit(room.Code, events.WaitingForCameras, events.WaitingData{Ready: r.Ready, Total: r.Total})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func gameTypeData(cfg rooms.GameConfig) events.GameTypeData {
	return events.GameTypeData{Type: cfg.GameType, Duration: cfg.Duration, GamemodeIndex: cfg.GamemodeIndex}
}
