package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"signroom/internal/auth"
	"signroom/internal/classifier"
	"signroom/internal/config"
	"signroom/internal/coordinator"
	"signroom/internal/db"
	"signroom/internal/events"
	"signroom/internal/metrics"
	"signroom/internal/wshub"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Store is the persistence the HTTP surface reads directly.
type Store interface {
	coordinator.Store
	GetUserByUsername(ctx context.Context, username string) (db.User, error)
	ScoresForInstance(ctx context.Context, roomID string) (map[string]int, error)
	Ping(ctx context.Context) error
}

type Server struct {
	Coordinator *coordinator.Coordinator
	Hub         *wshub.Hub
	Auth        *auth.Verifier
	DB          Store
	Classifier  classifier.Classifier
	Metrics     *metrics.Metrics
	Config      config.Config
}

type createRoomResponse struct {
	Code string `json:"code"`
}

type resultsResponse struct {
	Code       string         `json:"code"`
	InstanceID string         `json:"instanceId"`
	GameType   string         `json:"gameType"`
	Scores     map[string]int `json:"scores"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Str("component", "server").Err(err).Msg("writing response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// identify resolves the caller from their token. Tokens carrying only a
// username are resolved to a user id through the users table.
func (s *Server) identify(r *http.Request) (auth.Identity, error) {
	id, err := s.Auth.FromRequest(r)
	if err != nil {
		return auth.Identity{}, err
	}
	if id.UserID == "" {
		user, err := s.DB.GetUserByUsername(r.Context(), id.Username)
		if err != nil {
			return auth.Identity{}, err
		}
		id.UserID = user.ID
	}
	return id, nil
}

func roomCode(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("code")))
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	code, err := s.Coordinator.CreateRoom(r.Context(), id.UserID)
	if err != nil {
		log.Error().Str("component", "server").Err(err).Msg("create room")
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{Code: code})
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	list, err := s.Coordinator.Rooms(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	if list == nil {
		list = []coordinator.RoomInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	info, found, err := s.Coordinator.RoomInfo(r.Context(), roomCode(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleResults returns the scores written for the room's latest game.
// It reads the database, so it still answers after the room is gone.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	code := roomCode(r)
	instance, err := s.DB.LatestGameInstance(r.Context(), code)
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no game for room")
		return
	}
	if err != nil {
		log.Error().Str("component", "server").Str("room", code).Err(err).Msg("latest game instance")
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}

	scores, err := s.DB.ScoresForInstance(r.Context(), instance.ID)
	if err != nil {
		log.Error().Str("component", "server").Str("room", code).Err(err).Msg("scores for instance")
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	writeJSON(w, http.StatusOK, resultsResponse{
		Code:       code,
		InstanceID: instance.ID,
		GameType:   instance.GameType,
		Scores:     scores,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id, err := s.identify(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	connID := uuid.NewString()
	room := strings.ToUpper(r.URL.Query().Get("room"))
	err = s.Coordinator.Connect(r.Context(), coordinator.Conn{ID: connID, UserID: id.UserID, Username: id.Username}, room)
	switch {
	case errors.Is(err, coordinator.ErrGameOngoing):
		s.deny(w, r, "Game already in progress")
		return
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		log.Error().Str("component", "server").Err(err).Msg("connect")
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.Config.AllowedOrigins})
	if err != nil {
		log.Warn().Str("component", "server").Err(err).Msg("websocket accept")
		s.Coordinator.Disconnect(context.Background(), connID)
		return
	}

	client := wshub.NewClient(connID, id.UserID, id.Username, conn, rate.Limit(s.Config.WSRateLimit), s.Config.WSRateBurst)
	s.Hub.Register(client)
	s.Metrics.ConnectionOpened()

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		if err := s.Coordinator.Disconnect(context.Background(), connID); err != nil {
			log.Warn().Str("component", "server").Str("conn", connID).Err(err).Msg("disconnect")
		}
		s.Hub.Unregister(connID)
		s.Metrics.ConnectionClosed()
		conn.CloseNow()
	}()

	go client.WritePump(ctx)
	err = client.ReadPump(ctx, func(env events.Envelope) {
		if env.Event == events.ProcessLandmarks {
			s.predict(ctx, connID, env)
			return
		}
		if err := s.Coordinator.Dispatch(ctx, connID, env); err != nil {
			log.Warn().Str("component", "server").Str("conn", connID).Err(err).Msg("dispatch")
		}
	})
	if err != nil {
		log.Debug().Str("component", "server").Str("conn", connID).Err(err).Msg("connection closed")
	}
}

// deny upgrades only to tell the client why it cannot stay.
func (s *Server) deny(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.Config.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	if frame, err := events.Encode(events.ConnectionDenied, events.DeniedData{Reason: reason}); err == nil {
		_ = conn.Write(r.Context(), websocket.MessageText, frame)
	}
	conn.Close(websocket.StatusPolicyViolation, reason)
}

// predict runs on the connection's read goroutine so a slow model never
// holds up the coordinator.
func (s *Server) predict(ctx context.Context, connID string, env events.Envelope) {
	s.Metrics.Event(env.Event)
	var data events.LandmarksData
	if err := env.Bind(&data); err != nil {
		s.Hub.EmitTo(connID, events.Error, events.MessageData{Message: err.Error()})
		return
	}
	result, err := s.Classifier.Predict(ctx, data.Landmarks)
	if errors.Is(err, classifier.ErrUnavailable) {
		s.Hub.EmitTo(connID, events.Error, events.MessageData{Message: "Detector not available"})
		return
	}
	if err != nil {
		log.Warn().Str("component", "server").Str("conn", connID).Err(err).Msg("prediction failed")
		s.Hub.EmitTo(connID, events.Error, events.MessageData{Message: "Prediction failed"})
		return
	}
	s.Hub.EmitTo(connID, events.PredictionResult, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db_error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
