// Package coordinator owns every room and applies inbound events to them
// one at a time. Room, presence, session and score state is only touched
// from the goroutine running Run; everything else talks to it through the
// inbox and waits for the handler to finish.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signroom/internal/db"
	"signroom/internal/metrics"
	"signroom/internal/presence"
	"signroom/internal/rooms"
	"signroom/internal/scores"
	"signroom/internal/session"

	"github.com/rs/zerolog/log"
)

const component = "coordinator"

var (
	ErrGameOngoing = errors.New("game already in progress")
	ErrNoIdentity  = errors.New("no user identity")
	ErrStopped     = errors.New("coordinator stopped")
)

// Emitter delivers events to connections and tracks room membership on the
// transport side.
type Emitter interface {
	Join(connID, room string)
	Leave(connID string)
	CloseRoom(room string)
	Emit(room, event string, payload any)
	EmitTo(connID, event string, payload any)
	EmitExcept(room, exceptID, event string, payload any)
}

// Store is the persistence the coordinator needs.
type Store interface {
	session.Store
	scores.Store
	GetUserByID(ctx context.Context, id string) (db.User, error)
}

// ModelState reports whether the gesture model is loaded.
type ModelState interface {
	Loaded() bool
}

// Conn is one authenticated connection as seen by the coordinator.
type Conn struct {
	ID       string
	UserID   string
	Username string

	// room and name are set by join_room.
	room string
	name string
}

// RoomInfo is a read-only snapshot of a room.
type RoomInfo struct {
	Code         string    `json:"code"`
	Members      int       `json:"members"`
	Participants []string  `json:"participants"`
	Ongoing      bool      `json:"ongoing"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Coordinator struct {
	registry *rooms.Registry
	scores   *scores.Aggregator
	session  *session.Machine
	store    Store
	hub      Emitter
	model    ModelState
	metrics  *metrics.Metrics

	conns    map[string]*Conn
	handlers map[string]handler

	staleTTL   time.Duration
	sweepEvery time.Duration

	inbox chan func(context.Context)
	done  chan struct{}
}

type Option func(*Coordinator)

func WithRegistry(r *rooms.Registry) Option {
	return func(c *Coordinator) { c.registry = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithStaleSweep removes rooms nobody joined within ttl, checking every interval.
func WithStaleSweep(ttl, interval time.Duration) Option {
	return func(c *Coordinator) {
		c.staleTTL = ttl
		c.sweepEvery = interval
	}
}

func New(store Store, hub Emitter, model ModelState, opts ...Option) *Coordinator {
	agg := scores.New(store)
	c := &Coordinator{
		registry: rooms.NewRegistry(),
		scores:   agg,
		session:  session.NewMachine(store, agg),
		store:    store,
		hub:      hub,
		model:    model,
		conns:    make(map[string]*Conn),
		inbox:    make(chan func(context.Context)),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.handlers = c.routes()
	return c
}

// Run processes the inbox until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)

	var sweep <-chan time.Time
	if c.staleTTL > 0 && c.sweepEvery > 0 {
		ticker := time.NewTicker(c.sweepEvery)
		defer ticker.Stop()
		sweep = ticker.C
	}

	log.Info().Str("component", component).Msg("coordinator started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", component).Msg("coordinator stopped")
			return
		case task := <-c.inbox:
			task(ctx)
		case <-sweep:
			c.sweepStale()
		}
	}
}

// do runs fn on the coordinator goroutine and waits for it to return.
func (c *Coordinator) do(ctx context.Context, fn func(context.Context)) error {
	finished := make(chan struct{})
	task := func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	}
	select {
	case c.inbox <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// CreateRoom registers a new room owned by creatorID and returns its code.
func (c *Coordinator) CreateRoom(ctx context.Context, creatorID string) (string, error) {
	if creatorID == "" {
		return "", ErrNoIdentity
	}
	var (
		code string
		err  error
	)
	if doErr := c.do(ctx, func(context.Context) {
		var room *rooms.Room
		room, err = c.registry.Create(creatorID)
		if err != nil {
			return
		}
		code = room.Code
		c.metrics.SetRooms(c.registry.Len())
		log.Info().Str("component", component).Str("room", code).Str("creator", creatorID).Msg("room created")
	}); doErr != nil {
		return "", doErr
	}
	if err != nil {
		return "", fmt.Errorf("creating room: %w", err)
	}
	return code, nil
}

// RoomInfo returns a snapshot of the room, or false when it does not exist.
func (c *Coordinator) RoomInfo(ctx context.Context, code string) (RoomInfo, bool, error) {
	var (
		info  RoomInfo
		found bool
	)
	err := c.do(ctx, func(context.Context) {
		room := c.registry.Get(code)
		if room == nil {
			return
		}
		found = true
		info = snapshot(room)
	})
	return info, found, err
}

func snapshot(room *rooms.Room) RoomInfo {
	return RoomInfo{
		Code:         room.Code,
		Members:      room.Members,
		Participants: presence.Participants(room),
		Ongoing:      room.Ongoing(),
		CreatedAt:    room.CreatedAt,
	}
}

// Rooms lists every active room, oldest first.
func (c *Coordinator) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var list []RoomInfo
	err := c.do(ctx, func(context.Context) {
		for _, room := range c.registry.List() {
			list = append(list, snapshot(room))
		}
	})
	return list, err
}

// Connect admits a connection. It fails when the user is unknown or when
// roomCode names a room with a game in progress.
func (c *Coordinator) Connect(ctx context.Context, conn Conn, roomCode string) error {
	if conn.UserID == "" {
		return ErrNoIdentity
	}
	var err error
	if doErr := c.do(ctx, func(loopCtx context.Context) {
		user, lookupErr := c.store.GetUserByID(loopCtx, conn.UserID)
		if lookupErr != nil {
			err = fmt.Errorf("resolving user %s: %w", conn.UserID, lookupErr)
			return
		}
		if conn.Username == "" {
			conn.Username = user.Username
		}
		if room := c.registry.Get(normalizeCode(roomCode)); room != nil && room.Ongoing() {
			err = ErrGameOngoing
			return
		}
		c.conns[conn.ID] = &conn
		log.Debug().Str("component", component).Str("conn", conn.ID).Str("user", conn.UserID).Msg("connected")
	}); doErr != nil {
		return doErr
	}
	return err
}

// Disconnect performs the same cleanup as leaving the room, and tears the
// room down when the connection belonged to its creator.
func (c *Coordinator) Disconnect(ctx context.Context, connID string) error {
	return c.do(ctx, func(loopCtx context.Context) {
		conn, ok := c.conns[connID]
		if !ok {
			return
		}
		delete(c.conns, connID)
		c.disconnect(loopCtx, conn)
	})
}

func (c *Coordinator) sweepStale() {
	for _, code := range c.registry.SweepStale(c.staleTTL) {
		c.hub.CloseRoom(code)
		log.Info().Str("component", component).Str("room", code).Msg("removed stale room")
	}
	c.metrics.SetRooms(c.registry.Len())
}
