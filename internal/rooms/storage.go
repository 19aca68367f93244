package rooms

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

const maxCodeAttempts = 10

var ErrCodeSpaceExhausted = errors.New("failed to generate unique room code")

type Option func(*Registry)

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.generate = gen }
}

// WithClock replaces time.Now for room timestamps and stale sweeps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry holds every active room keyed by code. It has no locking of its
// own: the coordinator goroutine is its only caller.
type Registry struct {
	rooms    map[string]*Room
	generate func() (string, error)
	now      func() time.Time
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*Room),
		generate: GenerateCode,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Create(creatorID string) (*Room, error) {
	for range maxCodeAttempts {
		code, err := r.generate()
		if err != nil {
			return nil, fmt.Errorf("generating room code: %w", err)
		}
		if _, exists := r.rooms[code]; exists {
			continue
		}

		room := NewRoom(code, creatorID, r.now())
		r.rooms[code] = room
		return room, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, maxCodeAttempts)
}

func (r *Registry) Get(code string) *Room {
	return r.rooms[code]
}

// Destroy removes the room. Unknown codes are ignored.
func (r *Registry) Destroy(code string) {
	delete(r.rooms, code)
}

// List returns the active rooms ordered by creation time.
func (r *Registry) List() []*Room {
	list := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		list = append(list, room)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func (r *Registry) Len() int {
	return len(r.rooms)
}

// SweepStale destroys rooms nobody has connected to within ttl of creation
// and returns their codes. Rooms with members are never swept.
func (r *Registry) SweepStale(ttl time.Duration) []string {
	now := r.now()
	var swept []string
	for code, room := range r.rooms {
		if room.Members == 0 && now.Sub(room.CreatedAt) > ttl {
			delete(r.rooms, code)
			swept = append(swept, code)
		}
	}
	sort.Strings(swept)
	return swept
}
