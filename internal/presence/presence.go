// Package presence tracks who is connected to a room and whether their
// camera is ready. Functions mutate the room in place and are meant to be
// called from the coordinator goroutine only.
package presence

import (
	"slices"

	"signroom/internal/rooms"
)

// Readiness is the camera barrier computed from a room's camera map.
type Readiness struct {
	Total int
	Ready int
	Users map[string]rooms.CameraStatus
}

// AllReady holds when every tracked camera is ready. An empty room is never ready.
func (r Readiness) AllReady() bool {
	return r.Total > 0 && r.Ready == r.Total
}

// Join registers a connection for identity. The member count grows per
// connection; the identity and its camera entry are added by its first
// connection only, so a second tab keeps the camera state.
func Join(room *rooms.Room, identity, displayName string) {
	if room.Connections[identity] == 0 {
		if !room.HasParticipant(identity) {
			room.Participants = append(room.Participants, identity)
		}
		room.Cameras[identity] = &rooms.CameraStatus{Username: displayName}
	}
	room.Connections[identity]++
	room.Members++
}

// Leave drops one connection of identity. gone reports whether that was the
// identity's last connection, in which case it is no longer a participant.
// empty reports whether the room has no members left.
func Leave(room *rooms.Room, identity string) (gone, empty bool) {
	if n := room.Connections[identity]; n > 1 {
		room.Connections[identity] = n - 1
	} else {
		delete(room.Connections, identity)
		room.Participants = slices.DeleteFunc(room.Participants, func(p string) bool {
			return p == identity
		})
		delete(room.Cameras, identity)
		gone = true
	}
	if room.Members > 0 {
		room.Members--
	}
	return gone, room.Members == 0
}

// SetCameraReady updates the identity's camera flag. It returns false when
// the identity has no camera entry.
func SetCameraReady(room *rooms.Room, identity string, ready bool) bool {
	status, ok := room.Cameras[identity]
	if !ok {
		return false
	}
	status.CameraReady = ready
	return true
}

func Check(room *rooms.Room) Readiness {
	r := Readiness{Users: make(map[string]rooms.CameraStatus, len(room.Cameras))}
	for id, status := range room.Cameras {
		r.Total++
		if status.CameraReady {
			r.Ready++
		}
		r.Users[id] = *status
	}
	return r
}

// Participants returns a copy of the room's identities in join order.
func Participants(room *rooms.Room) []string {
	return slices.Clone(room.Participants)
}
