package lobby

import (
	"sync"

	"cardtable/pkg/types"
)

// DefaultMaxMembers is the lobby capacity.
const DefaultMaxMembers = 4

// Lobby is one pre-game room. All fields are guarded by mu.
type Lobby struct {
	mu sync.Mutex

	id      string
	hostID  string
	members []string // insertion order
	ready   map[string]bool
	status  string
	removed bool
}

func newLobby(id, hostID string) *Lobby {
	return &Lobby{
		id:      id,
		hostID:  hostID,
		members: []string{hostID},
		ready:   map[string]bool{hostID: false},
		status:  types.LobbyStatusWaiting,
	}
}

func (l *Lobby) isMember(userID string) bool {
	_, ok := l.ready[userID]
	return ok
}

func (l *Lobby) allReady() bool {
	if len(l.members) == 0 {
		return false
	}
	for _, userID := range l.members {
		if !l.ready[userID] {
			return false
		}
	}
	return true
}

// remove drops userID and reassigns the host to the earliest remaining member
// when the host left. It reports whether the user was a member.
func (l *Lobby) remove(userID string) bool {
	if !l.isMember(userID) {
		return false
	}
	delete(l.ready, userID)
	for i, member := range l.members {
		if member == userID {
			l.members = append(l.members[:i], l.members[i+1:]...)
			break
		}
	}
	if l.hostID == userID && len(l.members) > 0 {
		l.hostID = l.members[0]
	}
	return true
}

// info must be called with mu held.
func (l *Lobby) info() types.LobbyInfo {
	players := make([]string, len(l.members))
	copy(players, l.members)

	ready := make([]string, 0, len(l.members))
	for _, userID := range l.members {
		if l.ready[userID] {
			ready = append(ready, userID)
		}
	}
	return types.LobbyInfo{
		ID:      l.id,
		HostID:  l.hostID,
		Players: players,
		Ready:   ready,
		Status:  l.status,
	}
}
