// Package lobby holds the in-memory lobby state machine: creation, joining,
// readiness and departure, with events published to the affected members.
package lobby

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

const maxIDAttempts = 10

// Config tunes a Registry.
type Config struct {
	MaxMembers int `json:"max_members"`
}

func DefaultConfig() Config {
	return Config{MaxMembers: DefaultMaxMembers}
}

// Registry owns every live lobby.
//
// Locks are always taken lobby first, registry second. Events for a lobby are
// published while its lock is held, so members observe them in mutation order.
type Registry struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby

	maxMembers  int
	broadcaster interfaces.Broadcaster
	log         *logrus.Entry
	newID       func() string

	// OnCountChange, if set, receives the lobby count after every create or delete.
	OnCountChange func(count int)
}

func NewRegistry(cfg Config, broadcaster interfaces.Broadcaster, log *logrus.Entry) *Registry {
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = DefaultMaxMembers
	}
	return &Registry{
		lobbies:     make(map[string]*Lobby),
		maxMembers:  cfg.MaxMembers,
		broadcaster: broadcaster,
		log:         log,
		newID:       shortID,
	}
}

func shortID() string {
	return uuid.New().String()[:8]
}

// Create opens a new waiting lobby hosted by hostID.
func (r *Registry) Create(hostID string) (types.LobbyInfo, error) {
	if hostID == "" {
		return types.LobbyInfo{}, apperror.Unauthenticated("user not authenticated")
	}

	r.mu.Lock()
	id := ""
	for i := 0; i < maxIDAttempts; i++ {
		candidate := r.newID()
		if _, taken := r.lobbies[candidate]; !taken {
			id = candidate
			break
		}
	}
	if id == "" {
		r.mu.Unlock()
		return types.LobbyInfo{}, apperror.New(apperror.KindInternal, "could not allocate lobby id")
	}

	l := newLobby(id, hostID)
	// l is not yet visible to anyone else, so taking its lock under the
	// registry lock cannot invert the lock order.
	l.mu.Lock()
	r.lobbies[id] = l
	count := len(r.lobbies)
	r.mu.Unlock()

	info := l.info()
	r.publish(l, []string{hostID}, &types.Event{
		Name: types.EventLobbyCreated,
		Data: map[string]interface{}{"lobby_id": id, "host_id": hostID},
	})
	l.mu.Unlock()

	r.countChanged(count)
	r.log.WithFields(logrus.Fields{"lobby_id": id, "host_id": hostID}).Info("lobby created")
	return info, nil
}

// Join adds userID to the lobby. Joining a lobby one is already in returns
// the current snapshot without publishing anything.
func (r *Registry) Join(lobbyID, userID string) (types.LobbyInfo, error) {
	if userID == "" {
		return types.LobbyInfo{}, apperror.Unauthenticated("user not authenticated")
	}
	if lobbyID == "" {
		return types.LobbyInfo{}, apperror.BadRequest(types.ErrMissingLobbyID.Error())
	}

	l := r.lookup(lobbyID)
	if l == nil {
		return types.LobbyInfo{}, apperror.NotFound("lobby not found")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.removed:
		return types.LobbyInfo{}, apperror.NotFound("lobby not found")
	case l.isMember(userID):
		return l.info(), nil
	case l.status == types.LobbyStatusStarting:
		return types.LobbyInfo{}, apperror.New(apperror.KindLobbyStarted, "lobby already starting")
	case len(l.members) >= r.maxMembers:
		return types.LobbyInfo{}, apperror.New(apperror.KindLobbyFull, "lobby is full")
	}

	l.members = append(l.members, userID)
	l.ready[userID] = false
	info := l.info()

	r.publish(l, info.Players, &types.Event{
		Name: types.EventPlayerJoined,
		Data: map[string]interface{}{
			"user_id": userID,
			"lobby_info": map[string]interface{}{
				"players": info.Players,
				"host_id": info.HostID,
				"status":  info.Status,
			},
		},
	})
	r.log.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": userID, "members": len(info.Players)}).Info("player joined lobby")
	return info, nil
}

// SetReady marks userID ready. Unknown lobbies and non-members are ignored.
// When the last member becomes ready the lobby moves to starting and a single
// game_starting event goes out.
func (r *Registry) SetReady(lobbyID, userID string) {
	l := r.lookup(lobbyID)
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.removed || !l.isMember(userID) || l.status == types.LobbyStatusStarting {
		return
	}
	l.ready[userID] = true
	r.startIfReady(l)
}

// startIfReady moves a waiting lobby whose members are all ready to starting
// and emits game_starting. Must be called with l.mu held.
func (r *Registry) startIfReady(l *Lobby) {
	if l.status != types.LobbyStatusWaiting || !l.allReady() {
		return
	}

	l.status = types.LobbyStatusStarting
	players := l.info().Players
	r.publish(l, players, &types.Event{
		Name: types.EventGameStarting,
		Data: map[string]interface{}{"lobby_id": l.id, "players": players},
	})
	r.log.WithFields(logrus.Fields{"lobby_id": l.id, "players": len(players)}).Info("lobby starting")
}

// Leave removes userID from the lobby, deleting the lobby once it is empty.
// It reports whether anything changed.
func (r *Registry) Leave(lobbyID, userID string) bool {
	l := r.lookup(lobbyID)
	if l == nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.removed || !l.remove(userID) {
		return false
	}

	if len(l.members) == 0 {
		l.removed = true
		r.mu.Lock()
		delete(r.lobbies, lobbyID)
		count := len(r.lobbies)
		r.mu.Unlock()

		r.countChanged(count)
		r.log.WithField("lobby_id", lobbyID).Info("lobby removed")
		return true
	}

	remaining := l.info().Players
	r.publish(l, remaining, &types.Event{
		Name: types.EventPlayerLeft,
		Data: map[string]interface{}{"user_id": userID, "new_host_id": l.hostID},
	})
	r.log.WithFields(logrus.Fields{"lobby_id": lobbyID, "user_id": userID, "host_id": l.hostID}).Info("player left lobby")

	// The member who left may have been the only one not ready.
	r.startIfReady(l)
	return true
}

// LeaveAll removes userID from every lobby it belongs to and returns how many
// lobbies it left.
func (r *Registry) LeaveAll(userID string) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.lobbies))
	for id := range r.lobbies {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	left := 0
	for _, id := range ids {
		if r.Leave(id, userID) {
			left++
		}
	}
	return left
}

// Get returns a snapshot of the lobby.
func (r *Registry) Get(lobbyID string) (types.LobbyInfo, error) {
	l := r.lookup(lobbyID)
	if l == nil {
		return types.LobbyInfo{}, apperror.NotFound("lobby not found")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return types.LobbyInfo{}, apperror.NotFound("lobby not found")
	}
	return l.info(), nil
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobbies)
}

func (r *Registry) lookup(lobbyID string) *Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lobbies[lobbyID]
}

// publish must be called with l.mu held. Delivery failures are logged; the
// state change they describe has already happened.
func (r *Registry) publish(l *Lobby, recipients []string, event *types.Event) {
	if r.broadcaster == nil || len(recipients) == 0 {
		return
	}
	if err := r.broadcaster.Publish(recipients, event); err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"lobby_id": l.id,
			"event":    event.Name,
		}).Warn("failed to publish lobby event")
	}
}

func (r *Registry) countChanged(count int) {
	if r.OnCountChange != nil {
		r.OnCountChange(count)
	}
}
