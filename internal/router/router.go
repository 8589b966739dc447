// Package router turns inbound lobby frames into lobby registry operations
// and owns the disconnect grace policy.
package router

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/internal/lobby"
	"cardtable/internal/resilience"
	"cardtable/internal/session"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

// DefaultDisconnectGrace is how long a user with no live connection keeps
// their lobby seats.
const DefaultDisconnectGrace = 30 * time.Second

// Config tunes the dispatcher.
type Config struct {
	RateLimit       int           `json:"rate_limit"`
	RateWindow      time.Duration `json:"rate_window"`
	DisconnectGrace time.Duration `json:"disconnect_grace"` // 0 leaves lobbies immediately
}

func DefaultConfig() Config {
	return Config{
		RateLimit:       DefaultRateLimit,
		RateWindow:      DefaultRateWindow,
		DisconnectGrace: DefaultDisconnectGrace,
	}
}

// Router dispatches decoded events for authenticated connections.
type Router struct {
	directory   *session.Directory
	lobbies     *lobby.Registry
	invoker     *resilience.Invoker
	rateLimiter *RateLimiter
	grace       time.Duration
	log         *logrus.Entry

	mu     sync.Mutex
	timers map[string]*time.Timer // userID -> pending LeaveAll
	closed bool
}

func NewRouter(directory *session.Directory, lobbies *lobby.Registry, invoker *resilience.Invoker, cfg Config, log *logrus.Entry) *Router {
	if cfg.DisconnectGrace < 0 {
		cfg.DisconnectGrace = 0
	}
	return &Router{
		directory:   directory,
		lobbies:     lobbies,
		invoker:     invoker,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		grace:       cfg.DisconnectGrace,
		log:         log,
		timers:      make(map[string]*time.Timer),
	}
}

// RateLimiter exposes the limiter so its cleanup loop can be supervised.
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// Dispatch handles one inbound frame. Failures are reported to conn as an
// error event and never close the connection.
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) {
	if err := r.route(ctx, conn, data); err != nil {
		log := r.log.WithFields(logrus.Fields{"conn_id": conn.ID(), "user_id": conn.UserID()})
		if apperror.IsClient(err) || apperror.Is(err, apperror.KindTooManyRequests) {
			log.WithError(err).Debug("event rejected")
		} else {
			log.WithError(err).Warn("event failed")
		}
		r.reply(conn, err)
	}
}

func (r *Router) route(ctx context.Context, conn interfaces.Connection, data []byte) error {
	var event types.Event
	if err := json.Unmarshal(data, &event); err != nil || event.Name == "" {
		return apperror.BadRequest(ErrInvalidFrame.Error())
	}

	userID, err := r.directory.Resolve(conn.ID())
	if err != nil {
		return apperror.Unauthenticated("user not authenticated")
	}

	if !types.IsLobbyEvent(event.Name) {
		return apperror.BadRequest(types.ErrUnknownEvent.Error())
	}
	if !r.rateLimiter.Allow(userID) {
		return apperror.New(apperror.KindTooManyRequests, ErrRateLimitExceeded.Error())
	}

	if event.Name == types.EventCreateLobby {
		return r.invoker.Do(ctx, func(context.Context) error {
			_, err := r.lobbies.Create(userID)
			return err
		})
	}

	lobbyID, err := lobbyIDFrom(event.Data)
	if err != nil {
		return err
	}

	return r.invoker.Do(ctx, func(context.Context) error {
		switch event.Name {
		case types.EventJoinLobby:
			_, err := r.lobbies.Join(lobbyID, userID)
			return err
		case types.EventPlayerReady:
			r.lobbies.SetReady(lobbyID, userID)
		case types.EventLeaveLobby:
			r.lobbies.Leave(lobbyID, userID)
		}
		return nil
	})
}

func lobbyIDFrom(data map[string]interface{}) (string, error) {
	raw, ok := data["lobby_id"]
	if !ok {
		return "", apperror.BadRequest(types.ErrMissingLobbyID.Error())
	}
	lobbyID, ok := raw.(string)
	if !ok || !types.IsValidLobbyID(lobbyID) {
		return "", apperror.BadRequest(types.ErrInvalidLobbyID.Error())
	}
	return lobbyID, nil
}

func (r *Router) reply(conn interfaces.Connection, err error) {
	event := &types.Event{
		Name: types.EventError,
		Data: map[string]interface{}{"message": apperror.PublicMessage(err)},
	}
	if werr := conn.WriteJSON(event); werr != nil {
		r.log.WithError(werr).WithField("conn_id", conn.ID()).Debug("failed to send error event")
	}
}

// Connected cancels a pending seat release for userID, if any.
func (r *Router) Connected(connID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[userID]
	if !ok {
		return
	}
	t.Stop()
	delete(r.timers, userID)
	r.log.WithFields(logrus.Fields{"conn_id": connID, "user_id": userID}).Debug("reconnected within grace period")
}

// Disconnected forgets the connection. Once the user has no live connection
// left, their lobby seats are released after the grace period unless they
// reconnect first.
func (r *Router) Disconnected(connID, userID string) {
	r.directory.Forget(connID)
	if userID == "" || r.directory.HasUser(userID) {
		return
	}

	if r.grace == 0 {
		r.releaseSeats(userID)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.timers[userID]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		if r.timers[userID] != timer {
			r.mu.Unlock()
			return
		}
		delete(r.timers, userID)
		r.mu.Unlock()

		if !r.directory.HasUser(userID) {
			r.releaseSeats(userID)
		}
	})
	r.timers[userID] = timer
}

func (r *Router) releaseSeats(userID string) {
	if n := r.lobbies.LeaveAll(userID); n > 0 {
		r.log.WithFields(logrus.Fields{"user_id": userID, "lobbies": n}).Info("released lobby seats after disconnect")
	}
}

// PendingReleases reports how many users are inside their grace period.
func (r *Router) PendingReleases() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every pending grace timer.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for userID, t := range r.timers {
		t.Stop()
		delete(r.timers, userID)
	}
}
