package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"cardtable/internal/apperror"
	"cardtable/pkg/interfaces"
)

// Directory maps live connection ids to authenticated user ids. It is the only
// owner of that mapping; lobbies and other state refer to users, never to
// connections.
type Directory struct {
	verifier interfaces.TokenVerifier
	log      *logrus.Entry

	mu          sync.RWMutex
	connections map[string]string              // connID -> userID
	byUser      map[string]map[string]struct{} // userID -> connIDs
}

func NewDirectory(verifier interfaces.TokenVerifier, log *logrus.Entry) *Directory {
	return &Directory{
		verifier:    verifier,
		log:         log,
		connections: make(map[string]string),
		byUser:      make(map[string]map[string]struct{}),
	}
}

// Authenticate verifies the bearer token and binds connID to its user.
func (d *Directory) Authenticate(connID, token string) (string, error) {
	if connID == "" {
		return "", ErrEmptyConnectionID
	}
	userID, err := d.verifier.Verify(token)
	if err != nil {
		if apperror.IsClient(err) {
			return "", err
		}
		return "", apperror.Wrap(err, apperror.KindUnauthenticated, "invalid token")
	}

	d.mu.Lock()
	if previous, ok := d.connections[connID]; ok && previous != userID {
		d.removeLocked(connID, previous)
	}
	d.connections[connID] = userID
	conns := d.byUser[userID]
	if conns == nil {
		conns = make(map[string]struct{})
		d.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{"conn_id": connID, "user_id": userID}).Debug("session authenticated")
	return userID, nil
}

// Resolve returns the user bound to connID.
func (d *Directory) Resolve(connID string) (string, error) {
	d.mu.RLock()
	userID, ok := d.connections[connID]
	d.mu.RUnlock()
	if !ok {
		return "", apperror.NotFound("session not found")
	}
	return userID, nil
}

// Forget drops connID and returns the user it belonged to, if any.
func (d *Directory) Forget(connID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	userID, ok := d.connections[connID]
	if !ok {
		return "", false
	}
	d.removeLocked(connID, userID)
	return userID, true
}

// HasUser reports whether userID still has at least one live connection.
func (d *Directory) HasUser(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser[userID]) > 0
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.connections)
}

func (d *Directory) removeLocked(connID, userID string) {
	delete(d.connections, connID)
	if conns, ok := d.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(d.byUser, userID)
		}
	}
}
