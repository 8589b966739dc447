package interfaces

import "cardtable/pkg/types"

// TokenVerifier turns a bearer token into the user id it was issued for.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Broadcaster delivers an outbound event to every live connection of each
// recipient. Implementations must not block on slow clients.
type Broadcaster interface {
	Publish(recipients []string, event *types.Event) error
}
