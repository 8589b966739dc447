package interfaces

// Connection is a live real-time client connection.
// WriteJSON must be safe for concurrent use.
type Connection interface {
	WriteJSON(v interface{}) error
	Close() error

	// ID is unique per physical connection; a reconnect gets a new one.
	ID() string
	UserID() string
}
