package resilience

import (
	"crypto/subtle"
	"sync"

	"cardtable/internal/apperror"
)

// GatewayTokenHeader carries the shared secret the API gateway adds to every
// forwarded request.
const GatewayTokenHeader = "X-Gateway-Token"

// GateConfig configures a RequestGate.
type GateConfig struct {
	Secret      string
	MaxInFlight int
}

func DefaultGateConfig(secret string) GateConfig {
	return GateConfig{Secret: secret, MaxInFlight: 100}
}

// RequestGate authenticates gateway traffic and caps concurrent requests.
// The in-flight count never exceeds MaxInFlight.
type RequestGate struct {
	secret []byte
	max    int

	mu       sync.Mutex
	inFlight int
}

func NewRequestGate(config GateConfig) *RequestGate {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 100
	}
	return &RequestGate{
		secret: []byte(config.Secret),
		max:    config.MaxInFlight,
	}
}

// Authenticate compares the presented credential with the shared secret in
// constant time.
func (g *RequestGate) Authenticate(credential string) error {
	if len(g.secret) == 0 || subtle.ConstantTimeCompare([]byte(credential), g.secret) != 1 {
		return apperror.Unauthenticated("invalid gateway token")
	}
	return nil
}

// Admit authenticates the credential and reserves an in-flight slot. The
// returned release func frees the slot; calling it more than once is a no-op.
func (g *RequestGate) Admit(credential string) (func(), error) {
	if err := g.Authenticate(credential); err != nil {
		return nil, err
	}
	return g.Acquire()
}

// Acquire reserves an in-flight slot without checking credentials.
func (g *RequestGate) Acquire() (func(), error) {
	g.mu.Lock()
	if g.inFlight >= g.max {
		g.mu.Unlock()
		return nil, apperror.New(apperror.KindTooManyRequests, "too many requests")
	}
	g.inFlight++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.inFlight--
			g.mu.Unlock()
		})
	}, nil
}

func (g *RequestGate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *RequestGate) Capacity() int {
	return g.max
}
