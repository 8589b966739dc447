// Package hub fans lobby events out to every live connection of each
// recipient user from a single goroutine.
package hub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"cardtable/internal/websocket"
	"cardtable/pkg/interfaces"
	"cardtable/pkg/types"
)

const outboundBufferSize = 1000

// Sink is one deliverable endpoint of a user.
type Sink interface {
	ID() string
	TrySendJSON(v interface{}) error
}

// LookupFunc returns the live sinks of a user.
type LookupFunc func(userID string) []Sink

// FromRegistry adapts a connection registry to a LookupFunc.
func FromRegistry(registry *websocket.Registry) LookupFunc {
	return func(userID string) []Sink {
		conns := registry.UserConnections(userID)
		sinks := make([]Sink, len(conns))
		for i, c := range conns {
			sinks[i] = c
		}
		return sinks
	}
}

type outbound struct {
	recipients []string
	event      *types.Event
}

// Hub implements interfaces.Broadcaster.
type Hub struct {
	outbound chan outbound
	shutdown chan struct{}
	done     chan struct{}

	lookup LookupFunc
	log    *logrus.Entry

	running bool
	mu      sync.RWMutex
}

func NewHub(lookup LookupFunc, log *logrus.Entry) *Hub {
	return &Hub{
		outbound: make(chan outbound, outboundBufferSize),
		lookup:   lookup,
		log:      log,
	}
}

func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.log.Info("starting event hub")
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop halts the hub after delivering whatever is already queued.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.log.Info("event hub stopped")
	return nil
}

// Publish queues event for recipients. It never blocks.
func (h *Hub) Publish(recipients []string, event *types.Event) error {
	if event == nil || len(recipients) == 0 {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	cp := make([]string, len(recipients))
	copy(cp, recipients)
	select {
	case h.outbound <- outbound{recipients: cp, event: event}:
		return nil
	default:
		return ErrOutboundChannelFull
	}
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case msg := <-h.outbound:
			h.deliver(msg)
		case <-shutdown:
			h.drain()
			return
		case <-ctx.Done():
			h.log.Debug("hub context canceled")
			h.mu.Lock()
			if h.shutdown == shutdown {
				h.running = false
			}
			h.mu.Unlock()
			h.drain()
			return
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case msg := <-h.outbound:
			h.deliver(msg)
		default:
			return
		}
	}
}

func (h *Hub) deliver(msg outbound) {
	for _, userID := range msg.recipients {
		for _, sink := range h.lookup(userID) {
			if err := sink.TrySendJSON(msg.event); err != nil {
				h.log.WithError(err).WithFields(logrus.Fields{
					"user_id": userID,
					"conn_id": sink.ID(),
					"event":   msg.event.Name,
				}).Warn("failed to deliver event")
			}
		}
	}
}

var _ interfaces.Broadcaster = (*Hub)(nil)
