package sse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/id"
)

const (
	queueSize         = 1000
	clientBufferSize  = 100
	heartbeatInterval = 30 * time.Second
)

// Client is one open event stream. PersonID narrows the stream to a single
// person's command events; 0 follows everything.
type Client struct {
	ConnectedAt time.Time
	EventChan   chan Event
	Done        chan struct{}
	ID          string
	PersonID    int
}

// wants reports whether the client subscribed to evt. Sync and heartbeat
// events reach every client.
func (c *Client) wants(evt Event) bool {
	if c.PersonID == 0 {
		return true
	}
	person, ok := personOf(evt)
	return !ok || person == c.PersonID
}

// Manager fans lifecycle events out to the open streams. It implements
// events.Emitter, so commands and the sync service publish through it
// directly.
type Manager struct {
	logger *slog.Logger
	queue  chan Event
	wg     sync.WaitGroup

	mu      sync.RWMutex
	clients map[string]*Client

	// closing guards queue: Emit sends under the read lock and Shutdown
	// closes under the write lock.
	closing sync.RWMutex
	closed  bool

	heartbeat time.Duration
}

// NewManager creates a Manager. Call Start to begin delivery.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:    logger,
		queue:     make(chan Event, queueSize),
		clients:   make(map[string]*Client),
		heartbeat: heartbeatInterval,
	}
}

// Start delivers queued events until ctx ends or the queue is closed.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	m.logger.Info("event stream started")
	for {
		select {
		case evt, ok := <-m.queue:
			if !ok {
				return
			}
			m.deliver(evt)
		case <-ticker.C:
			m.deliver(NewHeartbeatEvent())
		case <-ctx.Done():
			m.logger.Info("event stream stopping")
			m.disconnectAll()
			return
		}
	}
}

// Shutdown closes the queue, delivers what is left within ctx, then ends
// every stream. Later calls are no-ops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closing.Lock()
	if m.closed {
		m.closing.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.closing.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for evt := range m.queue {
			m.deliver(evt)
		}
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("event stream shutdown timed out, pending events lost")
	}

	m.wg.Wait()
	m.disconnectAll()
	m.logger.Info("event stream shut down")
	return nil
}

func (m *Manager) deliver(evt Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sent, skipped := 0, 0
	for _, c := range m.clients {
		if !c.wants(evt) {
			continue
		}
		select {
		case c.EventChan <- evt:
			sent++
		default:
			skipped++
			m.logger.Warn("client too slow, event dropped",
				"client_id", c.ID, "event_type", evt.Type)
		}
	}

	if evt.Type != EventHeartbeat {
		m.logger.Debug("event delivered",
			"event_type", evt.Type, "sent", sent, "dropped", skipped)
	}
}

// Connect opens a stream. personID 0 subscribes to all events.
func (m *Manager) Connect(personID int) (*Client, error) {
	clientID, err := id.Generate(id.PrefixClient)
	if err != nil {
		return nil, err
	}
	c := &Client{
		ID:          clientID,
		PersonID:    personID,
		EventChan:   make(chan Event, clientBufferSize),
		Done:        make(chan struct{}),
		ConnectedAt: time.Now(),
	}

	m.mu.Lock()
	m.clients[c.ID] = c
	n := len(m.clients)
	m.mu.Unlock()

	m.logger.Info("event client connected", "client_id", c.ID, "person_id", personID, "clients", n)
	return c, nil
}

// Disconnect ends the stream of clientID. Unknown ids are ignored.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	c, ok := m.clients[clientID]
	if ok {
		delete(m.clients, clientID)
	}
	n := len(m.clients)
	m.mu.Unlock()
	if !ok {
		return
	}

	close(c.Done)
	close(c.EventChan)
	m.logger.Info("event client disconnected",
		"client_id", clientID, "connected_for", time.Since(c.ConnectedAt), "clients", n)
}

// Emit queues event. It accepts Event values and the lifecycle types of the
// events package; anything else is logged and dropped, as is anything
// emitted after Shutdown or while the queue is full.
func (m *Manager) Emit(event any) {
	evt, ok := FromDomain(event)
	if !ok {
		m.logger.Error("unsupported event dropped", "event", event)
		return
	}

	m.closing.RLock()
	defer m.closing.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- evt:
	default:
		m.logger.Error("event queue full, event dropped", "event_type", evt.Type)
	}
}

// ClientCount returns the number of open streams.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Manager) disconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clients {
		close(c.Done)
		close(c.EventChan)
	}
	m.clients = make(map[string]*Client)
}
