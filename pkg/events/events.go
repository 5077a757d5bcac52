package events

import (
	"fmt"
	"sync"

	"github.com/cuemby/paddock/pkg/domain"
	"github.com/cuemby/paddock/pkg/log"
)

// Mode selects the publisher implementation
type Mode string

const (
	ModeLogging Mode = "logging"
	ModeSync    Mode = "sync"
	ModeAsync   Mode = "async"
)

// Handler consumes one domain event. Handlers must not call back into
// aggregates; they receive events after the owning transaction committed.
type Handler func(event domain.Event)

// Publisher fans domain events out to registered sinks
type Publisher interface {
	Publish(event domain.Event)
	Register(handler Handler)
	Close()
}

// NewPublisher builds a publisher for the configured mode
func NewPublisher(mode Mode) (Publisher, error) {
	switch mode {
	case ModeLogging, "":
		p := NewSyncPublisher()
		p.Register(LogHandler())
		return p, nil
	case ModeSync:
		return NewSyncPublisher(), nil
	case ModeAsync:
		p := NewAsyncPublisher(256)
		p.Start()
		return p, nil
	}
	return nil, fmt.Errorf("unknown events publisher mode: %q", mode)
}

// LogHandler returns a handler that writes each event to the structured log
func LogHandler() Handler {
	logger := log.WithComponent("events")
	return func(event domain.Event) {
		logger.Info().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Str("aggregate_type", string(event.AggregateType)).
			Str("aggregate_id", event.AggregateID).
			Int("version", event.Version).
			Str("old_status", event.Payload.OldStatus).
			Str("new_status", event.Payload.NewStatus).
			Msg("domain event")
	}
}

// SyncPublisher invokes handlers inline on the publishing goroutine
type SyncPublisher struct {
	mu       sync.RWMutex
	handlers []Handler
}

// NewSyncPublisher creates a synchronous publisher with no handlers
func NewSyncPublisher() *SyncPublisher {
	return &SyncPublisher{}
}

// Register adds a handler. Registration is guarded by a lock; dispatch reads
// the handler list under a read lock only.
func (p *SyncPublisher) Register(handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Publish invokes every handler, recovering from panics so a failing sink
// never propagates into the caller
func (p *SyncPublisher) Publish(event domain.Event) {
	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()
	for _, h := range handlers {
		invoke(h, event)
	}
}

// Close is a no-op for the synchronous publisher
func (p *SyncPublisher) Close() {}

// AsyncPublisher dispatches events through a buffered channel to a
// background goroutine
type AsyncPublisher struct {
	mu       sync.RWMutex
	handlers []Handler
	eventCh  chan domain.Event
	stopCh   chan struct{}
	done     sync.WaitGroup
}

// NewAsyncPublisher creates an asynchronous publisher with the given buffer
func NewAsyncPublisher(buffer int) *AsyncPublisher {
	return &AsyncPublisher{
		eventCh: make(chan domain.Event, buffer),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the dispatch loop
func (p *AsyncPublisher) Start() {
	p.done.Add(1)
	go p.run()
}

// Register adds a handler
func (p *AsyncPublisher) Register(handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// Publish enqueues the event. When the buffer is full the event is dropped
// with a warning; persistence never blocks on slow sinks.
func (p *AsyncPublisher) Publish(event domain.Event) {
	select {
	case p.eventCh <- event:
	default:
		log.WithComponent("events").Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("event buffer full, dropping event")
	}
}

// Close stops the dispatch loop after draining buffered events
func (p *AsyncPublisher) Close() {
	close(p.stopCh)
	p.done.Wait()
}

func (p *AsyncPublisher) run() {
	defer p.done.Done()
	for {
		select {
		case event := <-p.eventCh:
			p.dispatch(event)
		case <-p.stopCh:
			for {
				select {
				case event := <-p.eventCh:
					p.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (p *AsyncPublisher) dispatch(event domain.Event) {
	p.mu.RLock()
	handlers := p.handlers
	p.mu.RUnlock()
	for _, h := range handlers {
		invoke(h, event)
	}
}

// invoke runs one handler, logging and swallowing panics
func invoke(h Handler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("events").Error().
				Str("event_id", event.ID).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()
	h(event)
}
