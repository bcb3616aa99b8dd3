package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/shortfactory/api/internal/model"
)

// Subscription is one observer's ordered view of a run's event stream. The
// channel is closed when the run emits its terminal event, when the observer
// detaches, or when it falls too far behind.
type Subscription struct {
	hub   *Hub
	runID string
	ch    chan model.Event
	once  sync.Once
}

// Events returns the ordered event channel.
func (s *Subscription) Events() <-chan model.Event { return s.ch }

// Close detaches the observer from the run. Closing an observer never stops
// the pipeline; the run keeps executing without this subscriber.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
	s.closeChan()
}

func (s *Subscription) closeChan() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans pipeline events out to all observers of a run in emission order.
// One stream exists per run; it is closed exactly once, right after the
// terminal event.
type Hub struct {
	mu   sync.Mutex
	runs map[string][]*Subscription
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		runs: make(map[string][]*Subscription),
	}
}

// Subscribe attaches a new observer to the given run.
func (h *Hub) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		hub:   h,
		runID: runID,
		ch:    make(chan model.Event, 256),
	}

	h.mu.Lock()
	h.runs[runID] = append(h.runs[runID], sub)
	h.mu.Unlock()

	return sub
}

// Publish delivers an event to every subscriber of the run. A subscriber
// whose buffer is full is dropped rather than allowed to stall the pipeline.
func (h *Hub) Publish(runID string, event model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.runs[runID]
	kept := subs[:0]
	for _, sub := range subs {
		select {
		case sub.ch <- event:
			kept = append(kept, sub)
		default:
			log.Printf("Dropping slow observer of run %s", runID)
			sub.closeChan()
		}
	}
	h.runs[runID] = kept
}

// CloseRun ends the run's stream, closing every subscriber channel.
func (h *Hub) CloseRun(runID string) {
	h.mu.Lock()
	subs := h.runs[runID]
	delete(h.runs, runID)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeChan()
	}
}

func (h *Hub) removeLocked(sub *Subscription) {
	subs := h.runs[sub.runID]
	for i, s := range subs {
		if s == sub {
			h.runs[sub.runID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.runs[sub.runID]) == 0 {
		delete(h.runs, sub.runID)
	}
}

// Emitter returns a pipeline emitter bound to one run's stream.
func (h *Hub) Emitter(runID string) *RunEmitter {
	return &RunEmitter{hub: h, runID: runID}
}

// RunEmitter publishes one run's pipeline events through the hub.
type RunEmitter struct {
	hub   *Hub
	runID string
}

// Emit pushes one event to the run's observers.
func (e *RunEmitter) Emit(event model.Event) {
	e.hub.Publish(e.runID, event)
}

// Close ends the run's stream.
func (e *RunEmitter) Close() {
	e.hub.CloseRun(e.runID)
}

// HandleConnection serves a WebSocket observer of one run.
func (h *Hub) HandleConnection(c *websocket.Conn, runID string) {
	sub := h.Subscribe(runID)
	defer sub.Close()

	done := make(chan struct{})

	// Writer goroutine
	go func() {
		defer close(done)

		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					log.Printf("Failed to marshal event: %v", err)
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop; backpressure and disconnect detection only, observers
	// never send business messages.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}

	sub.Close()
	<-done
}
