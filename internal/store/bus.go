package store

import (
	"log"
	"sync"

	"github.com/zulandar/gavel/internal/court"
)

// Handler receives events for one session.
type Handler func(court.Event)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Bus is the per-session publish/subscribe channel shared by both backends.
// Events of one session are delivered in publish order with a gapless Seq.
type Bus struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	nextID uint64
}

// A lane lives while it has subscribers or a publish in flight. Once idle it
// is dropped if it never carried an event or its session has ended, so Seq
// stays gapless for every live session.
type lane struct {
	dispatch sync.Mutex // held while delivering; orders events of a session
	seq      uint64
	subs     map[uint64]Handler
	order    []uint64
	busy     int
	ended    bool
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{lanes: make(map[string]*lane)}
}

func (b *Bus) laneLocked(sessionID string) *lane {
	l, ok := b.lanes[sessionID]
	if !ok {
		l = &lane{subs: make(map[uint64]Handler)}
		b.lanes[sessionID] = l
	}
	return l
}

// releaseLocked drops l if it is idle and holds no sequence worth keeping.
func (b *Bus) releaseLocked(sessionID string, l *lane) {
	if len(l.subs) > 0 || l.busy > 0 || (l.seq > 0 && !l.ended) {
		return
	}
	if b.lanes[sessionID] == l {
		delete(b.lanes, sessionID)
	}
}

// Lanes returns the number of sessions the bus currently tracks.
func (b *Bus) Lanes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lanes)
}

// Subscribe registers h for sessionID.
func (b *Bus) Subscribe(sessionID string, h Handler) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	l := b.laneLocked(sessionID)
	l.subs[id] = h
	l.order = append(l.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(l.subs, id)
			for i, v := range l.order {
				if v == id {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
			b.releaseLocked(sessionID, l)
		})
	}
}

// Subscribers returns the number of handlers registered for sessionID.
func (b *Bus) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.lanes[sessionID]; ok {
		return len(l.subs)
	}
	return 0
}

// Publish delivers evt to every handler of its session.
func (b *Bus) Publish(evt court.Event) {
	b.mu.Lock()
	l := b.laneLocked(evt.SessionID)
	l.busy++
	b.mu.Unlock()

	l.dispatch.Lock()
	defer func() {
		l.dispatch.Unlock()
		b.mu.Lock()
		l.busy--
		b.releaseLocked(evt.SessionID, l)
		b.mu.Unlock()
	}()

	b.mu.Lock()
	l.seq++
	evt.Seq = l.seq
	if evt.Type == court.EventSessionCompleted || evt.Type == court.EventSessionFailed {
		l.ended = true
	}
	handlers := make([]Handler, 0, len(l.order))
	for _, id := range l.order {
		handlers = append(handlers, l.subs[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		deliver(h, evt)
	}
}

// PublishAll builds and publishes one event per payload, in order.
func (b *Bus) PublishAll(sessionID string, payloads []court.Payload) {
	for _, p := range payloads {
		evt, err := court.NewEvent(sessionID, p)
		if err != nil {
			log.Printf("store: drop %s event for %s: %v", p.EventType(), sessionID, err)
			continue
		}
		b.Publish(evt)
	}
}

func deliver(h Handler, evt court.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("store: subscriber panic on %s event for %s: %v", evt.Type, evt.SessionID, r)
		}
	}()
	h(evt)
}
