package auth

import "sync"

// EventEmitter fans auth-state-change events out to subscribers. Backends
// embed it to implement OnAuthStateChange. The zero value is ready to use.
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[uint64]AuthEventHandler
	order    []uint64
	nextID   uint64
}

// OnAuthStateChange registers handler and returns a function removing it.
func (e *EventEmitter) OnAuthStateChange(handler AuthEventHandler) (unsubscribe func()) {
	if handler == nil {
		return func() {}
	}

	e.mu.Lock()
	if e.handlers == nil {
		e.handlers = map[uint64]AuthEventHandler{}
	}
	id := e.nextID
	e.nextID++
	e.handlers[id] = handler
	e.order = append(e.order, id)
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			for i, v := range e.order {
				if v == id {
					e.order = append(e.order[:i], e.order[i+1:]...)
					break
				}
			}
			e.mu.Unlock()
		})
	}
}

// Emit calls every handler synchronously in subscription order.
func (e *EventEmitter) Emit(event AuthEvent) {
	e.mu.RLock()
	handlers := make([]AuthEventHandler, 0, len(e.order))
	for _, id := range e.order {
		if h, ok := e.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// queuedEvent is a pushed event tagged with its receipt order.
type queuedEvent struct {
	AuthEvent
	seq uint64
}

// eventQueue buffers events without ever blocking the producer.
type eventQueue struct {
	mu     sync.Mutex
	items  []queuedEvent
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(event queuedEvent) {
	q.mu.Lock()
	q.items = append(q.items, event)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) ready() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) drain() []queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
