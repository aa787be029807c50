package feed

import (
	"context"
	"sync"
)

// Memory fans events out to in-process subscribers synchronously.
type Memory struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewMemory() *Memory {
	return &Memory{handlers: make(map[int]Handler)}
}

func (m *Memory) Publish(ctx context.Context, event Event) error {
	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, handler := range m.handlers {
		handlers = append(handlers, handler)
	}
	m.mu.RUnlock()

	for _, handler := range handlers {
		// a failing subscriber must not starve the others
		_ = handler(ctx, event)
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return cancel, nil
}
