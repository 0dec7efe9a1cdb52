package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	env      envelope
	deadline time.Time
}

// Memory is an in-process Queue for single-node deployments and tests.
type Memory struct {
	visibility time.Duration
	now        func() time.Time

	mu         sync.Mutex
	pending    []envelope
	processing map[string]lease
	// ready is closed and replaced whenever a message becomes available.
	ready  chan struct{}
	closed bool
}

func NewMemory(visibility time.Duration) *Memory {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Memory{
		visibility: visibility,
		now:        time.Now,
		processing: make(map[string]lease),
		ready:      make(chan struct{}),
	}
}

func (m *Memory) Enqueue(_ context.Context, body []byte) error {
	if len(body) == 0 {
		return ErrEmptyEnvelope
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.push(envelope{ID: uuid.NewString(), Body: body})
	return nil
}

func (m *Memory) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if len(m.pending) > 0 {
			env := m.pending[0]
			m.pending = m.pending[1:]
			env.Deliveries++
			m.processing[env.ID] = lease{env: env, deadline: m.now().Add(m.visibility)}
			m.mu.Unlock()

			return &Delivery{ID: env.ID, Body: env.Body, Attempts: env.Deliveries}, nil
		}
		ready := m.ready
		m.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) Ack(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.processing[d.ID]; !ok {
		return fmt.Errorf("ack %s: %w", d.ID, ErrUnknownLease)
	}
	delete(m.processing, d.ID)
	return nil
}

func (m *Memory) Nack(_ context.Context, d *Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.processing[d.ID]
	if !ok {
		return fmt.Errorf("nack %s: %w", d.ID, ErrUnknownLease)
	}
	delete(m.processing, d.ID)
	if !m.closed {
		m.push(l.env)
	}
	return nil
}

func (m *Memory) RequeueExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, nil
	}

	now := m.now()
	moved := 0
	for id, l := range m.processing {
		if now.Before(l.deadline) {
			continue
		}
		delete(m.processing, id)
		m.push(l.env)
		moved++
	}
	return moved, nil
}

// Len reports the number of pending and leased messages.
func (m *Memory) Len() (pending, leased int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.processing)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.ready)
	}
	return nil
}

// push must be called with m.mu held.
func (m *Memory) push(env envelope) {
	m.pending = append(m.pending, env)
	close(m.ready)
	m.ready = make(chan struct{})
}
