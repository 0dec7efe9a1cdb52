// Package queue is the durable task queue behind the scoring worker pool.
//
// A dequeued message is leased to one worker. It is removed by Ack, handed back
// by Nack, or returned to the queue by RequeueExpired once its visibility
// timeout passed. Every return to the queue increments the delivery count so a
// worker can tell a redelivery from a first delivery.
package queue

import (
	"context"
	"errors"
	"time"
)

// DefaultVisibilityTimeout is how long a delivery stays leased before the
// reaper hands it to another worker.
const DefaultVisibilityTimeout = 5 * time.Minute

var (
	ErrClosed        = errors.New("queue is closed")
	ErrUnknownLease  = errors.New("delivery is no longer leased")
	ErrEmptyEnvelope = errors.New("queue message has no body")
)

// Delivery is a leased message.
type Delivery struct {
	ID   string
	Body []byte
	// Attempts is the delivery count, starting at 1.
	Attempts int

	raw string
}

type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
	// Dequeue blocks until a message is available or ctx is done.
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery) error
	// RequeueExpired returns every delivery whose lease expired and reports how
	// many were moved.
	RequeueExpired(ctx context.Context) (int, error)
	Close() error
}

// envelope is the stored form of a message. Deliveries counts the times it
// was handed out before.
type envelope struct {
	ID         string `json:"id"`
	Body       []byte `json:"body"`
	Deliveries int    `json:"deliveries"`
}
