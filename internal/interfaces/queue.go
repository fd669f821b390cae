package interfaces

import (
	"context"
	"errors"
)

// ErrNoMessage is returned by Receive when the queue has no visible tickets
var ErrNoMessage = errors.New("no message")

// Ticket is the broker message handed to a worker. It carries only the job
// id; workers load everything else from storage so redelivered tickets never
// act on stale state.
type Ticket struct {
	JobID string `json:"job_id"`
}

// AckFunc acknowledges a received ticket, removing it from the queue.
// A ticket that is never acknowledged becomes visible again after the
// visibility timeout and is redelivered.
type AckFunc func() error

// TicketQueue is a FIFO work broker with at-least-once delivery
type TicketQueue interface {
	Enqueue(ctx context.Context, ticket Ticket) error
	Receive(ctx context.Context) (*Ticket, AckFunc, error)
	Close() error
}
