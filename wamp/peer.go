package wamp

import (
	"context"
	"errors"
	"time"
)

// Peer is the sending/receiving half of a WAMP connection, implemented by
// each transport (websocket, and the in-process link used for meta
// sessions).
type Peer interface {
	// Send delivers msg to the peer, blocking if necessary.
	Send(Message) error

	// SendCtx delivers msg to the peer, aborting if ctx is done first.
	SendCtx(context.Context, Message) error

	// TrySend delivers msg without blocking, failing if the peer cannot
	// accept it immediately.
	TrySend(Message) error

	// Close shuts down the connection and the channel returned by Recv.
	Close()

	// Recv returns the channel of messages arriving from the peer.
	Recv() <-chan Message
}

// RecvTimeout waits up to d for a message from p.
func RecvTimeout(p Peer, d time.Duration) (Message, error) {
	select {
	case msg, open := <-p.Recv():
		if !open {
			return nil, errors.New("receive channel closed")
		}
		return msg, nil
	case <-time.After(d):
		return nil, errors.New("timed out waiting for message")
	}
}

// SendCtx writes msg to wr, aborting if ctx is done first. Shared by Peer
// implementations backed by a plain channel.
func SendCtx(ctx context.Context, wr chan<- Message, msg Message) error {
	select {
	case wr <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend writes msg to wr without blocking.
func TrySend(wr chan<- Message, msg Message) error {
	select {
	case wr <- msg:
		return nil
	default:
		return errors.New("peer send queue full")
	}
}
