package transport

import (
	"context"

	"github.com/corvidlabs/wampd/wamp"
)

const defaultRToCQueueSize = 64

// LinkedPeers creates two connected wamp.Peer values. Messages sent to
// one appear on the other's Recv channel. Used to connect an in-process
// client session (such as a meta-API procedure handler) to the router
// without going through a transport.
func LinkedPeers() (wamp.Peer, wamp.Peer) {
	return LinkedPeersQSize(defaultRToCQueueSize)
}

// LinkedPeersQSize is LinkedPeers with an explicit router-to-client queue
// size. A size of 0 uses the default.
func LinkedPeersQSize(queueSize int) (wamp.Peer, wamp.Peer) {
	if queueSize == 0 {
		queueSize = defaultRToCQueueSize
	}

	// The router-to-client channel is buffered so a slow client does not
	// block the realm actor; TrySend drops messages instead once full.
	rToC := make(chan wamp.Message, queueSize)

	// The router reads from this channel directly on its own goroutine, so
	// it can stay unbuffered.
	cToR := make(chan wamp.Message)

	r := &localPeer{rd: cToR, wr: rToC}
	c := &localPeer{rd: rToC, wr: cToR}

	return c, r
}

// localPeer implements wamp.Peer over a pair of Go channels.
type localPeer struct {
	rd <-chan wamp.Message
	wr chan<- wamp.Message
}

func (p *localPeer) Send(msg wamp.Message) error {
	p.wr <- msg
	return nil
}

func (p *localPeer) SendCtx(ctx context.Context, msg wamp.Message) error {
	return wamp.SendCtx(ctx, p.wr, msg)
}

func (p *localPeer) TrySend(msg wamp.Message) error {
	return wamp.TrySend(p.wr, msg)
}

func (p *localPeer) Close() { close(p.wr) }

func (p *localPeer) Recv() <-chan wamp.Message { return p.rd }
