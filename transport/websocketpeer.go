package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/corvidlabs/wampd/stdlog"
	"github.com/corvidlabs/wampd/transport/serialize"
	"github.com/corvidlabs/wampd/wamp"
)

// websocketPeer implements the Peer interface, connecting the Send and Recv
// methods to a websocket.
type websocketPeer struct {
	conn        *websocket.Conn
	serializer  serialize.Serializer
	payloadType int

	// Used to signal the websocket is closed explicitly.
	closed chan struct{}

	// Channels communicate with router.
	rd chan wamp.Message
	wr chan wamp.Message

	cancelSender context.CancelFunc
	ctxSender    context.Context

	writerDone chan struct{}

	log     stdlog.StdLog
	metrics *TransportMetrics

	// limiter throttles incoming messages. Nil means unlimited.
	limiter *rate.Limiter
}

const (
	// WAMP uses the following WebSocket subprotocol identifiers for unbatched
	// modes:
	jsonWebsocketProtocol    = "wamp.2.json"
	msgpackWebsocketProtocol = "wamp.2.msgpack"

	defaultOutQueueSize = 160
	ctrlTimeout         = 5 * time.Second
)

type DialFunc func(network, addr string) (net.Conn, error)

// WebsocketConfig holds optional settings for a websocket transport, used
// on both the client dialing side and the server's upgrade handling.
type WebsocketConfig struct {
	// EnableCompression enables the websocket per-message compression
	// extension.
	EnableCompression bool

	// CompressionLevel sets the flate compression level to use when
	// EnableCompression is set. Zero uses the gorilla/websocket default.
	CompressionLevel int

	// EnableTrackingCookie has the server set and read a tracking cookie on
	// the HTTP upgrade request, exposing it in the session's
	// transport.auth details. Client-side, this field has no effect.
	EnableTrackingCookie bool

	// OutQueueSize sets the maximum number of messages that can be queued
	// to be written to the websocket before the peer starts dropping or
	// blocking sends. A value of < 1 uses the default size.
	OutQueueSize int

	// MessageRateLimit caps the rate of incoming messages accepted from the
	// peer, in messages per second. Zero disables the limit.
	MessageRateLimit rate.Limit

	// MessageBurst is the burst size allowed by MessageRateLimit. Ignored
	// when MessageRateLimit is zero.
	MessageBurst int
}

// ConnectWebsocketPeer creates a new websocketPeer with the specified config,
// and connects it to the websocket server at the specified URL. A nil wsCfg
// uses default settings.
func ConnectWebsocketPeer(url string, serialization serialize.Serialization, tlsConfig *tls.Config, dial DialFunc, logger stdlog.StdLog, wsCfg *WebsocketConfig) (wamp.Peer, error) {
	var (
		protocol    string
		payloadType int
		serializer  serialize.Serializer
	)

	switch serialization {
	case serialize.JSON:
		protocol = jsonWebsocketProtocol
		payloadType = websocket.TextMessage
		serializer = &serialize.JSONSerializer{}
	case serialize.MSGPACK:
		protocol = msgpackWebsocketProtocol
		payloadType = websocket.BinaryMessage
		serializer = &serialize.MessagePackSerializer{}
	default:
		return nil, fmt.Errorf("unsupported serialization: %v", serialization)
	}

	if wsCfg == nil {
		wsCfg = &WebsocketConfig{}
	}

	dialer := websocket.Dialer{
		Subprotocols:      []string{protocol},
		TLSClientConfig:   tlsConfig,
		Proxy:             http.ProxyFromEnvironment,
		NetDial:           dial,
		EnableCompression: wsCfg.EnableCompression,
	}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if wsCfg.MessageRateLimit > 0 {
		limiter = rate.NewLimiter(wsCfg.MessageRateLimit, wsCfg.MessageBurst)
	}
	return newWebsocketPeer(conn, serializer, payloadType, wsCfg.OutQueueSize, limiter, logger), nil
}

// NewWebsocketPeer creates a websocket peer from an existing websocket
// connection. This is used for handling clients connecting to the WAMP
// service.
func NewWebsocketPeer(conn *websocket.Conn, serializer serialize.Serializer, payloadType int, outQueueSize int, logger stdlog.StdLog) wamp.Peer {
	return newWebsocketPeer(conn, serializer, payloadType, outQueueSize, nil, logger)
}

// NewWebsocketPeerLimited is like NewWebsocketPeer, but throttles incoming
// messages accepted from the peer using limiter. A nil limiter disables
// throttling.
func NewWebsocketPeerLimited(conn *websocket.Conn, serializer serialize.Serializer, payloadType int, outQueueSize int, limiter *rate.Limiter, logger stdlog.StdLog) wamp.Peer {
	return newWebsocketPeer(conn, serializer, payloadType, outQueueSize, limiter, logger)
}

func newWebsocketPeer(conn *websocket.Conn, serializer serialize.Serializer, payloadType int, outQueueSize int, limiter *rate.Limiter, logger stdlog.StdLog) wamp.Peer {
	if outQueueSize < 1 {
		outQueueSize = defaultOutQueueSize
	}
	w := &websocketPeer{
		conn:        conn,
		serializer:  serializer,
		payloadType: payloadType,
		closed:      make(chan struct{}),
		writerDone:  make(chan struct{}),

		// Messages read from the websocket can be handled immediately, since
		// they have traveled over the websocket and the read channel does not
		// need to be more than size 1.
		rd: make(chan wamp.Message, 1),

		// The channel for messages being written to the websocket should be
		// large enough to prevent blocking while waiting for a slow websocket
		// to send messages. For this reason it may be necessary for these
		// messages to be put into an outbound queue that can grow.
		wr: make(chan wamp.Message, outQueueSize),

		log:     logger,
		metrics: NewTransportMetrics("websocket"),
		limiter: limiter,
	}
	w.ctxSender, w.cancelSender = context.WithCancel(context.Background())

	// Sending to and receiving from websocket is handled concurrently.
	go w.recvHandler()
	go w.sendHandler()

	return w
}

func (w *websocketPeer) Recv() <-chan wamp.Message { return w.rd }

func (w *websocketPeer) TrySend(msg wamp.Message) error {
	return wamp.TrySend(w.wr, msg)
}

func (w *websocketPeer) SendCtx(ctx context.Context, msg wamp.Message) error {
	return wamp.SendCtx(ctx, w.wr, msg)
}

func (w *websocketPeer) Send(msg wamp.Message) error {
	return wamp.SendCtx(w.ctxSender, w.wr, msg)
}

// Close closes the websocket peer, sending a close control frame first.
//
// *** Do not call Send after calling Close. ***
func (w *websocketPeer) Close() {
	w.cancelSender()
	<-w.writerDone

	close(w.closed)

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "goodbye")
	if err := w.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(ctrlTimeout)); err != nil {
		w.log.Println("error sending close message:", err)
	}
	if err := w.conn.Close(); err != nil {
		w.log.Println("error closing connection:", err)
	}
}

// sendHandler pulls messages from the write channel, and pushes them to the
// websocket.
func (w *websocketPeer) sendHandler() {
	defer close(w.writerDone)
	defer w.cancelSender()

	senderDone := w.ctxSender.Done()
	for {
		select {
		case msg := <-w.wr:
			b, err := w.serializer.Serialize(msg)
			if err != nil {
				w.log.Print(err)
				continue
			}
			if err = w.conn.WriteMessage(w.payloadType, b); err != nil {
				if !wamp.IsGoodbyeAck(msg) {
					w.log.Println("error writing message:", msg, err)
				}
				continue
			}
			w.metrics.CountOutgoing(len(b))
		case <-senderDone:
			return
		}
	}
}

// recvHandler pulls messages from the websocket and pushes them to the read
// channel.
func (w *websocketPeer) recvHandler() {
	// When done, close read channel to cause router to remove session if not
	// already removed.
	defer close(w.rd)
	for {
		msgType, b, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closed:
				// Peer was closed explicitly. sendHandler should have already
				// been told to exit.
			default:
				w.log.Println("error reading from peer:", err)
				w.cancelSender()
				<-w.writerDone
				w.conn.Close()
			}
			return
		}

		if msgType == websocket.CloseMessage {
			w.conn.Close()
			return
		}

		w.metrics.CountIncoming(len(b))

		if w.limiter != nil && !w.limiter.Allow() {
			w.log.Println("dropping message: rate limit exceeded")
			continue
		}

		msg, err := w.serializer.Deserialize(b)
		if err != nil {
			// TODO: something more than merely logging?
			w.log.Println("error deserializing peer message:", err)
			continue
		}

		// It is OK for the router to block a client since routing should be
		// very quick compared to the time to transfer a message over the
		// websocket, and a blocked client will not block other clients.
		select {
		case w.rd <- msg:
		case <-w.closed:
			select {
			case w.rd <- msg:
			case <-time.After(time.Second):
				w.conn.Close()
				return
			}
		}
	}
}
