package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidlabs/wampd/wamp"
)

func TestSendRecv(t *testing.T) {
	c, r := LinkedPeers()

	go func() {
		require.NoError(t, c.Send(&wamp.Hello{}))
	}()
	select {
	case <-r.Recv():
	case <-time.After(time.Second):
		require.FailNow(t, "router peer did not receive msg")
	}

	require.NoError(t, r.Send(&wamp.Welcome{}))
	select {
	case <-c.Recv():
	default:
		require.FailNow(t, "client peer did not receive msg")
	}

	r.Close()
	select {
	case msg, open := <-c.Recv():
		require.False(t, open)
		require.Nil(t, msg)
	case <-time.After(time.Second):
		require.FailNow(t, "client did not wake up when router closed")
	}
}

func TestDropOnBlockedClient(t *testing.T) {
	const qsize = 5
	_, r := LinkedPeersQSize(qsize)

	for i := 0; i < qsize; i++ {
		_ = r.TrySend(&wamp.Publish{})
	}

	done := make(chan struct{})
	var err error
	go func() {
		err = r.TrySend(&wamp.Publish{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		require.FailNow(t, "send should have dropped and not blocked")
	}
	require.Error(t, err)
}

func TestBlockOnBlockedRouter(t *testing.T) {
	c, r := LinkedPeers()

	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(r.Recv())+1; i++ {
			require.NoError(t, c.Send(&wamp.Publish{}))
		}
		close(done)
	}()
	select {
	case <-done:
		require.FailNow(t, "expected send to be blocked")
	case <-time.After(time.Second):
	}
	<-r.Recv()
	<-done
}

func BenchmarkClientToRouter(b *testing.B) {
	c, r := LinkedPeers()

	b.ResetTimer()
	go func() {
		for i := 0; i < b.N; i++ {
			_ = c.Send(&wamp.Hello{})
		}
	}()
	for i := 0; i < b.N; i++ {
		<-r.Recv()
	}
}

func BenchmarkRouterToClient(b *testing.B) {
	c, r := LinkedPeers()

	b.ResetTimer()
	go func() {
		for i := 0; i < b.N; i++ {
			_ = r.Send(&wamp.Hello{})
		}
	}()
	for i := 0; i < b.N; i++ {
		<-c.Recv()
	}
}
