package wamp

import (
	"math/rand"
	"sync"
	"time"
)

// maxID is the largest exact integer representable by an IEEE-754 double,
// the upper bound WAMP places on session, request and scope-local IDs so
// that clients written in languages without a native 64-bit integer type
// can still represent them exactly.
const maxID int64 = 1 << 53

var globalRand = rand.New(rand.NewSource(time.Now().UnixNano()))

// GlobalID returns a random ID in [1, 2^53), suitable for session,
// publication and other router-scoped identifiers that do not need to be
// sequential.
func GlobalID() ID {
	return ID(globalRand.Int63n(maxID-1) + 1)
}

// IDGen produces sequential, per-session request IDs starting at 1 and
// wrapping back to 1 after 2^53, per the WAMP ID rules.
type IDGen struct {
	next int64
}

// NewIDGen returns a new sequential ID generator.
func NewIDGen() *IDGen {
	return &IDGen{}
}

// Next returns the next ID in sequence.
func (g *IDGen) Next() ID {
	g.next++
	if g.next > maxID {
		g.next = 1
	}
	return ID(g.next)
}

// SyncIDGen is a concurrency-safe variant of IDGen, producing sequential,
// per-session request IDs starting at 1 and wrapping back to 1 after 2^53.
type SyncIDGen struct {
	mu   sync.Mutex
	next int64
}

// Next returns the next ID in sequence.
func (g *SyncIDGen) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	if g.next > maxID {
		g.next = 1
	}
	return ID(g.next)
}
