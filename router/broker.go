package router

import (
	"fmt"
	"strings"

	"github.com/corvidlabs/wampd/stdlog"
	"github.com/corvidlabs/wampd/wamp"
)

const featureSubMetaAPI = "subscription_meta_api"

// brokerRole advertises the broker's supported features in WELCOME.
var brokerRole = wamp.Dict{
	"features": wamp.Dict{
		"subscriber_blackwhite_listing": true,
		"pattern_based_subscription":    true,
		"publisher_exclusion":           true,
		"publisher_identification":      true,
		featureSubMetaAPI:               true,
	},
}

// subscription tracks the set of sessions subscribed to a topic under one
// match policy.
type subscription struct {
	id          wamp.ID
	topic       wamp.URI
	created     string
	match       string
	subscribers map[wamp.ID]*wamp.Session
}

// broker implements the WAMP Publish/Subscribe role as a single actor
// goroutine, the same way dealer does for Routed RPC.
type broker struct {
	topicSubs map[wamp.URI]*subscription
	pfxSubs   map[wamp.URI]*subscription
	wcSubs    map[wamp.URI]*subscription

	subscriptions map[wamp.ID]*subscription

	// session -> subscription ID set, used when removing a session.
	sessionSubIDSet map[*wamp.Session]map[wamp.ID]struct{}

	actionChan chan func()

	idGen *wamp.IDGen

	strictURI     bool
	allowDisclose bool

	filterFactory FilterFactory

	metaPeer wamp.Peer

	log   stdlog.StdLog
	debug bool
}

// newBroker creates a broker that enforces strictURI and allowDisclose as
// configured for the owning realm, and uses filterFactory to build the
// blacklist/whitelist filter for each PUBLISH. A nil filterFactory falls
// back to NewSimplePublishFilter.
func newBroker(logger stdlog.StdLog, strictURI, allowDisclose, debug bool, filterFactory FilterFactory) *broker {
	if filterFactory == nil {
		filterFactory = NewSimplePublishFilter
	}
	b := &broker{
		topicSubs:       map[wamp.URI]*subscription{},
		pfxSubs:         map[wamp.URI]*subscription{},
		wcSubs:          map[wamp.URI]*subscription{},
		subscriptions:   map[wamp.ID]*subscription{},
		sessionSubIDSet: map[*wamp.Session]map[wamp.ID]struct{}{},

		actionChan: make(chan func()),

		idGen: new(wamp.IDGen),

		strictURI:     strictURI,
		allowDisclose: allowDisclose,
		filterFactory: filterFactory,

		log:   logger,
		debug: debug,
	}
	go b.run()
	return b
}

// setMetaPeer sets the client the broker uses to publish meta events.
func (b *broker) setMetaPeer(metaPeer wamp.Peer) {
	b.actionChan <- func() {
		b.metaPeer = metaPeer
	}
}

// role returns role information for the "broker" role, suitable for the
// WELCOME message.
func (b *broker) role() wamp.Dict {
	return brokerRole
}

// subscribe subscribes sub to a topic, creating the subscription if it does
// not already exist.
func (b *broker) subscribe(sub *wamp.Session, msg *wamp.Subscribe) {
	if sub == nil || msg == nil {
		panic("broker.subscribe with nil session or message")
	}
	match, _ := wamp.AsString(msg.Options[wamp.OptMatch])
	if !msg.Topic.ValidURI(b.strictURI, match) {
		errMsg := fmt.Sprintf("subscribe for invalid topic URI %v (URI strict checking %v)",
			msg.Topic, b.strictURI)
		b.trySend(sub, &wamp.Error{
			Type:      msg.MessageType(),
			Request:   msg.Request,
			Details:   wamp.Dict{},
			Error:     wamp.ErrInvalidURI,
			Arguments: wamp.List{errMsg},
		})
		return
	}

	// Unlike REGISTER, any session may SUBSCRIBE to a wamp.* topic: that is
	// how clients receive session/registration/subscription meta events.
	wampURI := strings.HasPrefix(string(msg.Topic), "wamp.")

	var metaPubs []*wamp.Publish
	done := make(chan struct{})
	b.actionChan <- func() {
		metaPubs = b.syncSubscribe(sub, msg, match, wampURI)
		close(done)
	}
	<-done
	for _, pub := range metaPubs {
		b.metaPeer.Send(pub)
	}
}

func (b *broker) syncSubscribe(sub *wamp.Session, msg *wamp.Subscribe, match string, wampURI bool) []*wamp.Publish {
	var metaPubs []*wamp.Publish
	subMap := b.subMapFor(match)

	topicSub, existed := subMap[msg.Topic]
	if !existed {
		subID := b.idGen.Next()
		created := wamp.NowISO8601()
		topicSub = &subscription{
			id:          subID,
			topic:       msg.Topic,
			created:     created,
			match:       match,
			subscribers: map[wamp.ID]*wamp.Session{},
		}
		subMap[msg.Topic] = topicSub
		b.subscriptions[subID] = topicSub
		brokerSubscriptions.Inc()

		if !wampURI && b.metaPeer != nil {
			metaPubs = append(metaPubs, &wamp.Publish{
				Request: wamp.GlobalID(),
				Topic:   wamp.MetaEventSubOnCreate,
				Arguments: wamp.List{sub.ID, wamp.Dict{
					"id":          subID,
					"created":     created,
					"uri":         msg.Topic,
					wamp.OptMatch: match,
				}},
			})
		}
	}

	if _, already := topicSub.subscribers[sub.ID]; !already {
		topicSub.subscribers[sub.ID] = sub
		if _, ok := b.sessionSubIDSet[sub]; !ok {
			b.sessionSubIDSet[sub] = map[wamp.ID]struct{}{}
		}
		b.sessionSubIDSet[sub][topicSub.id] = struct{}{}

		if !wampURI && b.metaPeer != nil {
			metaPubs = append(metaPubs, &wamp.Publish{
				Request:   wamp.GlobalID(),
				Topic:     wamp.MetaEventSubOnSubscribe,
				Arguments: wamp.List{sub.ID, topicSub.id},
			})
		}
	}

	if b.debug {
		b.log.Printf("Subscribed session %v to topic %v (subID=%v)", sub.ID, msg.Topic, topicSub.id)
	}
	b.trySend(sub, &wamp.Subscribed{Request: msg.Request, Subscription: topicSub.id})
	return metaPubs
}

// unsubscribe removes sub's subscription with the given subscription ID.
func (b *broker) unsubscribe(sub *wamp.Session, msg *wamp.Unsubscribe) {
	if sub == nil || msg == nil {
		panic("broker.unsubscribe with nil session or message")
	}
	var metaPubs []*wamp.Publish
	done := make(chan struct{})
	b.actionChan <- func() {
		metaPubs = b.syncUnsubscribe(sub, msg)
		close(done)
	}
	<-done
	for _, pub := range metaPubs {
		b.metaPeer.Send(pub)
	}
}

func (b *broker) syncUnsubscribe(sub *wamp.Session, msg *wamp.Unsubscribe) []*wamp.Publish {
	var metaPubs []*wamp.Publish
	topicSub, ok := b.subscriptions[msg.Subscription]
	if !ok {
		b.trySend(sub, &wamp.Error{
			Type:    msg.MessageType(),
			Request: msg.Request,
			Details: wamp.Dict{},
			Error:   wamp.ErrNoSuchSubscription,
		})
		return metaPubs
	}
	if _, ok := topicSub.subscribers[sub.ID]; !ok {
		b.trySend(sub, &wamp.Error{
			Type:    msg.MessageType(),
			Request: msg.Request,
			Details: wamp.Dict{},
			Error:   wamp.ErrNoSuchSubscription,
		})
		return metaPubs
	}
	delReg := b.syncDelSubscriber(sub, topicSub)

	b.trySend(sub, &wamp.Unsubscribed{Request: msg.Request})

	if b.metaPeer == nil {
		return metaPubs
	}
	metaPubs = append(metaPubs, &wamp.Publish{
		Request:   wamp.GlobalID(),
		Topic:     wamp.MetaEventSubOnUnsubscribe,
		Arguments: wamp.List{sub.ID, topicSub.id},
	})
	if delReg {
		metaPubs = append(metaPubs, &wamp.Publish{
			Request:   wamp.GlobalID(),
			Topic:     wamp.MetaEventSubOnDelete,
			Arguments: wamp.List{sub.ID, topicSub.id},
		})
	}
	return metaPubs
}

// syncDelSubscriber removes sub from topicSub, deleting the subscription
// entirely if sub was its last subscriber. Reports whether the
// subscription was deleted.
func (b *broker) syncDelSubscriber(sub *wamp.Session, topicSub *subscription) bool {
	delete(topicSub.subscribers, sub.ID)
	if set, ok := b.sessionSubIDSet[sub]; ok {
		delete(set, topicSub.id)
		if len(set) == 0 {
			delete(b.sessionSubIDSet, sub)
		}
	}
	if len(topicSub.subscribers) != 0 {
		return false
	}
	delete(b.subscriptions, topicSub.id)
	delete(b.subMapFor(topicSub.match), topicSub.topic)
	brokerSubscriptions.Dec()
	return true
}

// publish routes a PUBLISH to exact, prefix, and wildcard matching
// subscribers and acknowledges the publisher if requested.
func (b *broker) publish(pub *wamp.Session, msg *wamp.Publish) {
	if pub == nil || msg == nil {
		panic("broker.publish with nil session or message")
	}
	if !msg.Topic.ValidURI(b.strictURI, "") {
		if ack, _ := msg.Options[wamp.OptAcknowledge].(bool); ack {
			b.trySend(pub, &wamp.Error{
				Type:    msg.MessageType(),
				Request: msg.Request,
				Details: wamp.Dict{},
				Error:   wamp.ErrInvalidURI,
			})
		}
		return
	}

	pubID := wamp.GlobalID()
	excludeMe, _ := msg.Options[wamp.OptExcludeMe].(bool)
	discloseMe, _ := msg.Options[wamp.OptDiscloseMe].(bool)
	filter := b.filterFactory(msg)

	done := make(chan struct{})
	b.actionChan <- func() {
		b.syncPublish(pub, msg, pubID, excludeMe, discloseMe, filter)
		close(done)
	}
	<-done

	if ack, _ := msg.Options[wamp.OptAcknowledge].(bool); ack {
		b.trySend(pub, &wamp.Published{Request: msg.Request, Publication: pubID})
	}
}

func (b *broker) syncPublish(pub *wamp.Session, msg *wamp.Publish, pubID wamp.ID, excludeMe, discloseMe bool, filter PublishFilter) {
	brokerPublicationsTotal.Inc()

	send := func(topicSub *subscription, withTopic bool) {
		for id, subscriber := range topicSub.subscribers {
			if excludeMe && id == pub.ID {
				continue
			}
			if filter != nil && !filter.Allowed(subscriber) {
				continue
			}
			details := wamp.Dict{}
			if withTopic {
				details["topic"] = msg.Topic
			}
			if discloseMe && b.allowDisclose {
				details["publisher"] = pub.ID
			}
			if b.trySend(subscriber, &wamp.Event{
				Subscription: topicSub.id,
				Publication:  pubID,
				Details:      details,
				Arguments:    msg.Arguments,
				ArgumentsKw:  msg.ArgumentsKw,
			}) {
				brokerEventsTotal.Inc()
			}
		}
	}
	if topicSub, ok := b.topicSubs[msg.Topic]; ok {
		send(topicSub, false)
	}
	for pfx, topicSub := range b.pfxSubs {
		if msg.Topic.PrefixMatch(pfx) {
			send(topicSub, true)
		}
	}
	for pattern, topicSub := range b.wcSubs {
		if msg.Topic.WildcardMatch(pattern) {
			send(topicSub, true)
		}
	}
}

// removeSession removes all of sub's subscriptions. Called when a session
// leaves the realm.
func (b *broker) removeSession(sub *wamp.Session) {
	if sub == nil {
		return
	}
	var metaPubs []*wamp.Publish
	done := make(chan struct{})
	b.actionChan <- func() {
		for subID := range b.sessionSubIDSet[sub] {
			topicSub, ok := b.subscriptions[subID]
			if !ok {
				continue
			}
			delReg := b.syncDelSubscriber(sub, topicSub)
			if b.metaPeer == nil {
				continue
			}
			metaPubs = append(metaPubs, &wamp.Publish{
				Request:   wamp.GlobalID(),
				Topic:     wamp.MetaEventSubOnUnsubscribe,
				Arguments: wamp.List{sub.ID, subID},
			})
			if delReg {
				metaPubs = append(metaPubs, &wamp.Publish{
					Request:   wamp.GlobalID(),
					Topic:     wamp.MetaEventSubOnDelete,
					Arguments: wamp.List{sub.ID, subID},
				})
			}
		}
		delete(b.sessionSubIDSet, sub)
		close(done)
	}
	<-done
	for _, pub := range metaPubs {
		b.metaPeer.Send(pub)
	}
}

// close stops the broker, letting already queued actions finish.
func (b *broker) close() {
	close(b.actionChan)
}

func (b *broker) run() {
	for action := range b.actionChan {
		action()
	}
	if b.debug {
		b.log.Print("Broker stopped")
	}
}

func (b *broker) subMapFor(match string) map[wamp.URI]*subscription {
	switch match {
	case wamp.MatchPrefix:
		return b.pfxSubs
	case wamp.MatchWildcard:
		return b.wcSubs
	default:
		return b.topicSubs
	}
}

// syncMatchTopic finds the single most specific subscription matching topic:
// an exact match, otherwise the longest matching prefix or wildcard pattern.
// Must run on the broker's actor goroutine.
func (b *broker) syncMatchTopic(topic wamp.URI) (*subscription, bool) {
	if topicSub, ok := b.topicSubs[topic]; ok {
		return topicSub, true
	}
	var best *subscription
	matchLen := -1
	for pfx, topicSub := range b.pfxSubs {
		if topic.PrefixMatch(pfx) && len(pfx) > matchLen {
			best = topicSub
			matchLen = len(pfx)
		}
	}
	for pattern, topicSub := range b.wcSubs {
		if topic.WildcardMatch(pattern) && len(pattern) > matchLen {
			best = topicSub
			matchLen = len(pattern)
		}
	}
	return best, best != nil
}

func (b *broker) trySend(sess *wamp.Session, msg wamp.Message) bool {
	if err := sess.TrySend(msg); err != nil {
		b.log.Printf("!!! Dropped %s to session %s: %s", msg.MessageType(), sess, err)
		sess.Kill(makeGoodbye(wamp.ErrNetworkFailure, "queue full, session closed"))
		return false
	}
	return true
}

// ----- Meta procedure handlers -----
//
// Each of these runs on the broker's actor goroutine via actionChan and is
// registered by realm.registerMetaProcedures to answer the
// wamp.subscription.* meta procedures.

// subList retrieves subscription IDs, grouped by match policy.
func (b *broker) subList(msg *wamp.Invocation) wamp.Message {
	var exact, pfx, wc []wamp.ID
	done := make(chan struct{})
	b.actionChan <- func() {
		for _, s := range b.topicSubs {
			exact = append(exact, s.id)
		}
		for _, s := range b.pfxSubs {
			pfx = append(pfx, s.id)
		}
		for _, s := range b.wcSubs {
			wc = append(wc, s.id)
		}
		close(done)
	}
	<-done
	return &wamp.Yield{
		Request: msg.Request,
		Arguments: wamp.List{wamp.Dict{
			wamp.MatchExact:    exact,
			wamp.MatchPrefix:   pfx,
			wamp.MatchWildcard: wc,
		}},
	}
}

// subLookup obtains the subscription (if any) that manages a topic URI
// under a given match policy.
func (b *broker) subLookup(msg *wamp.Invocation) wamp.Message {
	var subID wamp.ID
	if len(msg.Arguments) != 0 {
		if topic, ok := wamp.AsURI(msg.Arguments[0]); ok {
			var match string
			if len(msg.Arguments) > 1 {
				if opts, ok := wamp.AsDict(msg.Arguments[1]); ok {
					match, _ = wamp.AsString(opts[wamp.OptMatch])
				}
			}
			done := make(chan struct{})
			b.actionChan <- func() {
				if topicSub, ok := b.subMapFor(match)[topic]; ok {
					subID = topicSub.id
				}
				close(done)
			}
			<-done
		}
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{subID}}
}

// subMatch obtains the IDs of all subscriptions that match a topic URI: the
// exact subscription, and every matching prefix and wildcard subscription.
func (b *broker) subMatch(msg *wamp.Invocation) wamp.Message {
	var subIDs []wamp.ID
	if len(msg.Arguments) != 0 {
		if topic, ok := wamp.AsURI(msg.Arguments[0]); ok {
			done := make(chan struct{})
			b.actionChan <- func() {
				if topicSub, ok := b.topicSubs[topic]; ok {
					subIDs = append(subIDs, topicSub.id)
				}
				for pfx, topicSub := range b.pfxSubs {
					if topic.PrefixMatch(pfx) {
						subIDs = append(subIDs, topicSub.id)
					}
				}
				for pattern, topicSub := range b.wcSubs {
					if topic.WildcardMatch(pattern) {
						subIDs = append(subIDs, topicSub.id)
					}
				}
				close(done)
			}
			<-done
		}
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{subIDs}}
}

// subGet retrieves information on a particular subscription.
func (b *broker) subGet(msg *wamp.Invocation) wamp.Message {
	var dict wamp.Dict
	if len(msg.Arguments) != 0 {
		if subID, ok := wamp.AsID(msg.Arguments[0]); ok {
			done := make(chan struct{})
			b.actionChan <- func() {
				if s, ok := b.subscriptions[subID]; ok {
					dict = wamp.Dict{
						"id":          subID,
						"created":     s.created,
						"uri":         s.topic,
						wamp.OptMatch: s.match,
					}
				}
				close(done)
			}
			<-done
		}
	}
	if dict == nil {
		return &wamp.Error{Type: msg.MessageType(), Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSubscription}
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{dict}}
}

// subListSubscribers retrieves the session IDs subscribed to a
// subscription.
func (b *broker) subListSubscribers(msg *wamp.Invocation) wamp.Message {
	var ids []wamp.ID
	var found bool
	if len(msg.Arguments) != 0 {
		if subID, ok := wamp.AsID(msg.Arguments[0]); ok {
			done := make(chan struct{})
			b.actionChan <- func() {
				if s, ok := b.subscriptions[subID]; ok {
					found = true
					ids = make([]wamp.ID, 0, len(s.subscribers))
					for id := range s.subscribers {
						ids = append(ids, id)
					}
				}
				close(done)
			}
			<-done
		}
	}
	if !found {
		return &wamp.Error{Type: msg.MessageType(), Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSubscription}
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{ids}}
}

// subCountSubscribers obtains the number of sessions subscribed to a
// subscription.
func (b *broker) subCountSubscribers(msg *wamp.Invocation) wamp.Message {
	var count int
	var found bool
	if len(msg.Arguments) != 0 {
		if subID, ok := wamp.AsID(msg.Arguments[0]); ok {
			done := make(chan struct{})
			b.actionChan <- func() {
				if s, ok := b.subscriptions[subID]; ok {
					found = true
					count = len(s.subscribers)
				}
				close(done)
			}
			<-done
		}
	}
	if !found {
		return &wamp.Error{Type: msg.MessageType(), Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSubscription}
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{count}}
}
