package router

import (
	"errors"

	"github.com/corvidlabs/wampd/wamp"
)

var errNoSuchSession = errors.New("no such session")
var errInvalidFilterArg = errors.New("filter argument is not a list")

// makeGoodbye builds a GOODBYE message carrying an optional human-readable
// message, for use by the wamp.session.kill* meta procedures.
func makeGoodbye(reason wamp.URI, message string) *wamp.Goodbye {
	details := wamp.Dict{}
	if message != "" {
		details[wamp.OptMessage] = message
	}
	return &wamp.Goodbye{Reason: reason, Details: details}
}

// registerMetaProcedures registers the realm's own session meta procedures
// and those contributed by the broker and dealer, then starts the loop that
// dispatches INVOCATIONs for all of them.
func (r *realm) registerMetaProcedures() {
	r.dealer.setMetaPeer(r.metaPeer)
	r.broker.setMetaPeer(r.metaPeer)

	type entry struct {
		uri     wamp.URI
		handler func(*wamp.Invocation) wamp.Message
	}
	entries := []entry{
		{wamp.MetaProcSessionCount, r.sessionCount},
		{wamp.MetaProcSessionList, r.sessionList},
		{wamp.MetaProcSessionGet, r.sessionGet},

		{wamp.MetaProcRegList, r.dealer.regList},
		{wamp.MetaProcRegLookup, r.dealer.regLookup},
		{wamp.MetaProcRegMatch, r.dealer.regMatch},
		{wamp.MetaProcRegGet, r.dealer.regGet},
		{wamp.MetaProcRegListCallees, r.dealer.regListCallees},
		{wamp.MetaProcRegCountCallees, r.dealer.regCountCallees},

		{wamp.MetaProcSubList, r.broker.subList},
		{wamp.MetaProcSubLookup, r.broker.subLookup},
		{wamp.MetaProcSubMatch, r.broker.subMatch},
		{wamp.MetaProcSubGet, r.broker.subGet},
		{wamp.MetaProcSubListSubscribers, r.broker.subListSubscribers},
		{wamp.MetaProcSubCountSubscribers, r.broker.subCountSubscribers},
	}
	if r.enableMetaKill {
		entries = append(entries,
			entry{wamp.MetaProcSessionKill, r.sessionKill},
			entry{wamp.MetaProcSessionKillAll, r.sessionKillAll},
			entry{wamp.MetaProcSessionKillByAuthid, r.sessionKillByAuthid},
		)
	}
	if r.enableMetaModify {
		entries = append(entries, entry{wamp.MetaProcSessionModifyDetails, r.sessionModifyDetails})
	}

	for _, e := range entries {
		r.registerMetaProcedure(e.uri, e.handler)
	}

	go r.metaProcedureHandler()
}

// registerMetaProcedure issues a REGISTER for uri on the meta session and
// blocks until the router confirms it, recording handler under the
// assigned registration ID.
func (r *realm) registerMetaProcedure(uri wamp.URI, handler func(*wamp.Invocation) wamp.Message) {
	reqID := wamp.GlobalID()
	r.metaPeer.Send(&wamp.Register{
		Request:   reqID,
		Options:   wamp.Dict{wamp.OptDiscloseCaller: true},
		Procedure: uri,
	})
	msg := <-r.metaPeer.Recv()
	switch m := msg.(type) {
	case *wamp.Registered:
		r.actionChan <- func() {
			r.metaProcMap[m.Registration] = handler
		}
	case *wamp.Error:
		r.log.Println("failed to register meta procedure", uri, ":", m.Error)
	}
}

// metaProcedureHandler dispatches INVOCATIONs arriving on the meta session
// to the handler registered for their registration ID, and sends the YIELD
// or ERROR the handler returns.
func (r *realm) metaProcedureHandler() {
	for msg := range r.metaPeer.Recv() {
		inv, ok := msg.(*wamp.Invocation)
		if !ok {
			continue
		}
		done := make(chan func(*wamp.Invocation) wamp.Message, 1)
		r.actionChan <- func() {
			done <- r.metaProcMap[inv.Registration]
		}
		handler := <-done
		if handler == nil {
			r.metaPeer.Send(&wamp.Error{
				Type:    wamp.INVOCATION,
				Request: inv.Request,
				Details: wamp.Dict{},
				Error:   wamp.ErrNoSuchProcedure,
			})
			continue
		}
		r.metaPeer.Send(handler(inv))
	}
}

// sessionCount returns the number of sessions in the realm, optionally
// filtered to a list of authroles given as the first call argument.
func (r *realm) sessionCount(msg *wamp.Invocation) wamp.Message {
	filter, err := sessionFilterArg(msg)
	if err != nil {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	var count int
	done := make(chan struct{})
	r.actionChan <- func() {
		for id, sess := range r.clients {
			if id == metaID {
				continue
			}
			if len(filter) != 0 && !matchesAuthrole(sess, filter) {
				continue
			}
			count++
		}
		close(done)
	}
	<-done
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{count}}
}

// sessionList returns the IDs of sessions in the realm, optionally filtered
// to a list of authroles given as the first call argument.
func (r *realm) sessionList(msg *wamp.Invocation) wamp.Message {
	filter, err := sessionFilterArg(msg)
	if err != nil {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	var ids []wamp.ID
	done := make(chan struct{})
	r.actionChan <- func() {
		for id, sess := range r.clients {
			if id == metaID {
				continue
			}
			if len(filter) != 0 && !matchesAuthrole(sess, filter) {
				continue
			}
			ids = append(ids, id)
		}
		close(done)
	}
	<-done
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{ids}}
}

// sessionGet returns the session details for a given session ID.
func (r *realm) sessionGet(msg *wamp.Invocation) wamp.Message {
	if len(msg.Arguments) == 0 {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	sid, ok := wamp.AsID(msg.Arguments[0])
	if !ok {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	var dict wamp.Dict
	done := make(chan struct{})
	r.actionChan <- func() {
		if sess, ok := r.clients[sid]; ok {
			dict = wamp.Dict{"session": sid}
			for k, v := range sess.Details {
				if k == "transport" {
					continue
				}
				dict[k] = v
			}
		}
		close(done)
	}
	<-done
	if dict == nil {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSession}
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{dict}}
}

// sessionKill disconnects the session with the given ID, sending it a
// GOODBYE with an optional reason and message.
func (r *realm) sessionKill(msg *wamp.Invocation) wamp.Message {
	if len(msg.Arguments) == 0 {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	sid, ok := wamp.AsID(msg.Arguments[0])
	if !ok || sid == metaID {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSession}
	}
	if caller, ok := wamp.AsID(msg.Details[roleCaller]); ok && caller == sid {
		// A session cannot kill itself through this meta procedure.
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSession}
	}
	reason, message := killArgs(msg)
	if err := r.killSession(sid, reason, message); err != nil {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSession}
	}
	return &wamp.Yield{Request: msg.Request}
}

// sessionKillAll disconnects every session in the realm except the caller
// and the meta session.
func (r *realm) sessionKillAll(msg *wamp.Invocation) wamp.Message {
	reason, message := killArgs(msg)
	caller, _ := wamp.AsID(msg.Details[roleCaller])
	var victims []wamp.ID
	done := make(chan struct{})
	r.actionChan <- func() {
		for id := range r.clients {
			if id == metaID || id == caller {
				continue
			}
			victims = append(victims, id)
		}
		close(done)
	}
	<-done
	for _, id := range victims {
		r.killSession(id, reason, message)
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{len(victims)}}
}

// sessionKillByAuthid disconnects every session with the given authid,
// except the caller and the meta session.
func (r *realm) sessionKillByAuthid(msg *wamp.Invocation) wamp.Message {
	if len(msg.Arguments) == 0 {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	authid, ok := wamp.AsString(msg.Arguments[0])
	if !ok {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	reason, message := killArgs(msg)
	caller, _ := wamp.AsID(msg.Details[roleCaller])
	var victims []wamp.ID
	done := make(chan struct{})
	r.actionChan <- func() {
		for id, sess := range r.clients {
			if id == metaID || id == caller {
				continue
			}
			if a, _ := wamp.AsString(sess.Details["authid"]); a == authid {
				victims = append(victims, id)
			}
		}
		close(done)
	}
	<-done
	for _, id := range victims {
		r.killSession(id, reason, message)
	}
	return &wamp.Yield{Request: msg.Request, Arguments: wamp.List{len(victims)}}
}

// sessionModifyDetails applies a delta dict onto a session's Details,
// deleting any key whose value is nil.
func (r *realm) sessionModifyDetails(msg *wamp.Invocation) wamp.Message {
	if len(msg.Arguments) < 2 {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	sid, ok := wamp.AsID(msg.Arguments[0])
	if !ok {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	delta, ok := wamp.AsDict(msg.Arguments[1])
	if !ok {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrInvalidArgument}
	}
	var found bool
	done := make(chan struct{})
	r.actionChan <- func() {
		sess, ok := r.clients[sid]
		if ok {
			found = true
			sess.Lock()
			for k, v := range delta {
				if v == nil {
					delete(sess.Details, k)
				} else {
					sess.Details[k] = v
				}
			}
			sess.Unlock()
		}
		close(done)
	}
	<-done
	if !found {
		return &wamp.Error{Type: wamp.INVOCATION, Request: msg.Request, Details: wamp.Dict{}, Error: wamp.ErrNoSuchSession}
	}
	return &wamp.Yield{Request: msg.Request}
}

// killSession sends GOODBYE to and marks as killed the session with the
// given ID, used by SessionKill and the meta procedures above.
func (r *realm) killSession(sid wamp.ID, reason wamp.URI, message string) error {
	goodbye := makeGoodbye(reason, message)
	errChan := make(chan error, 1)
	var sess *wamp.Session
	r.actionChan <- func() {
		s, ok := r.clients[sid]
		if !ok {
			errChan <- errNoSuchSession
			return
		}
		sess = s
		errChan <- nil
	}
	if err := <-errChan; err != nil {
		return err
	}
	if sess.Kill(goodbye) {
		sess.Send(goodbye)
	}
	return nil
}

// killArgs extracts the optional reason and message from a
// wamp.session.kill* invocation's ArgumentsKw.
func killArgs(msg *wamp.Invocation) (wamp.URI, string) {
	reason := wamp.CloseNormal
	var message string
	if msg.ArgumentsKw != nil {
		if r, ok := wamp.AsURI(msg.ArgumentsKw[wamp.OptReason]); ok && r != "" {
			reason = r
		}
		if m, ok := wamp.AsString(msg.ArgumentsKw[wamp.OptMessage]); ok {
			message = m
		}
	}
	return reason, message
}

// sessionFilterArg extracts the optional authrole filter that
// sessionCount/sessionList take as their first argument. A missing or nil
// argument means no filter; a present, non-nil argument that is not a list
// is an error.
func sessionFilterArg(msg *wamp.Invocation) ([]string, error) {
	if len(msg.Arguments) == 0 || msg.Arguments[0] == nil {
		return nil, nil
	}
	list, ok := wamp.AsList(msg.Arguments[0])
	if !ok {
		return nil, errInvalidFilterArg
	}
	filter, _ := wamp.ListToStrings(list)
	return filter, nil
}

// matchesAuthrole reports whether sess's authrole appears in filter.
func matchesAuthrole(sess *wamp.Session, filter []string) bool {
	authrole, _ := wamp.AsString(sess.Details["authrole"])
	for _, f := range filter {
		if f == authrole {
			return true
		}
	}
	return false
}
