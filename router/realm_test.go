package router

import (
	"testing"

	"github.com/corvidlabs/wampd/wamp"
)

func TestRealm_sessionList(t *testing.T) {
	r, err := newRealm(&RealmConfig{URI: testRealm, AnonymousAuth: true}, logger, false)
	if err != nil {
		t.Fatal(err)
	}
	defer r.close()

	invocation := wamp.Invocation{
		Arguments: make(wamp.List, 1),
	}

	response := r.sessionList(&invocation)
	if errorMessage, ok := response.(*wamp.Error); ok {
		t.Fatal("Response contains error", errorMessage)
	}
}
