package serialize

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/corvidlabs/wampd/wamp"
)

func hasRole(details wamp.Dict, role string) bool {
	_, err := wamp.DictValue(details, []string{"roles", role})
	return err == nil
}

func hasFeature(details wamp.Dict, role, feature string) bool {
	b, _ := wamp.DictFlag(details, []string{"roles", role, "features", feature})
	return b
}

func detailRolesFeatures() wamp.Dict {
	return wamp.Dict{
		"roles": wamp.Dict{
			"publisher": wamp.Dict{
				"features": wamp.Dict{
					"subscriber_blackwhite_listing": true,
				},
			},
			"subscriber": wamp.Dict{},
			"callee":     wamp.Dict{},
			"caller":     wamp.Dict{},
		},
	}
}

func TestJSONSerialize(t *testing.T) {
	details := detailRolesFeatures()
	hello := &wamp.Hello{Realm: "wampd.realm", Details: details}

	s := &JSONSerializer{}
	b, err := s.Serialize(hello)
	if err != nil {
		t.Fatal("serialization error: ", err)
	}
	if len(b) == 0 {
		t.Fatal("no serialized data")
	}

	msg, err := s.Deserialize(b)
	if err != nil {
		t.Fatal("deserialization error: ", err)
	}
	if msg.MessageType() != wamp.HELLO {
		t.Fatal("deserialized to wrong message type: ", msg.MessageType())
	}
	if !hasFeature(hello.Details, "publisher", "subscriber_blackwhite_listing") {
		t.Fatal("did not deserialize message details")
	}
}

func TestJSONDeserialize(t *testing.T) {
	s := &JSONSerializer{}

	data := `[1,"wampd.realm",{}]`
	expect := &wamp.Hello{Realm: "wampd.realm", Details: wamp.Dict{}}
	msg, err := s.Deserialize([]byte(data))
	if err != nil {
		t.Fatalf("error decoding good data: %s, %s", err, data)
	}
	if msg.MessageType() != expect.MessageType() {
		t.Fatalf("incorrect message type: have %s, want %s", msg.MessageType(),
			expect.MessageType())
	}
	if !reflect.DeepEqual(msg, expect) {
		t.Fatalf("round-tripped message differs:\ngot:\n%s\nwant:\n%s", spew.Sdump(msg), spew.Sdump(expect))
	}
}

func TestMessagePackSerialize(t *testing.T) {
	hello := &wamp.Hello{Realm: "wampd.realm", Details: detailRolesFeatures()}

	s := &MessagePackSerializer{}
	b, err := s.Serialize(hello)
	if err != nil {
		t.Fatal("serialization error: ", err)
	}
	if len(b) == 0 {
		t.Fatal("no serialized data")
	}
	msg, err := s.Deserialize(b)
	if err != nil {
		t.Fatal("deserialization error: ", err)
	}
	if msg.MessageType() != wamp.HELLO {
		t.Fatal("deserialized to wrong message type: ", msg.MessageType())
	}
	if !hasFeature(hello.Details, "publisher", "subscriber_blackwhite_listing") {
		t.Fatal("did not deserialize message details")
	}
}

func TestMessagePackDeserialize(t *testing.T) {
	s := &MessagePackSerializer{}

	data := []byte{0x93, 0x01, 0xab, 0x77, 0x61, 0x6d, 0x70, 0x64, 0x2e, 0x72, 0x65, 0x61, 0x6c, 0x6d, 0x80}
	expect := &wamp.Hello{Realm: "wampd.realm", Details: wamp.Dict{}}
	msg, err := s.Deserialize(data)
	if err != nil {
		t.Fatalf("error decoding good data: %s, %x", err, data)
	}
	if msg.MessageType() != expect.MessageType() {
		t.Fatalf("incorrect message type: have %s, want %s", msg.MessageType(),
			expect.MessageType())
	}
	if !reflect.DeepEqual(msg, expect) {
		t.Fatalf("round-tripped message differs:\ngot:\n%s\nwant:\n%s", spew.Sdump(msg), spew.Sdump(expect))
	}
}

func TestBinaryData(t *testing.T) {
	orig := []byte("hellowampd")

	bin, err := json.Marshal(BinaryData(orig))
	if err != nil {
		t.Fatal("error marshalling BinaryData: ", err)
	}

	expect := fmt.Sprintf(`"\u0000%s"`, base64.StdEncoding.EncodeToString(orig))
	if !bytes.Equal([]byte(expect), bin) {
		t.Fatalf("got %s, expected %s", string(bin), expect)
	}

	var b BinaryData
	err = json.Unmarshal(bin, &b)
	if err != nil {
		t.Fatal("error unmarshalling marshalled BinaryData: ", err)
	}
	if !bytes.Equal([]byte(b), orig) {
		t.Fatalf("got %s, expected %s", string(b), string(orig))
	}
}

func TestAssignSlice(t *testing.T) {
	const msgType = wamp.PUBLISH

	pubArgs := []string{"hello", "wampd", "wamp", "router"}

	elems := wamp.List{msgType, 123, wamp.Dict{},
		"some.valid.topic", pubArgs}
	msg, err := listToMsg(msgType, elems)
	if err != nil {
		t.Fatal(err)
	}

	pubMsg, ok := msg.(*wamp.Publish)
	if !ok {
		t.Fatal("got incorrect message type:", msg.MessageType())
	}

	if len(pubMsg.Arguments) != len(pubArgs) {
		t.Fatal("wrong number of message arguments")
	}
	for i := 0; i < len(pubArgs); i++ {
		if pubMsg.Arguments[i] != pubArgs[i] {
			t.Fatalf("argument %d has wrong value", i)
		}
	}
}

func TestMsgToList(t *testing.T) {
	testMsgToList := func(args wamp.List, kwArgs wamp.Dict, omit int, message string) error {
		msg := &wamp.Event{Subscription: 0, Publication: 0, Details: nil, Arguments: args, ArgumentsKw: kwArgs}
		numField := reflect.ValueOf(msg).Elem().NumField() + 1 // +1 for type
		expect := numField - omit
		list := msgToList(msg)
		if len(list) != expect {
			return fmt.Errorf(
				"wrong number of fields: got %d, expected %d, for %s",
				len(list), expect, message)
		}
		return nil
	}

	err := testMsgToList(nil, nil, 2, "nil args, nil kwArgs")
	if err != nil {
		t.Error(err.Error())
	}

	err = testMsgToList(wamp.List{}, make(wamp.Dict), 2,
		"empty args, empty kwArgs")
	if err != nil {
		t.Error(err.Error())
	}

	err = testMsgToList(wamp.List{1}, nil, 1, "non-empty args, nil kwArgs")
	if err != nil {
		t.Error(err.Error())
	}

	err = testMsgToList(nil, wamp.Dict{"a": nil}, 0,
		"nil args, non-empty kwArgs")
	if err != nil {
		t.Error(err.Error())
	}

	err = testMsgToList(wamp.List{1}, make(wamp.Dict), 1,
		"non-empty args, empty kwArgs")
	if err != nil {
		t.Error(err.Error())
	}

	err = testMsgToList(wamp.List{}, wamp.Dict{"a": nil}, 0,
		"empty args, non-empty kwArgs")
	if err != nil {
		t.Error(err.Error())
	}

	err = testMsgToList(wamp.List{1}, wamp.Dict{"a": nil}, 0,
		"test message one")
	if err != nil {
		t.Error(err.Error())
	}
}

func TestMsgPackToJSON(t *testing.T) {
	arg := "this is a test"
	pub := &wamp.Publish{
		Request:   123,
		Topic:     "msgpack.to.json",
		Arguments: wamp.List{arg},
	}
	ms := &MessagePackSerializer{}
	b, err := ms.Serialize(pub)
	if err != nil {
		t.Fatal("serialization error: ", err)
	}
	if len(b) == 0 {
		t.Fatal("no serialized data")
	}
	msg, err := ms.Deserialize(b)
	if err != nil {
		t.Fatal("deserialization error: ", err)
	}
	p2 := msg.(*wamp.Publish)
	event := &wamp.Event{
		Subscription: 987,
		Publication:  p2.Request,
		Details:      wamp.Dict{"hello": "world"},
		Arguments:    p2.Arguments,
	}

	js := &JSONSerializer{}
	b, err = js.Serialize(event)
	if err != nil {
		t.Fatal("JSON serialization error: ", err)
	}
	if len(b) == 0 {
		t.Fatal("no serialized data")
	}
	msg, err = js.Deserialize(b)
	if err != nil {
		t.Fatal("JSON deserialization error: ", err)
	}
	if msg.MessageType() != wamp.EVENT {
		t.Fatal("JSON deserialized to wrong message type: ", msg.MessageType())
	}
	e2 := msg.(*wamp.Event)
	if e2.Subscription != wamp.ID(987) {
		t.Fatal("JSON deserialization error: wrong subscription ID")
	}
	if e2.Publication != wamp.ID(123) {
		t.Fatal("JSON deserialization error: wrong publication ID")
	}
	if len(e2.Arguments) != 1 {
		t.Fatal("JSON deserialization error: wrong number of arguments")
	}
	a, _ := wamp.AsString(e2.Arguments[0])
	if a != arg {
		t.Fatal("JSON deserialize error: did not get argument, got:", e2.Arguments[0])
	}
}
