package serialize

import (
	"errors"
	"reflect"

	"github.com/ugorji/go/codec"

	"github.com/corvidlabs/wampd/wamp"
)

var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}()

// MessagePackSerializer serializes wamp.Message values as MessagePack
// arrays, per the WAMP MessagePack transport binding.
type MessagePackSerializer struct{}

func (s *MessagePackSerializer) Serialize(msg wamp.Message) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, msgpackHandle)
	if err := enc.Encode(msgToList(msg)); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *MessagePackSerializer) Deserialize(data []byte) (wamp.Message, error) {
	var v []interface{}
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, errors.New("invalid message: empty array")
	}
	msgType, err := decodeMsgType(v[0])
	if err != nil {
		return nil, err
	}
	return listToMsg(msgType, v)
}
