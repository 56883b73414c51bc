package serialize

import (
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/corvidlabs/wampd/wamp"
)

// JSONSerializer serializes wamp.Message values as JSON arrays, per the
// WAMP JSON transport binding. Unlike the MessagePack path, the JSON
// envelope itself is plain stdlib encoding/json; only the optional
// BinaryData convention below needs special handling, since JSON has no
// native byte-string type.
type JSONSerializer struct{}

func (s *JSONSerializer) Serialize(msg wamp.Message) ([]byte, error) {
	return json.Marshal(msgToList(msg))
}

func (s *JSONSerializer) Deserialize(data []byte) (wamp.Message, error) {
	var v []interface{}
	if err := json.Unmarshal(data, &v); err != nil {
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

// BinaryData is a []byte that marshals to JSON the way the WAMP JSON
// binding requires binary values to be represented: a string whose first
// character is NUL, followed by the base64 encoding of the bytes. This
// lets a decoder distinguish binary payloads from ordinary strings.
type BinaryData []byte

func (b BinaryData) MarshalJSON() ([]byte, error) {
	s := "\x00" + base64.StdEncoding.EncodeToString(b)
	return json.Marshal(s)
}

func (b *BinaryData) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if len(s) == 0 || s[0] != 0 {
		return errors.New("invalid binary data: missing NUL prefix")
	}
	decoded, err := base64.StdEncoding.DecodeString(s[1:])
	if err != nil {
		return err
	}
	*b = BinaryData(decoded)
	return nil
}
