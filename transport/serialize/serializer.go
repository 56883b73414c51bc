// Package serialize converts between wamp.Message values and the wire
// encodings a WAMP transport carries: JSON text and MessagePack binary.
//
// A WAMP message on the wire is a JSON/MessagePack array whose first
// element is the numeric message type tag, followed by the message's
// fields in the fixed order given by the spec, with trailing optional
// fields omitted when empty. The conversion between that array shape and
// the corresponding wamp.Message struct is done once here, by
// reflection, and shared by both serializers.
package serialize

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/corvidlabs/wampd/wamp"
)

// Serialization identifies a wire encoding negotiated over a transport.
type Serialization int

const (
	JSON Serialization = iota
	MSGPACK
)

func (s Serialization) String() string {
	switch s {
	case JSON:
		return "json"
	case MSGPACK:
		return "msgpack"
	default:
		return "unknown"
	}
}

// Serializer encodes and decodes wamp.Message values for one wire format.
type Serializer interface {
	Serialize(wamp.Message) ([]byte, error)
	Deserialize([]byte) (wamp.Message, error)
}

// decodeMsgType converts the leading element of a decoded message array to
// a message type. Different codecs and formats hand back different
// concrete numeric types for the same JSON/MessagePack integer, so this
// accepts whichever one shows up.
func decodeMsgType(v interface{}) (wamp.MessageType, error) {
	switch t := v.(type) {
	case int64:
		return wamp.MessageType(t), nil
	case uint64:
		return wamp.MessageType(t), nil
	case float64:
		return wamp.MessageType(t), nil
	case int:
		return wamp.MessageType(t), nil
	default:
		return 0, fmt.Errorf("invalid message type tag: %T", v)
	}
}

// listToMsg takes the decoded elements of a WAMP wire message, the first
// of which is the already-stripped-off message type, and populates the
// fields of the corresponding message struct in field order.
func listToMsg(msgType wamp.MessageType, vlist []interface{}) (wamp.Message, error) {
	msg := wamp.NewMessage(msgType)
	if msg == nil {
		return nil, errors.New("unsupported message type")
	}
	val := reflect.ValueOf(msg)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	// Iterate each field of the target message and populate it with the
	// corresponding value from the wire message, skipping the leading
	// type tag already consumed by the caller.
	for i := 0; i < val.NumField() && i < len(vlist)-1; i++ {
		f := val.Field(i)
		if vlist[i+1] == nil {
			continue
		}
		arg := reflect.ValueOf(vlist[i+1])
		if arg.Kind() == reflect.Ptr {
			arg = arg.Elem()
		}
		if arg.Type().AssignableTo(f.Type()) {
			f.Set(arg)
			continue
		}
		if arg.Type().ConvertibleTo(f.Type()) {
			f.Set(arg.Convert(f.Type()))
			continue
		}
		if arg.Type().Kind() != f.Type().Kind() {
			return nil, fmt.Errorf("field %d not recognized, has %s, want %s",
				i+1, arg.Type(), f.Type())
		}
		if f.Type().Kind() == reflect.Map {
			if err := assignMap(f, arg); err != nil {
				return nil, err
			}
			continue
		}
		if f.Type().Kind() == reflect.Slice {
			if err := assignSlice(f, arg); err != nil {
				return nil, err
			}
			continue
		}
		// Every message field is a map or a slice; reaching here means the
		// message struct itself is wrong.
		panic(fmt.Sprintf("internal message field %d not recognized", i+1))
	}
	return msg, nil
}

// convertType converts val to typ if necessary and possible. It is a
// no-op if val is already assignable to typ.
func convertType(val reflect.Value, typ reflect.Type) (reflect.Value, error) {
	valType := val.Type()
	if !valType.AssignableTo(typ) {
		if !valType.ConvertibleTo(typ) {
			return val, fmt.Errorf("type %s not convertible to %s",
				valType.Kind(), typ.Kind())
		}
		return val.Convert(typ), nil
	}
	return val, nil
}

// assignMap copies the key-value pairs of src into dst, converting types
// as needed.
func assignMap(dst reflect.Value, src reflect.Value) error {
	dstKeyType := dst.Type().Key()
	dstValType := dst.Type().Elem()

	dst.Set(reflect.MakeMap(dst.Type()))
	for _, k := range src.MapKeys() {
		if k.Type().Kind() == reflect.Interface {
			k = k.Elem()
		}
		var err error
		if k, err = convertType(k, dstKeyType); err != nil {
			return fmt.Errorf("cannot convert src key %q, invalid type: %s",
				k.Interface(), err)
		}
		v := src.MapIndex(k)
		if v, err = convertType(v, dstValType); err != nil {
			return fmt.Errorf("cannot convert src value for key %q, invalid type: %s",
				k.Interface(), err)
		}
		dst.SetMapIndex(k, v)
	}
	return nil
}

// assignSlice copies the values of src into dst, converting element types
// as needed.
func assignSlice(dst reflect.Value, src reflect.Value) error {
	dst.Set(reflect.MakeSlice(dst.Type(), src.Len(), src.Len()))
	dstElemType := dst.Type().Elem()
	for i := 0; i < src.Len(); i++ {
		v, err := convertType(src.Index(i), dstElemType)
		if err != nil {
			return fmt.Errorf("cannot convert value at index %d: %s", i, err)
		}
		dst.Index(i).Set(v)
	}
	return nil
}

// msgToList converts a message to the wire array: type tag followed by
// its fields in order, with trailing "omitempty"-tagged fields dropped
// when empty.
func msgToList(msg wamp.Message) []interface{} {
	val := reflect.ValueOf(msg)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	last := val.Type().NumField() - 1
	for ; last > 0; last-- {
		tag := val.Type().Field(last).Tag.Get("wamp")
		if !strings.Contains(tag, "omitempty") || val.Field(last).Len() > 0 {
			break
		}
	}

	ret := make([]interface{}, last+2)
	ret[0] = int(msg.MessageType())
	for i := 0; i <= last; i++ {
		ret[i+1] = val.Field(i).Interface()
	}
	return ret
}
