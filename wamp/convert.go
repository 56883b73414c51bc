package wamp

import "reflect"

// AsString loosely converts v to a string.
func AsString(v interface{}) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case URI:
		return string(v), true
	}
	return "", false
}

// AsID loosely converts v to an ID.
func AsID(v interface{}) (ID, bool) {
	i, ok := AsInt64(v)
	return ID(i), ok
}

// AsURI loosely converts v to a URI.
func AsURI(v interface{}) (URI, bool) {
	switch v := v.(type) {
	case URI:
		return v, true
	case string:
		return URI(v), true
	case []byte:
		return URI(v), true
	}
	return URI(""), false
}

// AsInt64 loosely converts v to an int64, accepting any of WAMP's numeric
// wire representations.
func AsInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case ID:
		return int64(v), true
	case uint64:
		return int64(v), true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	}
	return 0, false
}

// AsFloat64 loosely converts v to a float64.
func AsFloat64(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case ID:
		return float64(v), true
	case uint64:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	}
	return 0, false
}

// AsBool asserts v to a bool.
func AsBool(v interface{}) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// AsDict loosely converts v to a Dict. A nil v yields a nil Dict and true.
func AsDict(v interface{}) (Dict, bool) {
	if v == nil {
		return nil, true
	}
	d := NormalizeDict(v)
	return d, d != nil
}

// AsList loosely converts v to a List. A nil v yields a nil List and true.
func AsList(v interface{}) (List, bool) {
	switch v := v.(type) {
	case nil:
		return nil, true
	case List:
		return v, true
	case []interface{}:
		return List(v), true
	}
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Slice {
		return nil, false
	}
	out := make(List, val.Len())
	for i := range out {
		out[i] = val.Index(i).Interface()
	}
	return out, true
}

// ListToStrings converts every element of list to a string, failing if any
// element cannot be converted.
func ListToStrings(list List) ([]string, bool) {
	if len(list) == 0 {
		return nil, true
	}
	out := make([]string, len(list))
	for i, v := range list {
		s, ok := AsString(v)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

// OptionString returns opts[name] as a string, or "" if missing/wrong type.
func OptionString(opts Dict, name string) string {
	s, _ := AsString(opts[name])
	return s
}

// OptionURI returns opts[name] as a URI, or "" if missing/wrong type.
func OptionURI(opts Dict, name string) URI {
	u, _ := AsURI(opts[name])
	return u
}

// OptionID returns opts[name] as an ID, or 0 if missing/wrong type.
func OptionID(opts Dict, name string) ID {
	id, _ := AsID(opts[name])
	return id
}

// OptionInt64 returns opts[name] as an int64, or 0 if missing/wrong type.
func OptionInt64(opts Dict, name string) int64 {
	i, _ := AsInt64(opts[name])
	return i
}

// OptionFlag returns opts[name] as a bool, or false if missing/wrong type.
func OptionFlag(opts Dict, name string) bool {
	b, _ := AsBool(opts[name])
	return b
}
