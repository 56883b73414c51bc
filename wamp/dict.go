package wamp

import (
	"errors"
	"reflect"
	"strings"
)

// NormalizeDict walks an arbitrary map value and rebuilds it as a Dict
// (recursively, for nested maps), leaving values that are not maps
// untouched. It is used to coerce details/options received from a
// serializer — which may hand back map[string]interface{} or similarly
// shaped but differently typed maps — into the Dict shape the router code
// assumes. The input is never mutated.
func NormalizeDict(v interface{}) Dict {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Map {
		return nil
	}
	out := Dict{}
	for _, key := range val.MapKeys() {
		if key.Kind() == reflect.Interface {
			key = key.Elem()
		}
		if key.Kind() != reflect.String {
			continue
		}
		cv := val.MapIndex(key)
		if nested := NormalizeDict(cv.Interface()); nested != nil {
			out[key.String()] = nested
			continue
		}
		if cv.Kind() == reflect.Interface && cv.Elem().Kind() == reflect.Slice {
			elem := cv.Elem()
			if elem.Type().ConvertibleTo(reflect.TypeOf(List{})) {
				cv = elem.Convert(reflect.TypeOf(List{}))
			}
		}
		out[key.String()] = cv.Interface()
	}
	return out
}

// DictChild returns the Dict stored at key, converting it via NormalizeDict
// first if it isn't already one. Returns nil if absent or unconvertible.
func DictChild(dict Dict, key string) Dict {
	v, ok := dict[key]
	if !ok || v == nil {
		return nil
	}
	if child, ok := v.(Dict); ok {
		return child
	}
	return NormalizeDict(v)
}

// DictValue walks a dot-path of keys through nested Dicts and returns the
// final value.
func DictValue(dict Dict, path []string) (interface{}, error) {
	for _, key := range path[:len(path)-1] {
		dict = DictChild(dict, key)
		if dict == nil {
			return nil, errors.New("cannot find: " + strings.Join(path, "."))
		}
	}
	v, ok := dict[path[len(path)-1]]
	if !ok {
		return nil, errors.New("cannot find: " + strings.Join(path, "."))
	}
	return v, nil
}

// DictFlag is DictValue asserted to bool.
func DictFlag(dict Dict, path []string) (bool, error) {
	v, err := DictValue(dict, path)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.New(strings.Join(path, ".") + " is not a boolean")
	}
	return b, nil
}

// SetOption sets name=value in dict, allocating dict if nil, and returns it.
func SetOption(dict Dict, name string, value interface{}) Dict {
	if dict == nil {
		dict = Dict{}
	}
	dict[name] = value
	return dict
}
