package router

import "fmt"

// configError wraps a configuration problem detected while constructing a
// router or realm, so callers can distinguish it from a runtime error.
type configError struct {
	Err error
}

func (e configError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e configError) Unwrap() error {
	return e.Err
}
