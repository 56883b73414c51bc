/*
Package stdlog provides a minimal logging interface that lets the router
and transport packages log through nearly any logging implementation.

*/
package stdlog

// StdLog is a minimal interface implemented by nearly every logging package.
// The router and transport packages log through this interface exclusively,
// which allows callers to plug in any logging package desired.
type StdLog interface {
	// Print logs a message.  Arguments are handled in the manner of fmt.Print.
	Print(v ...interface{})

	// Println logs a message.  Arguments are handled in the manner of
	// fmt.Println.
	Println(v ...interface{})

	// Printf logs a message.  Arguments are handled in the manner of
	// fmt.Printf.
	Printf(format string, v ...interface{})
}
