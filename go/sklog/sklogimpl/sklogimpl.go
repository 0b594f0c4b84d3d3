// Package sklogimpl defines the interface for the logging implementation used
// by sklog, allowing main() to swap in a different destination.
package sklogimpl

// Severity of a log line.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

// Logger is implemented by every logging destination. A call with severity
// Fatal must flush and exit the process.
type Logger interface {
	// Log at the given severity. depth is the number of stack frames to skip
	// when reporting the calling location, with 0 meaning the caller of Log.
	// If format is the empty string the args are formatted as fmt.Sprint,
	// otherwise as fmt.Sprintf.
	Log(depth int, severity Severity, format string, args ...interface{})

	// Flush any buffered log lines.
	Flush()
}

var impl Logger

// SetLogger changes the logging implementation. Not safe to call concurrently
// with logging; call it once during startup.
func SetLogger(l Logger) {
	impl = l
}

// Log records one log line via the registered implementation.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	impl.Log(depth+1, severity, format, args...)
}

// Flush the registered implementation.
func Flush() {
	if impl != nil {
		impl.Flush()
	}
}
