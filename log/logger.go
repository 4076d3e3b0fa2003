// Package log defines the logging contract shared by every bridge component.
package log

import "context"

// Fields are structured key/values attached to a log entry.
type Fields = map[string]interface{}

// Logger is the logging interface components receive in their constructors.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Fields)
	Info(ctx context.Context, msg string, fields ...Fields)
	Warn(ctx context.Context, msg string, fields ...Fields)
	Error(ctx context.Context, msg string, err error, fields ...Fields)
	Fatal(ctx context.Context, msg string, err error, fields ...Fields) // exits the process
	With(fields Fields) Logger
	// Named returns a logger tagged with a component name, e.g. "bridgeAccount".
	Named(component string) Logger
}
