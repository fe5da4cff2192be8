// Package perfmark is the runtime side of the perfmark rewriter.
//
// Functions annotated with a //perfmark:mark directive are rewritten before compilation so
// that every exit builds a LogContext and hands it to the default printer or to a callback:
//
//	//perfmark:mark
//	func handle() { ... }
//
//	//perfmark:mark logIt
//	func load() error { ... }
//
//	func logIt(ctx perfmark.LogContext) { ... }
//
//	//perfmark:mark async send
//	func fetch(ctx context.Context) ([]byte, error) { ... }
//
//	func send(ctx context.Context, lc perfmark.LogContext) { ... }
//
// Synchronous callbacks take the LogContext as their only argument. Async callbacks take two:
// the context.Context parameter of the instrumented function, then the LogContext.
//
// The rewritten code only depends on LogContext and Await from this package.
package perfmark

import (
	"context"
	"fmt"
	"time"
)

// LogContext is passed to a custom logging function.
type LogContext struct {
	// Function is the name of the instrumented function, methods are rendered as T.Name or (*T).Name.
	Function string
	// Duration is the time the function took to complete.
	Duration time.Duration
}

// String renders the same line as the default reporter.
func (c LogContext) String() string {
	return fmt.Sprintf("(performance_mark) %s took %v", c.Function, c.Duration)
}

// Await runs fn on its own goroutine and blocks until it returns or ctx is done.
// A panic raised by fn is re-raised on the calling goroutine.
// When ctx is done first, Await returns ctx.Err() and fn keeps running detached.
func Await(ctx context.Context, fn func()) error {
	if ctx == nil {
		fn()
		return nil
	}
	done := make(chan interface{}, 1)
	go func() {
		var recovered interface{}
		defer func() {
			if r := recover(); r != nil {
				recovered = r
			}
			done <- recovered
		}()
		fn()
	}()

	select {
	case r := <-done:
		if r != nil {
			panic(r)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
