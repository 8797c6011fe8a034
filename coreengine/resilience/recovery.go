package resilience

import (
	"fmt"
	"runtime/debug"
)

// SafeExecuteWithResult executes a function with panic recovery and returns
// both result and error. A panicking worker provider is thereby downgraded to
// an ordinary call failure instead of taking down the session.
// The operation parameter is used for logging context.
func SafeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (T, error) {
	var result T
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				if logger != nil {
					logger.Error("panic_recovered",
						"operation", operation,
						"panic", r,
						"stack", stack,
					)
				}
				err = fmt.Errorf("panic in %s: %v", operation, r)
			}
		}()
		result, err = fn()
	}()

	return result, err
}
