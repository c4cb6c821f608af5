package helper

import (
	"runtime/debug"

	"github.com/CloudNativeWorks/volzip/pkg/logger"
)

// RecoverPanic recovers from panics in goroutines and logs the stack trace.
// Workers that must turn a panic into a result pass onPanic.
// Usage: defer helper.RecoverPanic(logger, "goroutine-name")
func RecoverPanic(log *logger.Logger, name string, onPanic ...func(r any)) {
	if r := recover(); r != nil {
		log.Errorf("PANIC recovered in %s: %v\nStack: %s", name, r, debug.Stack())
		for _, fn := range onPanic {
			fn(r)
		}
	}
}
