package observability

import "runtime/debug"

// RecoverPanic recovers a panic in a deferred call and logs it with the full
// stack trace. The panic is not re-raised, so scheduled jobs keep running
// after a bad iteration.
//
//	defer observability.RecoverPanic(logger, "audit snapshot job")
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("panic recovered")
	}
}
