package runtime

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

// RecoverAndLog recovers from a panic and logs it with the stack trace.
//
//	defer runtime.RecoverAndLog(logger, "outbox.publisher")
func RecoverAndLog(logger log.Logger, name string) {
	if r := recover(); r != nil {
		logPanicWithStack(context.Background(), logger, name, r, debug.Stack())
	}
}

// RecoverAndLogWithContext is like RecoverAndLog but also records a span
// event on the span carried by ctx.
func RecoverAndLogWithContext(ctx context.Context, logger log.Logger, component, name string) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		logPanicWithStack(ctx, logger, name, r, stack)
		RecordPanicToSpanWithComponent(ctx, r, stack, component, name)
	}
}

// RecoverWithPolicyAndContext recovers, logs, records, and then applies policy.
func RecoverWithPolicyAndContext(ctx context.Context, logger log.Logger, component, name string, policy PanicPolicy) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		logPanicWithStack(ctx, logger, name, r, stack)
		RecordPanicToSpanWithComponent(ctx, r, stack, component, name)

		if policy == CrashProcess {
			panic(r)
		}
	}
}

func logPanicWithStack(ctx context.Context, logger log.Logger, name string, panicValue any, stack []byte) {
	if logger == nil {
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}

	logger.Log(ctx, log.LevelError, "panic recovered",
		log.String("source", name),
		log.String("panic_value", fmt.Sprintf("%v", panicValue)),
		log.String("stack_trace", string(stack)),
	)
}
