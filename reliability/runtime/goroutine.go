package runtime

import (
	"context"

	"github.com/hadijannat/dpp-simulation-playground-sub000/reliability/log"
)

// SafeGo runs fn in a goroutine guarded by panic recovery.
func SafeGo(logger log.Logger, name string, policy PanicPolicy, fn func()) {
	go func() {
		defer RecoverWithPolicyAndContext(context.Background(), logger, "", name, policy)

		fn()
	}()
}

// SafeGoWithContextAndComponent runs fn(ctx) in a goroutine guarded by panic
// recovery that tags the panic with component and name.
func SafeGoWithContextAndComponent(
	ctx context.Context,
	logger log.Logger,
	component, name string,
	policy PanicPolicy,
	fn func(context.Context),
) {
	if ctx == nil {
		ctx = context.Background()
	}

	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}
