package ledger

import "context"

// The reentrancy guard stamps an in-progress marker into the context handed to
// transfer sinks. A sink that calls back into any state-changing entry point
// while a call is still executing carries the marker and is rejected before it
// can touch the op mutex; effects-before-transfers ordering closes the rest of
// the window.

type inProgressKey struct{}

func markInProgress(ctx context.Context) context.Context {
	return context.WithValue(ctx, inProgressKey{}, true)
}

func inProgress(ctx context.Context) bool {
	v, _ := ctx.Value(inProgressKey{}).(bool)
	return v
}
