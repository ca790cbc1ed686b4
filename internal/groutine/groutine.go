package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go runs fn on a new named goroutine and returns a channel closed when fn returns.
// The name is attached as a pprof label so the goroutine is identifiable in
// profiles and stack dumps:
//
//	done := groutine.Go(nil, "search-services-42", func(ctx context.Context) {
//	    // blocking work
//	})
//	<-done
//
// The goroutine is detached: nothing waits for it on process exit. If
// parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) <-chan struct{} {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	done := make(chan struct{})
	labels := pprof.Labels(string(goroutineNameKey), name)

	go func() {
		defer close(done)
		pprof.Do(parentCtx, labels, func(ctx context.Context) {
			fn(context.WithValue(ctx, goroutineNameKey, name))
		})
	}()

	return done
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}
