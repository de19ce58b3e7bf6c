// Package groutine starts goroutines carrying a pprof "goroutine_name" label,
// so notification pumps and link monitors are identifiable in profiles and
// stack dumps.
package groutine

import (
	"context"
	"runtime/pprof"
	"sync"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go runs fn on a new labelled goroutine. A nil parent means
// context.Background().
//
//	groutine.Go(ctx, "bluez-signal-pump", func(ctx context.Context) {
//	    // work until ctx is done
//	})
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(string(nameKey), name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// GoWait is Go with wg accounting: wg.Add(1) before start, wg.Done on return.
func GoWait(parent context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	Go(parent, name, func(ctx context.Context) {
		defer wg.Done()
		fn(ctx)
	})
}

// Name returns the label set by Go, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(nameKey).(string)
	return s
}
