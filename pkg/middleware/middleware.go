package middleware

import (
	"context"

	"github.com/vango-dev/tablesync/pkg/action"
	"github.com/vango-dev/tablesync/pkg/state"
)

// Apply describes one action about to be applied to the canonical state.
type Apply struct {
	SessionID string
	PlayerID  state.ID
	UpdateID  action.UpdateID
	Action    action.Action
}

// Next continues the chain. It returns the apply error, if any.
type Next func(ctx context.Context) error

// Middleware wraps the application of a single action.
type Middleware interface {
	Handle(ctx context.Context, a Apply, next Next) error
}

// MiddlewareFunc adapts a function to the Middleware interface.
type MiddlewareFunc func(ctx context.Context, a Apply, next Next) error

// Handle implements Middleware.
func (f MiddlewareFunc) Handle(ctx context.Context, a Apply, next Next) error {
	return f(ctx, a, next)
}

// Handler applies an action.
type Handler func(ctx context.Context, a Apply) error

// Chain wraps final with mws. The first middleware is the outermost.
func Chain(final Handler, mws ...Middleware) Handler {
	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], h
		h = func(ctx context.Context, a Apply) error {
			return mw.Handle(ctx, a, func(ctx context.Context) error {
				return inner(ctx, a)
			})
		}
	}
	return h
}

// typeLabel bounds the cardinality of the action type label: types sent by
// newer clients are counted as "unknown".
func typeLabel(typ string) string {
	if action.Known(typ) {
		return typ
	}
	return "unknown"
}
