package domain

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler processes one claimed event. Returning true acknowledges it;
// false or a non-nil error puts it back to READY.
type Handler interface {
	Handle(ctx context.Context, event *Event) (bool, error)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, event *Event) (bool, error)

// Handle calls f(ctx, event)
func (f HandlerFunc) Handle(ctx context.Context, event *Event) (bool, error) {
	return f(ctx, event)
}

// AckHandler acknowledges every event. Queues without a registered handler use it.
type AckHandler struct {
	Logger *slog.Logger
}

// Handle logs the event and reports success
func (h AckHandler) Handle(_ context.Context, event *Event) (bool, error) {
	if h.Logger != nil {
		h.Logger.Debug("Event acknowledged without handler",
			slog.Int64("event_id", event.ID),
			slog.Int("queue_id", event.QueueID),
		)
	}
	return true, nil
}

// SafeHandle invokes h for a single event and converts a panic into an error
// wrapping ErrHandlerPanic. ok is false whenever err is non-nil.
func SafeHandle(ctx context.Context, h Handler, event *Event) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	ok, err = h.Handle(ctx, event)
	if err != nil {
		ok = false
	}
	return ok, err
}
