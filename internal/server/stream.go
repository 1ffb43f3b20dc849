package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"coordline/internal/notify"
)

// registerStream exposes the caller's notifications as server-sent events.
func registerStream(api huma.API, bus *notify.Bus) {
	sse.Register(api, huma.Operation{
		OperationID: "notification-stream",
		Method:      http.MethodGet,
		Path:        "/notifications/stream",
		Summary:     "Notifications addressed to the caller",
	}, map[string]any{
		"notification": notify.Notification{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.Alias == "" {
			return
		}
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case n, open := <-ch:
				if !open {
					return
				}
				if !n.For(principal.Alias) {
					continue
				}
				if err := send.Data(n); err != nil {
					return
				}
			}
		}
	})
}
