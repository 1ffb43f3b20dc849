// Package notify delivers "decision required" and "state changed" signals
// after a transition has committed. Delivery is best effort: a failing sink
// never undoes the transition that produced the notification.
package notify

import (
	"context"
	"errors"
)

type Kind string

const (
	DecisionRequired Kind = "decision_required"
	StateChanged     Kind = "state_changed"
)

// Notification tells Aliases that something happened to EntityID.
type Notification struct {
	Kind     Kind           `json:"kind"`
	Event    string         `json:"event"`
	EntityID string         `json:"entity_id"`
	Aliases  []string       `json:"aliases"`
	Payload  map[string]any `json:"payload,omitempty"`
	TS       string         `json:"ts"`
}

// For reports whether alias is one of the recipients.
func (n Notification) For(alias string) bool {
	for _, a := range n.Aliases {
		if a == alias {
			return true
		}
	}
	return false
}

// Sink receives notifications. Implementations must not block for long.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Multi fans a notification out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
