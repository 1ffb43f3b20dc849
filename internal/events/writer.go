package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coordline/internal/domain"
	"coordline/internal/repo"
)

// Entity types recorded in the audit log.
const (
	EntityTask        = "task"
	EntityProposal    = "task_proposal"
	EntityAliasChange = "alias_change"
	EntityActor       = "actor"
)

type Payload map[string]any

// Fact is one committed transition.
type Fact struct {
	ActionType string
	EntityType string
	EntityID   string
	ActorAlias string
	Payload    Payload
}

// Writer persists facts once the transaction that produced them has
// committed. It never joins that transaction.
type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (w Writer) Append(ctx context.Context, f Fact) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if f.Payload == nil {
		f.Payload = Payload{}
	}
	data, err := json.Marshal(f.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return w.Repo.InsertEvent(ctx, nil, domain.Event{
		TS:         now().UTC().Format(time.RFC3339),
		ActionType: f.ActionType,
		EntityType: f.EntityType,
		EntityID:   f.EntityID,
		ActorAlias: f.ActorAlias,
		Payload:    string(data),
	})
}
