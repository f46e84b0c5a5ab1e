package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"burnline/internal/domain"
)

// TimestampLayout is fixed width so occurred_at sorts lexically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

type Writer struct {
	Now func() time.Time
}

// Append records one task change. Nil before/after payloads are stored as NULL.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, projectID string, typ domain.EventType, targetID, actorID string, before, after any) (domain.Event, error) {
	if !typ.Valid() {
		return domain.Event{}, fmt.Errorf("unknown event type %q", typ)
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	beforeRaw, err := marshalPayload(before)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal data_before: %w", err)
	}
	afterRaw, err := marshalPayload(after)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal data_after: %w", err)
	}
	evt := domain.Event{
		ProjectID:  projectID,
		Type:       typ,
		TargetID:   targetID,
		ActorID:    actorID,
		DataBefore: beforeRaw,
		DataAfter:  afterRaw,
		OccurredAt: FormatTimestamp(w.Now()),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(project_id,event_type,entity_kind,target_id,actor_id,data_before,data_after,occurred_at) VALUES (?,?,'task',?,?,?,?,?)`,
		evt.ProjectID, string(evt.Type), evt.TargetID, evt.ActorID, nullableRaw(beforeRaw), nullableRaw(afterRaw), evt.OccurredAt)
	if err != nil {
		return domain.Event{}, err
	}
	if id, err := res.LastInsertId(); err == nil {
		evt.ID = id
	}
	return evt, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nullableRaw(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}
