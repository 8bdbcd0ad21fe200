package clickhouse

import (
	"context"
	"fmt"

	"github.com/komorebitech/cf-truesight/internal/event"
)

// UpsertIdentity records the anonymous-to-known mapping for an Identify
// event. Non-Identify events and Identify events without a user_id are
// skipped. Repeated inserts for the same (project_id, anonymous_id,
// user_id) triple resolve to the latest last_seen after compaction.
func UpsertIdentity(ctx context.Context, client *Client, ev event.EnrichedEvent) error {
	if ev.EventType != event.TypeIdentify || ev.UserID == "" {
		return nil
	}

	timestamp := formatTimestamp(ev.ServerTimestamp)
	statement := fmt.Sprintf(
		"INSERT INTO user_identity_map (project_id, anonymous_id, user_id, first_seen, last_seen) VALUES ('%s', '%s', '%s', '%s', '%s')",
		ev.ProjectID,
		escapeString(ev.AnonymousID),
		escapeString(ev.UserID),
		timestamp,
		timestamp,
	)

	if err := client.Exec(ctx, statement); err != nil {
		return fmt.Errorf("upsert identity mapping: %w", err)
	}
	return nil
}
