package clickhouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Analytics runs the read-side queries behind the admin stats and funnel
// endpoints.
type Analytics struct {
	client *Client
}

// NewAnalytics builds an Analytics over the given client.
func NewAnalytics(client *Client) *Analytics {
	return &Analytics{client: client}
}

// queryRows runs a SELECT with FORMAT JSONEachRow appended and decodes one
// value per response line.
func queryRows[T any](ctx context.Context, client *Client, statement string) ([]T, error) {
	body, err := client.Do(ctx, statement+" FORMAT JSONEachRow")
	if err != nil {
		return nil, err
	}

	var out []T
	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("decode result row: %w", err)
		}
		out = append(out, row)
	}
	return out, nil
}

// EventCount returns the number of events in the time range.
func (a *Analytics) EventCount(ctx context.Context, projectID uuid.UUID, from, to time.Time) (uint64, error) {
	statement := fmt.Sprintf(
		"SELECT count() AS cnt FROM events WHERE project_id = '%s' AND server_timestamp BETWEEN %s AND %s",
		projectID, timestampLiteral(from), timestampLiteral(to),
	)
	rows, err := queryRows[struct {
		Cnt uint64 `json:"cnt"`
	}](ctx, a.client, statement)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Cnt, nil
}

// ThroughputBucket is one time bucket of event counts.
type ThroughputBucket struct {
	Timestamp int64  `json:"timestamp"`
	Count     uint64 `json:"count"`
}

// Throughput returns per-bucket event counts. Granularity "minute" buckets
// by minute, anything else by hour.
func (a *Analytics) Throughput(ctx context.Context, projectID uuid.UUID, from, to time.Time, granularity string) ([]ThroughputBucket, error) {
	truncFn := "toStartOfHour"
	if granularity == "minute" {
		truncFn = "toStartOfMinute"
	}

	statement := fmt.Sprintf(
		"SELECT toUnixTimestamp(%s(server_timestamp)) AS timestamp, count() AS count"+
			" FROM events WHERE project_id = '%s' AND server_timestamp BETWEEN %s AND %s"+
			" GROUP BY timestamp ORDER BY timestamp",
		truncFn, projectID, timestampLiteral(from), timestampLiteral(to),
	)
	return queryRows[ThroughputBucket](ctx, a.client, statement)
}

// TopEvent is an event name with its occurrence count.
type TopEvent struct {
	Name  string `json:"name"`
	Count uint64 `json:"count"`
}

// EventTypes returns counts grouped by event type plus the most frequent
// event names, capped at limit.
func (a *Analytics) EventTypes(ctx context.Context, projectID uuid.UUID, from, to time.Time, limit int) (map[string]uint64, []TopEvent, error) {
	fromLit := timestampLiteral(from)
	toLit := timestampLiteral(to)

	byTypeStatement := fmt.Sprintf(
		"SELECT event_type, count() AS count FROM events"+
			" WHERE project_id = '%s' AND server_timestamp BETWEEN %s AND %s"+
			" GROUP BY event_type",
		projectID, fromLit, toLit,
	)
	typeRows, err := queryRows[struct {
		EventType string `json:"event_type"`
		Count     uint64 `json:"count"`
	}](ctx, a.client, byTypeStatement)
	if err != nil {
		return nil, nil, err
	}

	byType := make(map[string]uint64, len(typeRows))
	for _, row := range typeRows {
		byType[row.EventType] = row.Count
	}

	topStatement := fmt.Sprintf(
		"SELECT event_name AS name, count() AS count FROM events"+
			" WHERE project_id = '%s' AND server_timestamp BETWEEN %s AND %s"+
			" GROUP BY name ORDER BY count DESC LIMIT %d",
		projectID, fromLit, toLit, limit,
	)
	topEvents, err := queryRows[TopEvent](ctx, a.client, topStatement)
	if err != nil {
		return nil, nil, err
	}

	return byType, topEvents, nil
}

// StoredEvent is the listing view of a persisted event. Timestamps are Unix
// seconds with millisecond precision.
type StoredEvent struct {
	EventID         string  `json:"event_id"`
	ProjectID       string  `json:"project_id"`
	EventName       string  `json:"event_name"`
	EventType       string  `json:"event_type"`
	UserID          string  `json:"user_id"`
	AnonymousID     string  `json:"anonymous_id"`
	ClientTimestamp float64 `json:"client_timestamp"`
	ServerTimestamp float64 `json:"server_timestamp"`
	Properties      string  `json:"properties"`
}

// EventFilter narrows an event listing.
type EventFilter struct {
	From        time.Time
	To          time.Time
	EventType   string
	EventName   string
	UserID      string
	AnonymousID string
	Page        int
	PerPage     int
}

// ListEvents returns one page of events, newest first, plus whether more
// pages exist. It fetches one extra row to derive hasMore.
func (a *Analytics) ListEvents(ctx context.Context, projectID uuid.UUID, filter EventFilter) ([]StoredEvent, bool, error) {
	conditions := []string{
		fmt.Sprintf("project_id = '%s'", projectID),
		fmt.Sprintf("server_timestamp BETWEEN %s AND %s",
			timestampLiteral(filter.From), timestampLiteral(filter.To)),
	}
	if filter.EventType != "" {
		conditions = append(conditions, fmt.Sprintf("event_type = '%s'", escapeString(filter.EventType)))
	}
	if filter.EventName != "" {
		conditions = append(conditions, fmt.Sprintf("event_name = '%s'", escapeString(filter.EventName)))
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = '%s'", escapeString(filter.UserID)))
	}
	if filter.AnonymousID != "" {
		conditions = append(conditions, fmt.Sprintf("anonymous_id = '%s'", escapeString(filter.AnonymousID)))
	}

	offset := (filter.Page - 1) * filter.PerPage
	statement := fmt.Sprintf(
		"SELECT toString(event_id) AS event_id, toString(project_id) AS project_id,"+
			" event_name, event_type, user_id, anonymous_id,"+
			" toUnixTimestamp64Milli(client_timestamp) / 1000.0 AS client_timestamp,"+
			" toUnixTimestamp64Milli(server_timestamp) / 1000.0 AS server_timestamp,"+
			" properties"+
			" FROM events WHERE %s"+
			" ORDER BY server_timestamp DESC"+
			" LIMIT %d OFFSET %d",
		strings.Join(conditions, " AND "), filter.PerPage+1, offset,
	)

	rows, err := queryRows[StoredEvent](ctx, a.client, statement)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(rows) > filter.PerPage
	if hasMore {
		rows = rows[:filter.PerPage]
	}
	return rows, hasMore, nil
}

// FunnelLevel is the number of users whose furthest step is level.
type FunnelLevel struct {
	Level int    `json:"level"`
	Users uint64 `json:"users"`
}

// FunnelLevels runs a windowFunnel over the ordered step event names and
// returns, per level, how many users topped out there. Level 0 means the
// user matched none of the steps in order.
func (a *Analytics) FunnelLevels(ctx context.Context, projectID uuid.UUID, windowSeconds int, stepNames []string, from, to time.Time) ([]FunnelLevel, error) {
	conditions := make([]string, 0, len(stepNames))
	names := make([]string, 0, len(stepNames))
	for _, name := range stepNames {
		escaped := escapeString(name)
		conditions = append(conditions, fmt.Sprintf("event_name = '%s'", escaped))
		names = append(names, fmt.Sprintf("'%s'", escaped))
	}

	statement := fmt.Sprintf(
		"SELECT level, count() AS users FROM ("+
			" SELECT user_uid, windowFunnel(%d)(server_timestamp, %s) AS level"+
			" FROM ("+
			" SELECT COALESCE(NULLIF(user_id, ''), anonymous_id) AS user_uid, server_timestamp, event_name"+
			" FROM events"+
			" WHERE project_id = '%s' AND server_timestamp BETWEEN %s AND %s"+
			" AND event_name IN (%s)"+
			" ) GROUP BY user_uid"+
			") GROUP BY level ORDER BY level",
		windowSeconds,
		strings.Join(conditions, ", "),
		projectID,
		timestampLiteral(from),
		timestampLiteral(to),
		strings.Join(names, ", "),
	)

	return queryRows[FunnelLevel](ctx, a.client, statement)
}
