package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/komorebitech/cf-truesight/internal/event"
)

const (
	maxInsertRetries = 3
	baseRetryDelay   = 500 * time.Millisecond
)

// eventRow is the flat projection of an enriched event onto the events
// table columns. Device context fields are flattened and optional strings
// collapse to empty.
type eventRow struct {
	EventID         uuid.UUID `json:"event_id"`
	EventName       string    `json:"event_name"`
	EventType       string    `json:"event_type"`
	UserID          string    `json:"user_id"`
	AnonymousID     string    `json:"anonymous_id"`
	MobileNumber    string    `json:"mobile_number"`
	Email           string    `json:"email"`
	ClientTimestamp string    `json:"client_timestamp"`
	ServerTimestamp string    `json:"server_timestamp"`
	Properties      string    `json:"properties"`
	ProjectID       uuid.UUID `json:"project_id"`
	AppVersion      string    `json:"app_version"`
	OSName          string    `json:"os_name"`
	OSVersion       string    `json:"os_version"`
	DeviceModel     string    `json:"device_model"`
	DeviceID        string    `json:"device_id"`
	NetworkType     string    `json:"network_type"`
	Locale          string    `json:"locale"`
	Timezone        string    `json:"timezone"`
	SDKVersion      string    `json:"sdk_version"`
}

func rowFromEvent(ev event.EnrichedEvent) (eventRow, error) {
	properties := ""
	if len(ev.Properties) > 0 {
		raw, err := json.Marshal(ev.Properties)
		if err != nil {
			return eventRow{}, fmt.Errorf("marshal properties: %w", err)
		}
		properties = string(raw)
	}

	return eventRow{
		EventID:         ev.EventID,
		EventName:       ev.EventName,
		EventType:       string(ev.EventType),
		UserID:          ev.UserID,
		AnonymousID:     ev.AnonymousID,
		MobileNumber:    ev.MobileNumber,
		Email:           ev.Email,
		ClientTimestamp: formatTimestamp(ev.ClientTimestamp),
		ServerTimestamp: formatTimestamp(ev.ServerTimestamp),
		Properties:      properties,
		ProjectID:       ev.ProjectID,
		AppVersion:      ev.Context.AppVersion,
		OSName:          ev.Context.OSName,
		OSVersion:       ev.Context.OSVersion,
		DeviceModel:     ev.Context.DeviceModel,
		DeviceID:        ev.Context.DeviceID,
		NetworkType:     ev.Context.NetworkType,
		Locale:          ev.Context.Locale,
		Timezone:        ev.Context.Timezone,
		SDKVersion:      ev.Context.SDKVersion,
	}, nil
}

// Inserter writes event batches into the events table, retrying failed
// inserts with exponential back-off (500ms, 1s, 2s).
type Inserter struct {
	client *Client
	log    *zap.Logger
}

// NewInserter builds an Inserter over the given client.
func NewInserter(client *Client, log *zap.Logger) *Inserter {
	return &Inserter{client: client, log: log}
}

// Client exposes the underlying client for collaborators that run ad-hoc
// statements against the same instance.
func (i *Inserter) Client() *Client {
	return i.client
}

// InsertBatch inserts events as a single JSONEachRow statement. Empty
// batches are no-ops. The last error is returned once retries are
// exhausted.
func (i *Inserter) InsertBatch(ctx context.Context, events []event.EnrichedEvent) error {
	if len(events) == 0 {
		return nil
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		row, err := rowFromEvent(ev)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("marshal event row: %w", err)
		}
		lines = append(lines, string(raw))
	}

	statement := "INSERT INTO events FORMAT JSONEachRow\n" + strings.Join(lines, "\n")

	var lastErr error
	for attempt := 0; attempt < maxInsertRetries; attempt++ {
		err := i.client.Exec(ctx, statement)
		if err == nil {
			i.log.Debug("batch inserted",
				zap.Int("count", len(events)),
				zap.Int("attempt", attempt))
			return nil
		}

		lastErr = fmt.Errorf("insert attempt %d failed: %w", attempt+1, err)
		delay := baseRetryDelay * (1 << attempt)
		i.log.Warn("insert batch failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}
