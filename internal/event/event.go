// Package event defines the analytics event wire model shared by the
// ingestion API and the ClickHouse writer.
//
// Purpose:
//
//	This package holds the inbound event schema (IngestEvent), the enriched
//	form that travels through SQS (EnrichedEvent), and the field-level
//	validation rules the ingestion edge enforces before accepting a batch.
//
// Key Responsibilities:
//   - Define the Track/Identify/Screen event taxonomy
//   - Carry the device context captured by the SDKs
//   - Validate events and report every failure, not just the first
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an analytics event.
type Type string

const (
	TypeTrack    Type = "track"
	TypeIdentify Type = "identify"
	TypeScreen   Type = "screen"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeTrack, TypeIdentify, TypeScreen:
		return true
	}
	return false
}

// DeviceContext carries the device and SDK metadata attached to every event.
type DeviceContext struct {
	AppVersion  string `json:"app_version,omitempty"`
	OSName      string `json:"os_name"`
	OSVersion   string `json:"os_version"`
	DeviceModel string `json:"device_model"`
	DeviceID    string `json:"device_id"`
	NetworkType string `json:"network_type,omitempty"`
	Locale      string `json:"locale"`
	Timezone    string `json:"timezone"`
	SDKVersion  string `json:"sdk_version"`
}

// IngestEvent is a single event as submitted by an SDK. Properties are
// accepted as opaque structured JSON and never schema-checked.
type IngestEvent struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventName       string          `json:"event_name"`
	EventType       Type            `json:"event_type"`
	UserID          string          `json:"user_id,omitempty"`
	AnonymousID     string          `json:"anonymous_id"`
	MobileNumber    string          `json:"mobile_number,omitempty"`
	Email           string          `json:"email,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
	Properties      map[string]any  `json:"properties,omitempty"`
	Context         DeviceContext   `json:"context"`
}

// EnrichedEvent is an IngestEvent after admission: the ingestion edge stamps
// the authenticated project and a server-side timestamp. The server timestamp
// is assigned exactly once and is the dedup tiebreaker in ClickHouse.
type EnrichedEvent struct {
	EventID         uuid.UUID      `json:"event_id"`
	EventName       string         `json:"event_name"`
	EventType       Type           `json:"event_type"`
	UserID          string         `json:"user_id,omitempty"`
	AnonymousID     string         `json:"anonymous_id"`
	MobileNumber    string         `json:"mobile_number,omitempty"`
	Email           string         `json:"email,omitempty"`
	ClientTimestamp time.Time      `json:"client_timestamp"`
	Properties      map[string]any `json:"properties,omitempty"`
	Context         DeviceContext  `json:"context"`
	ProjectID       uuid.UUID      `json:"project_id"`
	ServerTimestamp time.Time      `json:"server_timestamp"`
}

// Enrich stamps the event with the authenticated project and the admission
// instant. Every event in a batch shares the same server timestamp.
func Enrich(e IngestEvent, projectID uuid.UUID, serverTS time.Time) EnrichedEvent {
	return EnrichedEvent{
		EventID:         e.EventID,
		EventName:       e.EventName,
		EventType:       e.EventType,
		UserID:          e.UserID,
		AnonymousID:     e.AnonymousID,
		MobileNumber:    e.MobileNumber,
		Email:           e.Email,
		ClientTimestamp: e.ClientTimestamp,
		Properties:      e.Properties,
		Context:         e.Context,
		ProjectID:       projectID,
		ServerTimestamp: serverTS,
	}
}

// BatchRequest is the request body of POST /v1/events/batch.
type BatchRequest struct {
	Batch  []IngestEvent `json:"batch"`
	SentAt time.Time     `json:"sent_at"`
}
