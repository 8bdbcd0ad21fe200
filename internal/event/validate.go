package event

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode"
)

const (
	// MaxBatchSize is the maximum number of events accepted per batch.
	MaxBatchSize = 100

	// MaxEventSize is the maximum serialized size of a single event (32 KiB).
	MaxEventSize = 32 * 1024

	// MaxBodySize is the maximum request body size after decompression (4 MiB).
	MaxBodySize = 4 * 1024 * 1024

	maxEventNameLen = 256

	maxFutureSkew = 24 * time.Hour
	maxPastSkew   = 30 * 24 * time.Hour
)

// Validate checks a single event against every field-level rule and returns
// the full list of failures. An empty slice means the event is valid.
func Validate(e IngestEvent) []string {
	var errs []string

	if len(e.EventName) > maxEventNameLen {
		errs = append(errs, "event_name must be at most 256 characters")
	}
	if !validEventName(e.EventName) {
		errs = append(errs, "event_name contains invalid characters; only alphanumeric, spaces, _, ., -, and $ are allowed")
	}

	if !e.EventType.Valid() {
		errs = append(errs, fmt.Sprintf("event_type %q is not one of track, identify, screen", e.EventType))
	}

	if e.EventType == TypeIdentify && e.UserID == "" {
		errs = append(errs, "user_id is required for identify events")
	}

	if e.MobileNumber != "" && !validMobileNumber(e.MobileNumber) {
		errs = append(errs, "mobile_number must be exactly 10 digits")
	}

	if e.Email != "" && !validEmail(e.Email) {
		errs = append(errs, "email is not valid")
	}

	now := time.Now().UTC()
	if e.ClientTimestamp.After(now.Add(maxFutureSkew)) {
		errs = append(errs, "client_timestamp must not be more than 24 hours in the future")
	}
	if e.ClientTimestamp.Before(now.Add(-maxPastSkew)) {
		errs = append(errs, "client_timestamp must not be more than 30 days in the past")
	}

	if e.AnonymousID == "" {
		errs = append(errs, "anonymous_id must not be empty")
	}

	return errs
}

// ValidateSize checks the serialized size of a single event.
func ValidateSize(e IngestEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if len(raw) > MaxEventSize {
		return fmt.Errorf("event %s exceeds maximum size of %d bytes (actual: %d bytes)", e.EventID, MaxEventSize, len(raw))
	}
	return nil
}

// ValidateBatch checks batch-level bounds (1..=100 events).
func ValidateBatch(b BatchRequest) error {
	if len(b.Batch) == 0 {
		return fmt.Errorf("batch must contain at least 1 event")
	}
	if len(b.Batch) > MaxBatchSize {
		return fmt.Errorf("batch must contain at most %d events, got %d", MaxBatchSize, len(b.Batch))
	}
	return nil
}

func validEventName(name string) bool {
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
		case r == ' ' || r == '_' || r == '.' || r == '-' || r == '$':
		default:
			return false
		}
	}
	return true
}

func validMobileNumber(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validEmail(s string) bool {
	if len(s) < 5 {
		return false
	}
	var hasAt, hasDot bool
	for _, r := range s {
		if r == '@' {
			hasAt = true
		}
		if r == '.' {
			hasDot = true
		}
	}
	return hasAt && hasDot
}
