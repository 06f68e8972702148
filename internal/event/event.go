// Package event defines the classification event reported to the collection backend and
// the retry record persisted while a delivery is pending.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the ISO-8601 layout used on the wire. Timestamps are always UTC.
const TimestampLayout = time.RFC3339

// ErrMissingSiteID signals an event that must not be dispatched.
var ErrMissingSiteID = errors.New("site id is required")

// ClassificationEvent is one detected automated request. It is a value type: once built it
// is never modified, only copied, serialized and persisted.
type ClassificationEvent struct {
	SiteID    string `json:"site_id"`
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
	Path      string `json:"path"`
	Timestamp string `json:"timestamp"`
}

// New builds an event stamped with at (converted to UTC).
func New(siteID, userAgent, ipAddress, path string, at time.Time) ClassificationEvent {
	return ClassificationEvent{
		SiteID:    siteID,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		Path:      path,
		Timestamp: at.UTC().Format(TimestampLayout),
	}
}

// Validate performs coarse validation before dispatch.
func (e ClassificationEvent) Validate() error {
	if e.SiteID == "" {
		return ErrMissingSiteID
	}
	if _, err := time.Parse(TimestampLayout, e.Timestamp); err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", e.Timestamp, err)
	}
	return nil
}

// Time parses the event timestamp.
func (e ClassificationEvent) Time() (time.Time, error) {
	t, err := time.Parse(TimestampLayout, e.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return t, nil
}

// Marshal encodes the wire body.
func (e ClassificationEvent) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a wire body.
func Unmarshal(data []byte) (ClassificationEvent, error) {
	var e ClassificationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ClassificationEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return e, nil
}

// RetryRecord is the persisted state of a pending re-delivery.
type RetryRecord struct {
	// RetryKey correlates the payload with its scheduled job.
	RetryKey string `json:"retry_key"`
	// Payload is the event exactly as it was first dispatched.
	Payload ClassificationEvent `json:"payload"`
	// Attempts counts scheduled re-delivery attempts so far.
	Attempts int `json:"attempt_count"`
	// Expiry is the hard deadline after which the record is gone regardless of attempts.
	Expiry time.Time `json:"expiry"`
}

// Remaining returns the time left before the record expires.
func (r RetryRecord) Remaining(now time.Time) time.Duration {
	return r.Expiry.Sub(now)
}
