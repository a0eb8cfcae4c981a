// Package cloudevent provides CloudEvents 1.0 types and an HTTP sender for
// run-failure alarms.
package cloudevent

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// SpecVersion is the CloudEvents version produced by New.
const SpecVersion = "1.0"

// ErrInvalidEvent marks an event missing a required attribute. Sending it
// again cannot succeed.
var ErrInvalidEvent = errors.New("invalid cloudevent")

// CloudEvent is a structured-mode CloudEvents 1.0 envelope. Data is the
// alarm body handed to the alerting endpoint.
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject,omitempty"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data"`
}

// New creates an event that occurred at the given time. Alarms pass the
// moment the run finished, not the moment the event is built, so retries
// keep the original timestamp.
func New(eventType, source, subject, id string, at time.Time, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            at.UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Validate checks the attributes every receiver relies on.
func (e *CloudEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	missing := func(attr string) error {
		return fmt.Errorf("%w: %s is required", ErrInvalidEvent, attr)
	}
	switch {
	case e.SpecVersion != SpecVersion:
		return fmt.Errorf("%w: specversion %q", ErrInvalidEvent, e.SpecVersion)
	case e.ID == "":
		return missing("id")
	case e.Source == "":
		return missing("source")
	case e.Type == "":
		return missing("type")
	case e.Time.IsZero():
		return missing("time")
	}
	return nil
}

// setHeaders mirrors the context attributes into Ce-* headers so receivers
// can route without parsing the body. Subject is omitted when empty.
func (e *CloudEvent) setHeaders(h http.Header) {
	h.Set("Ce-Specversion", e.SpecVersion)
	h.Set("Ce-Type", e.Type)
	h.Set("Ce-Source", e.Source)
	h.Set("Ce-Id", e.ID)
	h.Set("Ce-Time", e.Time.Format(time.RFC3339))
	if e.Subject != "" {
		h.Set("Ce-Subject", e.Subject)
	}
}
