package models

import (
	"encoding/json"
)

// EventType is the closed set of inbound integration event types.
type EventType string

const (
	EventContractCreated       EventType = "CONTRACT_CREATED"
	EventContractStatusChanged EventType = "CONTRACT_STATUS_CHANGED"
	EventContractTerminated    EventType = "CONTRACT_TERMINATED"
	EventCustomerCreated       EventType = "CUSTOMER_CREATED"
	EventCustomerUpdated       EventType = "CUSTOMER_UPDATED"
)

// Valid reports whether the event type is a member of the closed set.
func (t EventType) Valid() bool {
	switch t {
	case EventContractCreated, EventContractStatusChanged, EventContractTerminated,
		EventCustomerCreated, EventCustomerUpdated:
		return true
	}
	return false
}

// IntegrationMessage is one inbound event delivered at-least-once by upstream.
type IntegrationMessage struct {
	EventType     EventType       `json:"event_type" validate:"required"`
	TenantID      string          `json:"tenant_id" validate:"required"`
	MessageID     string          `json:"message_id,omitempty"`
	SourceSystem  string          `json:"source_system" validate:"required"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// PayloadMap decodes the message payload. Returns an empty map for a nil payload.
func (m *IntegrationMessage) PayloadMap() (map[string]any, error) {
	payload := map[string]any{}
	if len(m.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}
