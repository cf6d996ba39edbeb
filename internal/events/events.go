package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types produced by work functions.
const (
	TypeUnderwritingCompleted = "underwriting.completed"
	TypeClaimsFlagged         = "claims.flagged"
	TypeActuarialBenchmarked  = "actuarial.benchmarked"
)

// Reserved envelope keys. Data fields with these names are overridden.
const (
	keyEventID       = "event_id"
	keyEventType     = "event_type"
	keyTimestamp     = "timestamp"
	keySource        = "source"
	keyInstitutionID = "institution_id"
)

// Event is a domain event. Once appended to a topic it is never modified.
type Event struct {
	// ID is unique per event. Executor-published events derive it from the
	// task ID so a retried task republishes the same ID.
	ID            string
	Type          string
	Timestamp     time.Time
	Source        string
	InstitutionID string
	// Data holds the domain fields, flattened into the envelope.
	Data map[string]any

	raw []byte
}

// NewEvent creates an event of eventType with data taken from any JSON
// object value (a struct or a map).
func NewEvent(eventType, institutionID string, data any) (*Event, error) {
	fields := map[string]any{}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event data: %w", err)
		}
		if err := json.Unmarshal(b, &fields); err != nil {
			return nil, fmt.Errorf("event data must be a JSON object: %w", err)
		}
	}
	return &Event{
		Type:          eventType,
		InstitutionID: institutionID,
		Data:          fields,
	}, nil
}

// NewDeterministicID derives a stable event ID from a task ID and event type.
func NewDeterministicID(taskID, eventType string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID+"/"+eventType)).String()
}

// Encode returns the flattened JSON envelope.
func (e *Event) Encode() ([]byte, error) {
	envelope := make(map[string]any, len(e.Data)+5)
	for k, v := range e.Data {
		envelope[k] = v
	}
	envelope[keyEventID] = e.ID
	envelope[keyEventType] = e.Type
	envelope[keyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	envelope[keySource] = e.Source
	if e.InstitutionID != "" {
		envelope[keyInstitutionID] = e.InstitutionID
	} else {
		delete(envelope, keyInstitutionID)
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event envelope: %w", err)
	}
	return b, nil
}

// Decode parses a flattened JSON envelope. The envelope must carry an
// event_type; other reserved keys are optional.
func Decode(payload []byte) (*Event, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}

	e := &Event{raw: append([]byte(nil), payload...)}
	var ok bool
	if e.Type, ok = fields[keyEventType].(string); !ok || e.Type == "" {
		return nil, fmt.Errorf("invalid event envelope: missing %s", keyEventType)
	}
	e.ID, _ = fields[keyEventID].(string)
	e.Source, _ = fields[keySource].(string)
	e.InstitutionID, _ = fields[keyInstitutionID].(string)
	if ts, ok := fields[keyTimestamp].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = parsed
		}
	}

	for _, k := range []string{keyEventID, keyEventType, keyTimestamp, keySource, keyInstitutionID} {
		delete(fields, k)
	}
	e.Data = fields
	return e, nil
}

// Bind decodes the full envelope, reserved keys included, into v.
func (e *Event) Bind(v any) error {
	raw := e.raw
	if raw == nil {
		var err error
		if raw, err = e.Encode(); err != nil {
			return err
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to bind %s event: %w", e.Type, err)
	}
	return nil
}
