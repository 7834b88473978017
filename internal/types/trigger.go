package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventName selects the workflow a trigger starts.
type EventName string

const (
	EventAvatarGenerate       EventName = "avatar/generate"
	EventAvatarGenerateCustom EventName = "avatar/generate-custom"
	EventAvatarGenerateHybrid EventName = "avatar/generate-hybrid"
	EventVideoGenerate        EventName = "video/generate"
	EventVideoTransfer        EventName = "video/transfer"
)

func (e EventName) String() string {
	return string(e)
}

// Trigger is immutable once emitted and consumed at most once.
type Trigger struct {
	ID        TriggerID
	Event     EventName
	Payload   []byte
	EmittedAt time.Time
}

func NewTrigger(event EventName, payload any) (Trigger, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Trigger{}, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return Trigger{
		ID:        NewTriggerID(),
		Event:     event,
		Payload:   data,
		EmittedAt: time.Now(),
	}, nil
}

// Decode unmarshals the payload. Malformed payloads can never succeed on
// retry so the error is permanent.
func (t Trigger) Decode(out any) error {
	if err := json.Unmarshal(t.Payload, out); err != nil {
		return Permanent(fmt.Errorf("decoding %s payload: %w", t.Event, err))
	}
	return nil
}
