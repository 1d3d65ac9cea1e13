// Package event contains the envelope of a scheduled event as it is stored and delivered.
package event

import (
	"sort"
	"strings"
	"time"

	"github.com/keboola/dtimer/internal/pkg/encoding/json"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

// Event is the stored envelope, the payload is opaque for the scheduler.
type Event struct {
	ID string `json:"id"`
	// MaxRetries is a hint for the application, the scheduler does not enforce it.
	MaxRetries int             `json:"maxRetries"`
	Payload    json.RawMessage `json:"payload"`
}

// UpcomingEvent is a pending event with its due time.
type UpcomingEvent struct {
	ExpireAt time.Time
	Event    Event
}

// Upcoming is a list of pending events ordered by the due time.
type Upcoming []UpcomingEvent

// New creates the envelope, the payload must encode to a JSON object.
func New(id string, maxRetries int, payload any) (Event, error) {
	if err := ValidateID(id); err != nil {
		return Event{}, err
	}
	if maxRetries < 0 {
		return Event{}, errors.Errorf(`maxRetries must be a non-negative number, found %d`, maxRetries)
	}

	raw, err := NewPayload(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{ID: id, MaxRetries: maxRetries, Payload: raw}, nil
}

// NewPayload encodes the payload, it must be a JSON object.
func NewPayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		var err error
		if raw, err = json.Encode(payload, false); err != nil {
			return nil, errors.PrefixError(err, "invalid payload")
		}
	}

	if !json.IsObject(raw) {
		return nil, errors.New("payload must be an object")
	}

	return raw, nil
}

func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("event id must be a non-empty string")
	}
	return nil
}

// Decode the serialized envelope.
func Decode(data string) (Event, error) {
	var ev Event
	if err := json.DecodeString(data, &ev); err != nil {
		return Event{}, err
	}
	if ev.ID == "" {
		return Event{}, errors.New("event id is missing")
	}
	return ev, nil
}

// Encode the envelope to be stored.
func (e Event) Encode() (string, error) {
	return json.EncodeString(e, false)
}

// DecodePayload to the target value.
func (e Event) DecodePayload(target any) error {
	return json.Decode(e.Payload, target)
}

// ByID returns a map view of the list.
func (v Upcoming) ByID() map[string]UpcomingEvent {
	out := make(map[string]UpcomingEvent, len(v))
	for _, item := range v {
		out[item.Event.ID] = item
	}
	return out
}

// IDs returns ids in the list order.
func (v Upcoming) IDs() []string {
	out := make([]string, 0, len(v))
	for _, item := range v {
		out = append(out, item.Event.ID)
	}
	return out
}

// Sort by the due time, ties by id.
func (v Upcoming) Sort() {
	sort.SliceStable(v, func(i, j int) bool {
		if v[i].ExpireAt.Equal(v[j].ExpireAt) {
			return v[i].Event.ID < v[j].Event.ID
		}
		return v[i].ExpireAt.Before(v[j].ExpireAt)
	})
}
