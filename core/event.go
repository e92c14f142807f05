package core

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// EventSource identifies the origin of an Event: a participant, a
// service, or the engine itself.
type EventSource struct {
	Id   string `json:"id"`
	Name string `json:"name,omitempty" yaml:",omitempty"`
	Uri  string `json:"uri,omitempty" yaml:",omitempty"`
}

// EventData is the payload of an Event.
type EventData struct {
	Title       string                 `json:"title,omitempty" yaml:",omitempty"`
	Description string                 `json:"description,omitempty" yaml:",omitempty"`
	Content     map[string]interface{} `json:"content,omitempty" yaml:",omitempty"`
}

// Event is the unit of communication.  Inbound Events drive Thred
// state machines; outbound Events are produced by Transforms and
// routed to services and participants.
type Event struct {
	Id string `json:"id"`

	// Type classifies the Event.  Condition predicates usually
	// dispatch on this field.
	Type string `json:"type"`

	// Re is the id of the Event that this Event responds to, if
	// any.
	Re string `json:"re,omitempty" yaml:",omitempty"`

	// ThredId binds the Event to a running Thred.  An Event
	// without a ThredId is "unbound" and can start new Threds.
	ThredId string `json:"thredId,omitempty" yaml:",omitempty"`

	// Time is milliseconds since the epoch.
	Time int64 `json:"time,omitempty" yaml:",omitempty"`

	Source *EventSource `json:"source,omitempty" yaml:",omitempty"`
	Data   *EventData   `json:"data,omitempty" yaml:",omitempty"`
}

// NewEvent creates an Event with a fresh id and the current time.
func NewEvent(eventType string, source *EventSource, data *EventData) *Event {
	return &Event{
		Id:     Gen(),
		Type:   eventType,
		Time:   Now(),
		Source: source,
		Data:   data,
	}
}

// Copy makes a deep copy (via JSON) of the Event.
func (e *Event) Copy() *Event {
	js, err := json.Marshal(e)
	if err != nil {
		return nil
	}
	var c Event
	if err := json.Unmarshal(js, &c); err != nil {
		return nil
	}
	return &c
}

// Values renders the Event as a generic map for use as an expression
// environment.
func (e *Event) Values() map[string]interface{} {
	js, err := json.Marshal(e)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(js, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

// EventFromValue attempts to reconstitute an Event from a generic
// value (typically something previously stored in a Thred's scope).
func EventFromValue(x interface{}) (*Event, error) {
	switch v := x.(type) {
	case *Event:
		return v, nil
	case Event:
		return &v, nil
	}
	js, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	var e Event
	if err := json.Unmarshal(js, &e); err != nil {
		return nil, err
	}
	if e.Id == "" && e.Type == "" {
		return nil, &Validation{"event", "value is not an event"}
	}
	return &e, nil
}

// Now is the engine's clock: milliseconds since the epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Gen makes a fresh id.
func Gen() string {
	id, err := uuid.NewV4()
	if err != nil {
		// NewV4 only fails when the system's entropy source
		// does.
		panic(err)
	}
	return id.String()
}
