package presence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BaseTopic is the default MQTT topic prefix for presence messages.
const BaseTopic = "/presence"

// Default topics under BaseTopic.
const (
	TopicState     = BaseTopic + "/state"
	TopicStatus    = BaseTopic + "/status"
	TopicArrival   = BaseTopic + "/eta"
	TopicDeparture = BaseTopic + "/etd"
)

// TopicSet names the four topics the service works with.
type TopicSet struct {
	State     string
	Status    string
	Arrival   string
	Departure string
}

// Topics builds the topic set rooted at base.
func Topics(base string) TopicSet {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = BaseTopic
	}
	return TopicSet{
		State:     base + "/state",
		Status:    base + "/status",
		Arrival:   base + "/eta",
		Departure: base + "/etd",
	}
}

// Inbound lists the subscribed topics in subscription order.
func (t TopicSet) Inbound() []string {
	return []string{t.State, t.Status, t.Arrival, t.Departure}
}

// Status is the operating mode of the space.
type Status int

const (
	StatusClosed Status = iota
	StatusOpen
	StatusThursday
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusThursday:
		return "thursday"
	default:
		return "closed"
	}
}

// ParseStatus maps the wire name of a status to its value.
func ParseStatus(value string) (Status, error) {
	switch value {
	case "open":
		return StatusOpen, nil
	case "closed":
		return StatusClosed, nil
	case "thursday":
		return StatusThursday, nil
	default:
		return StatusClosed, fmt.Errorf("unknown status %q", value)
	}
}

// MarshalJSON encodes the status as its lowercase name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts only the quoted lowercase names.
func (s *Status) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	parsed, err := ParseStatus(value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Person is someone present in the space. Names compare case-insensitively.
type Person struct {
	Name string
	Note *string
}

// SameAs reports whether both values name the same person.
func (p Person) SameAs(name string) bool {
	return strings.EqualFold(p.Name, name)
}

// Equal compares name and note exactly.
func (p Person) Equal(other Person) bool {
	if p.Name != other.Name {
		return false
	}
	if p.Note == nil || other.Note == nil {
		return p.Note == nil && other.Note == nil
	}
	return *p.Note == *other.Note
}

// MarshalJSON encodes a person as [name, note] with a null note when unset.
func (p Person) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{p.Name, p.Note})
}

// UnmarshalJSON accepts [name, note] and {"name": ..., "note": ...}.
func (p *Person) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			Name *string `json:"name"`
			Note *string `json:"note"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		if obj.Name == nil {
			return fmt.Errorf("person name required")
		}
		*p = Person{Name: *obj.Name, Note: obj.Note}
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(trimmed, &tuple); err != nil {
		return err
	}
	if len(tuple) != 2 {
		return fmt.Errorf("person: expected 2 elements, got %d", len(tuple))
	}
	var name string
	if err := json.Unmarshal(tuple[0], &name); err != nil {
		return fmt.Errorf("person name: %w", err)
	}
	var note *string
	if err := json.Unmarshal(tuple[1], &note); err != nil {
		return fmt.Errorf("person note: %w", err)
	}
	*p = Person{Name: name, Note: note}
	return nil
}

// Arrival is the payload published on the arrival topic.
type Arrival struct {
	Name string     `json:"name"`
	Time *time.Time `json:"time"`
	Note *string    `json:"note"`
}

// Departure is the payload published on the departure topic.
type Departure struct {
	Name string     `json:"name"`
	Time *time.Time `json:"time"`
}

// UnmarshalJSON requires the name field to be present.
func (a *Arrival) UnmarshalJSON(data []byte) error {
	type plain Arrival
	var raw struct {
		plain
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == nil {
		return fmt.Errorf("missing field `name`")
	}
	*a = Arrival(raw.plain)
	a.Name = *raw.Name
	return nil
}

// UnmarshalJSON requires the name field to be present.
func (d *Departure) UnmarshalJSON(data []byte) error {
	type plain Departure
	var raw struct {
		plain
		Name *string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Name == nil {
		return fmt.Errorf("missing field `name`")
	}
	*d = Departure(raw.plain)
	d.Name = *raw.Name
	return nil
}

// StringPtr returns a pointer to value, or nil for an empty string.
func StringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
