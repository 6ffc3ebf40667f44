package presence

import (
	"encoding/json"
	"fmt"
)

// State holds the current status of the space and who is present.
type State struct {
	Status Status   `json:"status"`
	People []Person `json:"people"`
}

// NewState returns an empty, closed state.
func NewState() *State {
	return &State{Status: StatusClosed, People: []Person{}}
}

// Arrive adds a person, or updates the note of someone already present.
// It reports whether the state changed. The arrival time is not stored.
func (s *State) Arrive(arrival Arrival) bool {
	person := Person{Name: arrival.Name, Note: arrival.Note}
	for i, p := range s.People {
		if !p.SameAs(arrival.Name) {
			continue
		}
		if p.Equal(person) {
			return false
		}
		s.People[i] = person
		return true
	}
	s.People = append(s.People, person)
	return true
}

// Depart removes a person by name. When the last person leaves the space
// is closed as part of the same change.
func (s *State) Depart(departure Departure) bool {
	people := make([]Person, 0, len(s.People))
	removed := false
	for _, p := range s.People {
		if p.SameAs(departure.Name) {
			removed = true
			continue
		}
		people = append(people, p)
	}
	if !removed {
		return false
	}
	s.People = people
	if len(s.People) == 0 {
		s.Status = StatusClosed
	}
	return true
}

// SetStatus sets the status and reports whether it differed.
func (s *State) SetStatus(status Status) bool {
	if s.Status == status {
		return false
	}
	s.Status = status
	return true
}

// Replace adopts another state wholesale. Its contents are trusted as is.
func (s *State) Replace(other State) {
	s.Status = other.Status
	s.People = append([]Person{}, other.People...)
}

// Clone returns a deep copy.
func (s *State) Clone() State {
	out := State{Status: s.Status, People: make([]Person, 0, len(s.People))}
	for _, p := range s.People {
		cp := Person{Name: p.Name}
		if p.Note != nil {
			note := *p.Note
			cp.Note = &note
		}
		out.People = append(out.People, cp)
	}
	return out
}

// Equal compares status and people in order.
func (s State) Equal(other State) bool {
	if s.Status != other.Status || len(s.People) != len(other.People) {
		return false
	}
	for i := range s.People {
		if !s.People[i].Equal(other.People[i]) {
			return false
		}
	}
	return true
}

// Marshal encodes the state as a snapshot payload.
func (s *State) Marshal() ([]byte, error) {
	wire := State{Status: s.Status, People: s.People}
	if wire.People == nil {
		wire.People = []Person{}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return payload, nil
}

// UnmarshalState decodes a snapshot payload. Both fields are required.
func UnmarshalState(payload []byte) (State, error) {
	var raw struct {
		Status *Status  `json:"status"`
		People []Person `json:"people"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return State{}, err
	}
	if raw.Status == nil {
		return State{}, fmt.Errorf("missing field `status`")
	}
	if raw.People == nil {
		return State{}, fmt.Errorf("missing field `people`")
	}
	return State{Status: *raw.Status, People: raw.People}, nil
}
