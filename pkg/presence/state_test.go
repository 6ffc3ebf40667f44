package presence

import (
	"testing"
	"time"
)

func TestArriveIsIdempotent(t *testing.T) {
	state := NewState()
	arrival := Arrival{Name: "Alice", Note: StringPtr("soldering")}

	if !state.Arrive(arrival) {
		t.Fatalf("expected first arrival to change state")
	}
	if state.Arrive(arrival) {
		t.Fatalf("expected repeated arrival to be a no-op")
	}
	if len(state.People) != 1 {
		t.Fatalf("expected 1 person, got %d", len(state.People))
	}
}

func TestArriveUpdatesNoteInPlace(t *testing.T) {
	state := NewState()
	state.Arrive(Arrival{Name: "Alice"})
	state.Arrive(Arrival{Name: "Bob"})
	state.Arrive(Arrival{Name: "Carol"})

	now := time.Now()
	if !state.Arrive(Arrival{Name: "bob", Time: &now, Note: StringPtr("back at 5")}) {
		t.Fatalf("expected note change to report a change")
	}
	if len(state.People) != 3 {
		t.Fatalf("expected 3 people, got %d", len(state.People))
	}
	got := state.People[1]
	if got.Name != "bob" || got.Note == nil || *got.Note != "back at 5" {
		t.Fatalf("expected bob updated in position 1, got %+v", got)
	}
	if state.People[2].Name != "Carol" {
		t.Fatalf("expected order preserved, got %+v", state.People)
	}
}

func TestArriveClearingNoteIsAChange(t *testing.T) {
	state := NewState()
	state.Arrive(Arrival{Name: "Alice", Note: StringPtr("late")})
	if !state.Arrive(Arrival{Name: "Alice"}) {
		t.Fatalf("expected dropping the note to be a change")
	}
	if state.People[0].Note != nil {
		t.Fatalf("expected note cleared")
	}
}

func TestDepartIsCaseInsensitive(t *testing.T) {
	state := NewState()
	state.Arrive(Arrival{Name: "Alice"})
	state.Arrive(Arrival{Name: "Bob"})

	if !state.Depart(Departure{Name: "ALICE"}) {
		t.Fatalf("expected departure to remove Alice")
	}
	if len(state.People) != 1 || state.People[0].Name != "Bob" {
		t.Fatalf("expected only Bob left, got %+v", state.People)
	}
}

func TestDepartUnknownIsNoop(t *testing.T) {
	state := NewState()
	state.SetStatus(StatusOpen)
	if state.Depart(Departure{Name: "nobody"}) {
		t.Fatalf("expected no change")
	}
	if state.Status != StatusOpen {
		t.Fatalf("expected status untouched when nobody was removed")
	}
}

func TestDepartLastPersonClosesSpace(t *testing.T) {
	state := NewState()
	state.Arrive(Arrival{Name: "Alice"})
	state.SetStatus(StatusOpen)

	if !state.Depart(Departure{Name: "alice"}) {
		t.Fatalf("expected change")
	}
	if state.Status != StatusClosed {
		t.Fatalf("expected closed, got %s", state.Status)
	}
	if len(state.People) != 0 {
		t.Fatalf("expected empty people")
	}
}

func TestDepartWithOthersKeepsStatus(t *testing.T) {
	state := NewState()
	state.Arrive(Arrival{Name: "Alice"})
	state.Arrive(Arrival{Name: "Bob"})
	state.SetStatus(StatusThursday)

	state.Depart(Departure{Name: "Alice"})
	if state.Status != StatusThursday {
		t.Fatalf("expected thursday, got %s", state.Status)
	}
}

func TestSetStatus(t *testing.T) {
	state := NewState()
	if state.SetStatus(StatusClosed) {
		t.Fatalf("expected closed -> closed to be a no-op")
	}
	if !state.SetStatus(StatusOpen) {
		t.Fatalf("expected change to open")
	}
	if state.SetStatus(StatusOpen) {
		t.Fatalf("expected open -> open to be a no-op")
	}
}

func TestReplaceAdoptsState(t *testing.T) {
	state := NewState()
	state.Arrive(Arrival{Name: "Alice"})

	other := State{Status: StatusThursday, People: []Person{{Name: "Bob"}, {Name: "Carol", Note: StringPtr("x")}}}
	state.Replace(other)
	if !state.Equal(other) {
		t.Fatalf("expected replaced state, got %+v", state)
	}

	other.People[0].Name = "Mallory"
	if state.People[0].Name != "Bob" {
		t.Fatalf("expected replace to copy the people slice")
	}
}

func TestStateRoundTrip(t *testing.T) {
	states := []State{
		*NewState(),
		{Status: StatusOpen, People: []Person{{Name: "Alice"}}},
		{Status: StatusThursday, People: []Person{{Name: "Alice", Note: StringPtr("")}, {Name: "Bob", Note: StringPtr("till 9")}}},
	}
	for _, want := range states {
		payload, err := want.Marshal()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := UnmarshalState(payload)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", payload, err)
		}
		if !got.Equal(want) {
			t.Fatalf("round trip mismatch: %s", payload)
		}
	}
}

func TestMarshalWireFormat(t *testing.T) {
	state := State{Status: StatusOpen, People: []Person{{Name: "Alice", Note: StringPtr("hi")}, {Name: "Bob"}}}
	payload, err := state.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"status":"open","people":[["Alice","hi"],["Bob",null]]}`
	if string(payload) != want {
		t.Fatalf("expected %s, got %s", want, payload)
	}

	empty, err := (&State{}).Marshal()
	if err != nil {
		t.Fatalf("marshal empty: %v", err)
	}
	if string(empty) != `{"status":"closed","people":[]}` {
		t.Fatalf("unexpected empty payload %s", empty)
	}
}

func TestUnmarshalStateAcceptsObjectPeople(t *testing.T) {
	got, err := UnmarshalState([]byte(`{"status":"thursday","people":[{"name":"Alice"},{"name":"Bob","note":"hi"}]}`))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := State{Status: StatusThursday, People: []Person{{Name: "Alice"}, {Name: "Bob", Note: StringPtr("hi")}}}
	if !got.Equal(want) {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestUnmarshalStateErrors(t *testing.T) {
	payloads := []string{
		``,
		`not json`,
		`{"people":[]}`,
		`{"status":"open"}`,
		`{"status":"ajar","people":[]}`,
		`{"status":"open","people":[["Alice"]]}`,
		`{"status":"open","people":[[1,null]]}`,
		`{"status":"open","people":[{"note":"x"}]}`,
	}
	for _, payload := range payloads {
		if _, err := UnmarshalState([]byte(payload)); err == nil {
			t.Fatalf("expected error for %q", payload)
		}
	}
}
