package presence

import (
	"testing"

	"go.uber.org/zap"

	"github.com/mikey-austin/presenced/pkg/presence"
)

func FuzzDecode(f *testing.F) {
	f.Add(presence.TopicArrival, `{"name":"Alice","note":"hi"}`)
	f.Add(presence.TopicDeparture, `{"name":"Alice"}`)
	f.Add(presence.TopicStatus, `open`)
	f.Add(presence.TopicState, `{"status":"open","people":[["Alice",null]]}`)
	f.Add("", "")

	decoder := NewDecoder(zap.NewNop(), presence.Topics(""))
	f.Fuzz(func(t *testing.T, topic string, payload string) {
		event, ok := decoder.Decode(topic, []byte(payload))
		if ok && event == nil {
			t.Fatalf("decoded nil event")
		}
		if state, isState := event.(StateEvent); isState {
			wire, err := state.State.Marshal()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			again, err := presence.UnmarshalState(wire)
			if err != nil {
				t.Fatalf("unmarshal %s: %v", wire, err)
			}
			if !again.Equal(state.State) {
				t.Fatalf("round trip mismatch for %s", wire)
			}
		}
	})
}
