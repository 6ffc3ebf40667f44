package presence

import (
	"bytes"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mikey-austin/presenced/pkg/presence"
)

// Event is a decoded inbound message.
type Event interface {
	kind() string
}

// ArrivalEvent announces that someone arrived.
type ArrivalEvent struct{ presence.Arrival }

// DepartureEvent announces that someone left.
type DepartureEvent struct{ presence.Departure }

// StatusEvent requests a status change.
type StatusEvent struct{ Status presence.Status }

// StateEvent carries a full snapshot published elsewhere.
type StateEvent struct{ State presence.State }

func (ArrivalEvent) kind() string   { return "arrival" }
func (DepartureEvent) kind() string { return "departure" }
func (StatusEvent) kind() string    { return "status" }
func (StateEvent) kind() string     { return "state" }

type statusDecoder func(payload []byte) (presence.Status, bool)

// Tried in order; the first match wins.
var statusDecoders = []statusDecoder{
	decodeStatusJSON,
	decodeStatusRaw,
}

// Decoder turns topic and payload pairs into events. Bad payloads are
// logged and dropped, never returned as errors.
type Decoder struct {
	log    *zap.Logger
	topics presence.TopicSet
}

// NewDecoder creates a decoder for topics.
func NewDecoder(log *zap.Logger, topics presence.TopicSet) Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return Decoder{log: log, topics: topics}
}

// Decode returns the event for a message, or false when the message is
// ignored.
func (d Decoder) Decode(topic string, payload []byte) (Event, bool) {
	switch topic {
	case d.topics.Arrival:
		var arrival presence.Arrival
		if err := json.Unmarshal(payload, &arrival); err != nil {
			return d.invalid(topic, err)
		}
		return ArrivalEvent{arrival}, true
	case d.topics.Departure:
		var departure presence.Departure
		if err := json.Unmarshal(payload, &departure); err != nil {
			return d.invalid(topic, err)
		}
		return DepartureEvent{departure}, true
	case d.topics.State:
		state, err := presence.UnmarshalState(payload)
		if err != nil {
			return d.invalid(topic, err)
		}
		return StateEvent{state}, true
	case d.topics.Status:
		for _, decode := range statusDecoders {
			if status, ok := decode(payload); ok {
				return StatusEvent{status}, true
			}
		}
		d.log.Warn("invalid status payload", zap.String("topic", topic), zap.String("payload", truncate(payload)))
		messagesTotal.WithLabelValues(labelInvalid).Inc()
		return nil, false
	default:
		messagesTotal.WithLabelValues(labelIgnored).Inc()
		return nil, false
	}
}

func (d Decoder) invalid(topic string, err error) (Event, bool) {
	d.log.Warn("invalid payload", zap.String("topic", topic), zap.Error(err))
	messagesTotal.WithLabelValues(labelInvalid).Inc()
	return nil, false
}

func decodeStatusJSON(payload []byte) (presence.Status, bool) {
	var status presence.Status
	if err := json.Unmarshal(payload, &status); err != nil {
		return presence.StatusClosed, false
	}
	return status, true
}

// decodeStatusRaw accepts unquoted names from clients that do not speak JSON.
func decodeStatusRaw(payload []byte) (presence.Status, bool) {
	switch {
	case bytes.Equal(payload, []byte("open")):
		return presence.StatusOpen, true
	case bytes.Equal(payload, []byte("closed")):
		return presence.StatusClosed, true
	case bytes.Equal(payload, []byte("thursday")):
		return presence.StatusThursday, true
	}
	return presence.StatusClosed, false
}

func truncate(payload []byte) string {
	const max = 128
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}
