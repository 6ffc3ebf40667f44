package presence

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/presenced/internal/adapters/mqttserver"
	"github.com/mikey-austin/presenced/pkg/presence"
)

// MQTT delivery levels used by the service.
const (
	qosAtMostOnce  byte = 0
	qosAtLeastOnce byte = 1
)

const defaultQueueSize = 64

// Transport is the broker side of the service.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqttserver.MessageHandler) error
	Unsubscribe(topic string) error
	PublishAsync(topic string, qos byte, retained bool, payload []byte) error
	Errors() <-chan error
}

type message struct {
	topic   string
	payload []byte
}

// Service applies inbound events to a single presence state and
// republishes the snapshot when it changes. Only the goroutine running
// Run (or a caller of Handle, in tests) touches the state.
type Service struct {
	log       *zap.Logger
	state     *presence.State
	transport Transport
	decoder   Decoder
	topics    presence.TopicSet

	inbox    chan message
	done     chan struct{}
	doneOnce sync.Once
}

// NewService creates a service around state.
func NewService(log *zap.Logger, transport Transport, topics presence.TopicSet, state *presence.State) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if state == nil {
		state = presence.NewState()
	}
	return &Service{
		log:       log,
		state:     state,
		transport: transport,
		decoder:   NewDecoder(log, topics),
		topics:    topics,
		inbox:     make(chan message, defaultQueueSize),
		done:      make(chan struct{}),
	}
}

// Start subscribes to the inbound topics. Nothing is published.
func (s *Service) Start() error {
	s.log.Info("starting presence service", zap.Strings("topics", s.topics.Inbound()))
	for _, topic := range s.topics.Inbound() {
		if err := s.transport.Subscribe(topic, qosAtMostOnce, s.enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

// Run handles queued messages one at a time until ctx is cancelled or a
// publish fails.
func (s *Service) Run(ctx context.Context) error {
	defer s.doneOnce.Do(func() { close(s.done) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.transport.Errors():
			return err
		case msg := <-s.inbox:
			if err := s.Handle(msg.topic, msg.payload); err != nil {
				return err
			}
		}
	}
}

// Handle processes one message. Only a failure to publish the snapshot is
// returned; undecodable messages are dropped.
func (s *Service) Handle(topic string, payload []byte) error {
	event, ok := s.decoder.Decode(topic, payload)
	if !ok {
		return nil
	}
	messagesTotal.WithLabelValues(event.kind()).Inc()

	changed := false
	switch ev := event.(type) {
	case ArrivalEvent:
		changed = s.state.Arrive(ev.Arrival)
		s.log.Debug("arrival", zap.String("name", ev.Name), zap.Bool("changed", changed))
	case DepartureEvent:
		changed = s.state.Depart(ev.Departure)
		s.log.Debug("departure", zap.String("name", ev.Name), zap.Bool("changed", changed))
	case StatusEvent:
		changed = s.state.SetStatus(ev.Status)
		s.log.Debug("status", zap.Stringer("status", ev.Status), zap.Bool("changed", changed))
	case StateEvent:
		// Adopted without republishing so instances do not echo each other.
		s.state.Replace(ev.State)
		s.log.Debug("state replaced", zap.Stringer("status", ev.State.Status), zap.Int("people", len(ev.State.People)))
	}
	peoplePresent.Set(float64(len(s.state.People)))

	if !changed {
		return nil
	}
	return s.publish()
}

// Snapshot copies the current state. It must not race with Run.
func (s *Service) Snapshot() presence.State {
	return s.state.Clone()
}

// Stop drops the inbound subscriptions.
func (s *Service) Stop() {
	for _, topic := range s.topics.Inbound() {
		if err := s.transport.Unsubscribe(topic); err != nil {
			s.log.Warn("unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (s *Service) publish() error {
	payload, err := s.state.Marshal()
	if err != nil {
		return err
	}
	if err := s.transport.PublishAsync(s.topics.State, qosAtLeastOnce, true, payload); err != nil {
		return fmt.Errorf("publish state: %w", err)
	}
	snapshotsPublished.Inc()
	s.log.Info("published state",
		zap.Stringer("status", s.state.Status),
		zap.Int("people", len(s.state.People)),
	)
	return nil
}

func (s *Service) enqueue(topic string, payload []byte) {
	msg := message{topic: topic, payload: append([]byte(nil), payload...)}
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}
