package embeddedmqtt

import (
	"fmt"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/mikey-austin/presenced/internal/adapters/mqttserver"
)

// InlineTransport subscribes and publishes through the broker's inline
// client, so a service running in the same process needs no connection.
type InlineTransport struct {
	server *mqtt.Server

	mu     sync.Mutex
	nextID int
	ids    map[string]int
	errs   chan error

	outMu    sync.Mutex
	pending  []outbound
	draining bool
}

type outbound struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// Transport returns an inline transport bound to this broker.
func (m *Module) Transport() *InlineTransport {
	return newInlineTransport(m.server)
}

func newInlineTransport(server *mqtt.Server) *InlineTransport {
	return &InlineTransport{server: server, nextID: 1, ids: map[string]int{}, errs: make(chan error, 1)}
}

// Subscribe registers handler for topic. The qos is ignored; inline
// delivery is synchronous.
func (t *InlineTransport) Subscribe(topic string, _ byte, handler mqttserver.MessageHandler) error {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.ids[topic] = id
	t.mu.Unlock()

	fn := func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		handler(pk.TopicName, pk.Payload)
	}
	if err := t.server.Subscribe(topic, id, fn); err != nil {
		return fmt.Errorf("inline subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe removes the inline subscription for topic.
func (t *InlineTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	id, ok := t.ids[topic]
	delete(t.ids, topic)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return t.server.Unsubscribe(topic, id)
}

// PublishAsync queues a publish. Inline subscribers are called on the
// publishing goroutine, so publishes run on a separate drain goroutine in
// the order they were queued.
func (t *InlineTransport) PublishAsync(topic string, qos byte, retained bool, payload []byte) error {
	t.outMu.Lock()
	t.pending = append(t.pending, outbound{topic: topic, qos: qos, retained: retained, payload: payload})
	start := !t.draining
	t.draining = true
	t.outMu.Unlock()

	if start {
		go t.drain()
	}
	return nil
}

// Errors reports failed queued publishes.
func (t *InlineTransport) Errors() <-chan error {
	return t.errs
}

func (t *InlineTransport) drain() {
	for {
		t.outMu.Lock()
		if len(t.pending) == 0 {
			t.draining = false
			t.outMu.Unlock()
			return
		}
		next := t.pending[0]
		t.pending = t.pending[1:]
		t.outMu.Unlock()

		if err := t.server.Publish(next.topic, next.payload, next.retained, next.qos); err != nil {
			t.report(fmt.Errorf("inline publish %s: %w", next.topic, err))
		}
	}
}

func (t *InlineTransport) report(err error) {
	select {
	case t.errs <- err:
	default:
	}
}
