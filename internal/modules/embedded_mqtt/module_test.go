package embeddedmqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"go.uber.org/zap"

	presencemod "github.com/mikey-austin/presenced/internal/modules/presence"
	"github.com/mikey-austin/presenced/pkg/presence"
)

func TestNewServerAllowAnonymous(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	if server == nil {
		t.Fatalf("expected server")
	}
}

func TestNewServerRequiresAuthConfig(t *testing.T) {
	_, err := newServer(zap.NewNop(), Config{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewServerWithCredentials(t *testing.T) {
	if _, err := newServer(zap.NewNop(), Config{Username: "presenced", Password: "secret"}); err != nil {
		t.Fatalf("newServer: %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	if BrokerURL("127.0.0.1:1883", false) != "mqtt://127.0.0.1:1883" {
		t.Fatalf("expected mqtt scheme")
	}
	if BrokerURL("127.0.0.1:8883", true) != "mqtts://127.0.0.1:8883" {
		t.Fatalf("expected mqtts scheme")
	}
}

func TestInlineTransportRoundTrip(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	transport := newInlineTransport(server)

	received := make(chan string, 1)
	if err := transport.Subscribe("test/topic", 0, func(topic string, payload []byte) {
		received <- topic + " " + string(payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := transport.PublishAsync("test/topic", 0, false, []byte("payload")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-received:
		if got != "test/topic payload" {
			t.Fatalf("unexpected message %q", got)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
	}

	if err := transport.Unsubscribe("test/topic"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := transport.Unsubscribe("never/subscribed"); err != nil {
		t.Fatalf("unsubscribe unknown: %v", err)
	}
}

func TestInlineTransportKeepsPublishOrder(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	transport := newInlineTransport(server)

	received := make(chan string, 32)
	if err := transport.Subscribe("order", 0, func(_ string, payload []byte) {
		received <- string(payload)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for i := 0; i < 20; i++ {
		if err := transport.PublishAsync("order", 0, false, []byte(fmt.Sprint(i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		select {
		case got := <-received:
			if got != fmt.Sprint(i) {
				t.Fatalf("expected %d, got %s", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestPresenceServiceOverInlineBroker(t *testing.T) {
	server, err := newServer(zap.NewNop(), Config{AllowAnonymous: true})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}

	var mu sync.Mutex
	snapshots := []string{}
	if err := server.Subscribe(presence.TopicState, 100, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		mu.Lock()
		snapshots = append(snapshots, string(pk.Payload))
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribe state: %v", err)
	}

	mod, err := presencemod.NewModule(zap.NewNop(), newInlineTransport(server), presencemod.Config{})
	if err != nil {
		t.Fatalf("presence module: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- mod.Run(ctx)
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots)
	}
	// The state subscription counts too; publish until the module has
	// subscribed and produced a snapshot.
	deadline := time.Now().Add(time.Second)
	for count() == 0 && time.Now().Before(deadline) {
		_ = server.Publish(presence.TopicArrival, []byte(`{"name":"Alice"}`), false, 0)
		time.Sleep(10 * time.Millisecond)
	}
	if count() == 0 {
		t.Fatalf("expected a snapshot")
	}
	mu.Lock()
	first := snapshots[0]
	mu.Unlock()
	if first != `{"status":"closed","people":[["Alice",null]]}` {
		t.Fatalf("unexpected snapshot %s", first)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("module did not stop")
	}
}

func TestWaitForListenTimesOut(t *testing.T) {
	ctx := context.Background()
	if err := WaitForListen(ctx, "127.0.0.1:1", 100*time.Millisecond); err == nil {
		t.Fatalf("expected timeout")
	}
	if err := WaitForListen(ctx, "no-port", time.Millisecond); err == nil {
		t.Fatalf("expected address error")
	}
}
