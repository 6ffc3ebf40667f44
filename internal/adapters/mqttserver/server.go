package mqttserver

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrPublishTimeout is returned when the broker does not complete a publish in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Options configures the MQTT client.
type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TLSCA     string
	TLSCert   string
	TLSKey    string
	Timeout   time.Duration
	Logger    *zap.Logger
	Debug     bool
}

// MessageHandler receives one inbound message.
type MessageHandler func(topic string, payload []byte)

type subscription struct {
	qos     byte
	handler paho.MessageHandler
}

// Client wraps an MQTT connection for the daemon and CLI.
type Client struct {
	client  paho.Client
	log     *zap.Logger
	debug   bool
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]subscription
	errs chan error
}

// NewClient connects to MQTT.
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &Client{
		log:     opts.Logger,
		debug:   opts.Debug,
		timeout: opts.Timeout,
		subs:    map[string]subscription{},
		errs:    make(chan error, 1),
	}

	clientOpts := paho.NewClientOptions().AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetConnectTimeout(opts.Timeout)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOrderMatters(true)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOnConnectHandler(c.resubscribe)
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("mqtt connection lost", zap.Error(err))
	})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	tlsConfig, err := BuildTLSConfig(opts.TLSCA, opts.TLSCert, opts.TLSKey)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		clientOpts.SetTLSConfig(tlsConfig)
	}

	c.client = paho.NewClient(clientOpts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, token.Error())
	}
	return c, nil
}

// Errors reports failures of asynchronous publishes. Only the first
// failure is kept until it is read.
func (c *Client) Errors() <-chan error {
	return c.errs
}

// Publish publishes a message and waits for the broker to complete it.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// PublishAsync hands a message to the client without waiting for the
// broker. A failure is delivered on Errors.
func (c *Client) PublishAsync(topic string, qos byte, retained bool, payload []byte) error {
	token := c.publish(topic, qos, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.report(fmt.Errorf("mqtt publish %s: %w", topic, err))
		}
	}()
	return nil
}

func (c *Client) publish(topic string, qos byte, retained bool, payload []byte) paho.Token {
	if c.debug {
		c.log.Debug("mqtt publish", zap.String("topic", topic), zap.Int("bytes", len(payload)), zap.String("payload", truncatePayload(payload)))
	}
	return c.client.Publish(topic, qos, retained, payload)
}

func (c *Client) report(err error) {
	c.log.Error("mqtt async failure", zap.Error(err))
	select {
	case c.errs <- err:
	default:
	}
}

// Subscribe subscribes to a topic. The subscription is restored after a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if c.debug {
		c.log.Debug("mqtt subscribe", zap.String("topic", topic))
	}
	wrapped := func(_ paho.Client, msg paho.Message) {
		if c.debug {
			c.log.Debug("mqtt message", zap.String("topic", msg.Topic()), zap.Int("bytes", len(msg.Payload())), zap.String("payload", truncatePayload(msg.Payload())))
		}
		handler(msg.Topic(), msg.Payload())
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: wrapped}
	c.mu.Unlock()

	token := c.client.Subscribe(topic, qos, wrapped)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe unsubscribes from a topic.
func (c *Client) Unsubscribe(topic string) error {
	if c.debug {
		c.log.Debug("mqtt unsubscribe", zap.String("topic", topic))
	}
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	token := c.client.Unsubscribe(topic)
	token.WaitTimeout(c.timeout)
	return token.Error()
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) resubscribe(client paho.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()

	for topic, sub := range subs {
		token := client.Subscribe(topic, sub.qos, sub.handler)
		token.Wait()
		if err := token.Error(); err != nil {
			c.report(fmt.Errorf("mqtt resubscribe %s: %w", topic, err))
			continue
		}
		c.log.Info("mqtt resubscribed", zap.String("topic", topic))
	}
}

func truncatePayload(payload []byte) string {
	const max = 2048
	if len(payload) <= max {
		return string(payload)
	}
	return string(payload[:max]) + "..."
}

// BuildTLSConfig loads a CA bundle and client key pair. It returns nil
// when no paths are set.
func BuildTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	if caPath == "" && certPath == "" && keyPath == "" {
		return nil, nil
	}

	config := &tls.Config{}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA bundle")
		}
		config.RootCAs = pool
	}

	if certPath != "" || keyPath != "" {
		if certPath == "" || keyPath == "" {
			return nil, errors.New("both tls cert and key are required")
		}
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, err
		}
		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}
