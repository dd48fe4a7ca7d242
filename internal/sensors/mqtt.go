package sensors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/tuomaz/ha-sensor-streamer/internal/metrics"
)

const sensorDomain = "sensor"

// MQTTConfig configures the state subscriber.
type MQTTConfig struct {
	Broker      string // host:port or a full URL such as tcp://host:1883
	Username    string
	Password    string
	TopicPrefix string // Home Assistant statestream base topic, e.g. "homeassistant"
	ClientID    string // defaults to a random id
}

// TopicFor returns the statestream topic carrying the state of entityID:
// "sensor.outdoor" under prefix "homeassistant" → "homeassistant/sensor/outdoor/state".
func TopicFor(prefix, entityID string) string {
	object := strings.TrimPrefix(entityID, sensorDomain+".")
	return strings.Trim(prefix, "/") + "/" + sensorDomain + "/" + object + "/state"
}

// EntityFromTopic reverses TopicFor. ok is false for topics outside the
// sensor state layout.
func EntityFromTopic(prefix, topic string) (entityID string, ok bool) {
	rest, found := strings.CutPrefix(topic, strings.Trim(prefix, "/")+"/"+sensorDomain+"/")
	if !found {
		return "", false
	}
	object, found := strings.CutSuffix(rest, "/state")
	if !found || object == "" || strings.Contains(object, "/") {
		return "", false
	}
	return sensorDomain + "." + object, true
}

// Subscriber writes Home Assistant statestream messages into the cache.
type Subscriber struct {
	cfg     MQTTConfig
	store   Writer
	ids     map[string]struct{}
	metrics *metrics.Metrics

	client         mqtt.Client
	connectTimeout time.Duration
	received       atomic.Uint64
	ignored  atomic.Uint64
}

// NewSubscriber creates a subscriber for the given entity ids. m may be nil.
func NewSubscriber(cfg MQTTConfig, store Writer, ids []string, m *metrics.Metrics) (*Subscriber, error) {
	if cfg.Broker == "" {
		return nil, errors.New("sensors: mqtt broker is required")
	}
	if store == nil {
		return nil, errors.New("sensors: subscriber needs a store")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "homeassistant"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "ha-sensor-streamer-" + uuid.NewString()[:8]
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	return &Subscriber{
		cfg:            cfg,
		store:          store,
		ids:            set,
		metrics:        m,
		connectTimeout: 5 * time.Second,
	}, nil
}

// Run connects, subscribes and blocks until ctx is cancelled. A broker that
// is unreachable at startup is not an error: paho keeps retrying in the
// background and the cache keeps its last values meanwhile.
func (s *Subscriber) Run(ctx context.Context) error {
	if len(s.ids) == 0 {
		slog.Info("sensors: no sensor placeholders configured, mqtt subscriber idle")
		return nil
	}

	if err := s.connect(); err != nil {
		return err
	}

	<-ctx.Done()
	s.client.Disconnect(250)
	slog.Info("sensors: mqtt subscriber stopped",
		"received", s.received.Load(),
		"ignored", s.ignored.Load(),
	)
	return nil
}

func (s *Subscriber) connect() error {
	broker := s.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(s.cfg.ClientID)
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// Clean sessions drop subscriptions, so subscribe on every (re)connect
	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("sensors: mqtt connection established", "broker", broker, "client_id", s.cfg.ClientID)
		if err := s.subscribe(c); err != nil {
			slog.Error("sensors: mqtt subscribe failed", "error", err)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("sensors: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", broker,
		)
	}

	s.client = mqtt.NewClient(opts)

	slog.Info("sensors: connecting to mqtt broker", "broker", broker)
	token := s.client.Connect()
	if !token.WaitTimeout(s.connectTimeout) {
		slog.Warn("sensors: mqtt broker not reachable yet, retrying in background",
			"broker", broker,
			"timeout", s.connectTimeout,
		)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("sensors: mqtt connection failed: %w", err)
	}
	return nil
}

func (s *Subscriber) subscribe(c mqtt.Client) error {
	filters := make(map[string]byte, len(s.ids))
	for id := range s.ids {
		filters[TopicFor(s.cfg.TopicPrefix, id)] = 0
	}

	token := c.SubscribeMultiple(filters, s.handleMessage)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscription timeout")
	}
	if err := token.Error(); err != nil {
		return err
	}

	slog.Info("sensors: mqtt subscribed", "topics", len(filters))
	return nil
}

// handleMessage stores the payload of a statestream message verbatim.
func (s *Subscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	id, ok := EntityFromTopic(s.cfg.TopicPrefix, msg.Topic())
	if !ok {
		s.ignored.Add(1)
		return
	}
	if _, watched := s.ids[id]; !watched {
		s.ignored.Add(1)
		return
	}

	// statestream publishes strings JSON-quoted
	value := strings.Trim(strings.TrimSpace(string(msg.Payload())), `"`)

	s.store.Set(id, value)
	s.received.Add(1)
	s.metrics.SensorUpdate("mqtt", true)
	s.metrics.SetSensorsCached(s.store.Len())

	slog.Debug("sensors: mqtt state received", "entity_id", id, "value", value)
}
