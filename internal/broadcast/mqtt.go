package broadcast

// ============================================================================
// MQTT sink
// Publishes every snapshot as a retained message so home-automation
// consumers see the latest state as soon as they subscribe.
// ============================================================================

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ChuLiYu/jobwatch/pkg/types"
)

// MQTTConfig configures the sink.
type MQTTConfig struct {
	Broker   string // tcp://host:1883
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// Publisher is the subset of mqtt.Client the sink uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink implements poller.Sink on top of an MQTT client.
type MQTTSink struct {
	client  Publisher
	topic   string
	qos     byte
	pending atomic.Bool
}

// NewMQTTSink wraps an already connected publisher.
func NewMQTTSink(client Publisher, topic string, qos byte) *MQTTSink {
	if topic == "" {
		topic = "jobwatch/snapshot"
	}
	return &MQTTSink{client: client, topic: topic, qos: qos}
}

// DialMQTT connects to the broker and returns the sink and the client so the
// caller can disconnect it on shutdown.
func DialMQTT(cfg MQTTConfig) (*MQTTSink, mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("jobwatch-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("MQTT connected", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, token.Error())
	}
	return NewMQTTSink(client, cfg.Topic, cfg.QoS), client, nil
}

// Publish implements poller.Sink. It returns immediately; if the previous
// publish has not been acknowledged yet this snapshot is skipped.
func (m *MQTTSink) Publish(snap *types.Snapshot) {
	if !m.pending.CompareAndSwap(false, true) {
		log.Debug("MQTT publish still pending, snapshot skipped")
		return
	}
	payload, err := NewEvent(snap).JSON()
	if err != nil {
		m.pending.Store(false)
		log.Error("MQTT encode failed", "error", err)
		return
	}
	token := m.client.Publish(m.topic, m.qos, true, payload)
	go func() {
		defer m.pending.Store(false)
		if !token.WaitTimeout(10*time.Second) {
			log.Warn("MQTT publish timed out", "topic", m.topic)
			return
		}
		if err := token.Error(); err != nil {
			log.Warn("MQTT publish failed", "topic", m.topic, "error", err)
		}
	}()
}
