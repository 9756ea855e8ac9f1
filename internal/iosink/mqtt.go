package iosink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tturner/cipadapter/internal/config"
)

// MQTTSink publishes each sample to <topic>/<instance>.
type MQTTSink struct {
	client pahomqtt.Client
	topic  string
	qos    byte
}

const mqttConnectTimeout = 5 * time.Second

// DialMQTT connects to the configured broker.
func DialMQTT(cfg config.MQTTSinkConfig) (*MQTTSink, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	if err := connectMQTT(client, cfg.Broker, mqttConnectTimeout); err != nil {
		return nil, err
	}
	return newMQTTSink(client, cfg.Topic, cfg.QoS), nil
}

// connectMQTT waits for the first connection. A failed client is
// disconnected so its retry goroutine stops.
func connectMQTT(client pahomqtt.Client, broker string, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return nil
}

func newMQTTSink(client pahomqtt.Client, topic string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, topic: topic, qos: qos}
}

func (m *MQTTSink) Name() string { return "mqtt" }

// Publish sends s and waits for the broker acknowledgement or ctx.
func (m *MQTTSink) Publish(ctx context.Context, s Sample) error {
	payload, err := s.Encode()
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic+"/"+strconv.Itoa(int(s.Instance)), m.qos, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}
