package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"tremorwatch/models"
)

const publishTimeout = 5 * time.Second

// BridgeConfig describes the broker connection.
type BridgeConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// Topics derived from the prefix.
func (c BridgeConfig) SamplesTopic() string { return c.TopicPrefix + "/samples" }
func (c BridgeConfig) RecordsTopic() string { return c.TopicPrefix + "/records" }
func (c BridgeConfig) BaselineTopic() string { return c.TopicPrefix + "/baseline" }
func (c BridgeConfig) ConfigTopic() string { return c.TopicPrefix + "/config" }

// MQTTBridge connects the pipeline to an MQTT broker: sample batches and
// config documents come in, records and baseline snapshots go out.
type MQTTBridge struct {
	cfg    BridgeConfig
	client mqtt.Client
	logger *slog.Logger
}

func NewMQTTBridge(cfg BridgeConfig, logger *slog.Logger) (*MQTTBridge, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "tremor"
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return &MQTTBridge{cfg: cfg, client: client, logger: logger}, nil
}

func (b *MQTTBridge) Config() BridgeConfig {
	return b.cfg
}

// SubscribeSamples delivers every decoded sample batch to handle.
// Undecodable payloads are logged and dropped.
func (b *MQTTBridge) SubscribeSamples(handle func(models.SampleBatch)) error {
	token := b.client.Subscribe(b.cfg.SamplesTopic(), 0, func(_ mqtt.Client, msg mqtt.Message) {
		var batch models.SampleBatch
		if err := json.Unmarshal(msg.Payload(), &batch); err != nil {
			b.logger.WarnContext(context.Background(), "dropping malformed sample batch",
				slog.String("topic", msg.Topic()), slog.Any("error", err))
			return
		}
		handle(batch)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error subscribing to %s: %w", b.cfg.SamplesTopic(), token.Error())
	}
	return nil
}

// SubscribeConfig delivers raw config documents to apply. Rejections are
// logged.
func (b *MQTTBridge) SubscribeConfig(apply func([]byte) error) error {
	token := b.client.Subscribe(b.cfg.ConfigTopic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := apply(msg.Payload()); err != nil {
			b.logger.WarnContext(context.Background(), "config update rejected", slog.Any("error", err))
			return
		}
		b.logger.InfoContext(context.Background(), "config update applied")
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("error subscribing to %s: %w", b.cfg.ConfigTopic(), token.Error())
	}
	return nil
}

// PublishRecords sends a batch of records as one JSON array.
func (b *MQTTBridge) PublishRecords(records []models.TremorRecord) error {
	if len(records) == 0 {
		return nil
	}
	return b.publish(b.cfg.RecordsTopic(), false, records)
}

// PublishBaseline sends a retained baseline snapshot.
func (b *MQTTBridge) PublishBaseline(snapshot models.BaselineSnapshot) error {
	return b.publish(b.cfg.BaselineTopic(), true, snapshot)
}

func (b *MQTTBridge) publish(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("json marshal error (%s): %w", topic, err)
	}
	token := b.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("MQTT publish timeout (%s)", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish error (%s): %w", topic, err)
	}
	return nil
}

func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
