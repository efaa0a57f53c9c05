// Package mqtt publishes chlorinator state to an MQTT broker and accepts
// output commands back, bridging the driver into home-automation platforms.
//
// State topics are "{prefix}/{device}/{field}", published retained so late
// subscribers see the last known values. Commands arrive on
// "{prefix}/{device}/output/set": a number 0-100 holds that output level,
// "off" releases the hold and lets the remote control lease lapse.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/saltcell/intellichlor-go/core/status"
)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "intellichlor"

	// DefaultDeviceID is the default device segment in topics.
	DefaultDeviceID = "chlorinator"
)

// OutputController is what inbound commands drive. The driver's
// RenewalScheduler satisfies it.
type OutputController interface {
	Hold(percent int) error
	Release()
}

// Config holds the configuration for the MQTT bridge.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "intellichlor").
	TopicPrefix string
	// DeviceID names this chlorinator in topics (default: "chlorinator").
	DeviceID string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Bridge connects a chlorinator driver to an MQTT broker.
type Bridge struct {
	cfg    Config
	log    *slog.Logger
	output OutputController

	mu        sync.RWMutex
	client    paho.Client
	connected bool
}

// New creates a bridge. The output controller may be nil for publish-only
// deployments; inbound commands are then ignored.
func New(output OutputController, cfg Config) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = DefaultDeviceID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Bridge{
		cfg:    cfg,
		log:    cfg.Logger.WithGroup("mqtt"),
		output: output,
	}
}

// Start connects to the MQTT broker and subscribes to the command topic.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.Broker == "" {
		return errors.New("broker URL is required")
	}

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = "intellichlor-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetWill(b.topic("availability"), "offline", 0, true).
		SetOnConnectHandler(b.onConnected).
		SetConnectionLostHandler(b.onConnectionLost)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	if b.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	b.mu.Lock()
	b.client = paho.NewClient(opts)
	client := b.client
	b.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("connecting to broker: %w", token.Error())
	}

	go func() {
		<-ctx.Done()
		b.Stop()
	}()
	return nil
}

// Stop marks the device offline and disconnects from the broker.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil && b.connected {
		b.client.Publish(b.topic("availability"), 0, true, "offline")
	}
	if b.client != nil {
		b.client.Disconnect(1000)
		b.connected = false
	}
}

// IsConnected returns true if the bridge is connected to the broker.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && b.client != nil && b.client.IsConnected()
}

// Publish pushes one snapshot to the state topics. Wire it to the driver:
//
//	driver.SetOnUpdate(func(s status.Snapshot) { bridge.Publish(s) })
func (b *Bridge) Publish(snap status.Snapshot) error {
	if !b.IsConnected() {
		return errors.New("not connected")
	}

	if snap.HasVersion {
		b.publish("version", snap.Version)
	}
	if snap.HasWaterTempF {
		b.publish("water_temp_f", strconv.Itoa(snap.WaterTempF))
	}
	if snap.HasSaltPPM {
		b.publish("salt_ppm", strconv.Itoa(snap.SaltPPM))
	}
	if snap.HasOutputPercent {
		b.publish("output_percent", strconv.Itoa(snap.OutputPercent))
	}
	if snap.HasErrorCode {
		b.publish("error_code", strconv.Itoa(int(snap.ErrorCode)))
	}
	b.publish("alarms", alarmsJSON(snap.Alarms))
	b.publish("lease_active", strconv.FormatBool(snap.LeaseActive))
	b.publish("availability", "online")
	return nil
}

func (b *Bridge) publish(field, payload string) {
	token := b.client.Publish(b.topic(field), 0, true, payload)
	if !token.WaitTimeout(10 * time.Second) {
		b.log.Warn("publish timed out", "field", field)
		return
	}
	if err := token.Error(); err != nil {
		b.log.Warn("publish failed", "field", field, "error", err)
	}
}

func (b *Bridge) topic(field string) string {
	return b.cfg.TopicPrefix + "/" + b.cfg.DeviceID + "/" + field
}

func (b *Bridge) commandTopic() string {
	return b.topic("output/set")
}

func (b *Bridge) subscribe() {
	if b.output == nil {
		return
	}
	topic := b.commandTopic()
	b.client.Subscribe(topic, 0, b.handleCommand)
	b.log.Debug("subscribed to command topic", "topic", topic)
}

func (b *Bridge) handleCommand(_ paho.Client, message paho.Message) {
	b.mu.RLock()
	output := b.output
	b.mu.RUnlock()
	if output == nil {
		return
	}

	payload := strings.TrimSpace(string(message.Payload()))
	if strings.EqualFold(payload, "off") {
		output.Release()
		b.log.Info("released output hold")
		return
	}

	percent, err := strconv.Atoi(payload)
	if err != nil {
		b.log.Warn("bad output command", "payload", payload, "error", err)
		return
	}
	if err := output.Hold(percent); err != nil {
		b.log.Warn("rejected output command", "percent", percent, "error", err)
		return
	}
	b.log.Info("holding output", "percent", percent)
}

func (b *Bridge) onConnected(_ paho.Client) {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	b.subscribe()
	b.publish("availability", "online")
	b.log.Info("connected to MQTT broker", "broker", b.cfg.Broker)
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()

	b.log.Error("MQTT connection lost", "error", err)
}

// alarmsJSON renders the alarm set as a JSON array of flag names.
func alarmsJSON(alarms []status.AlarmKind) string {
	names := make([]string, len(alarms))
	for i, a := range alarms {
		names[i] = a.String()
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}
