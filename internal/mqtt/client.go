package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
)

// Availability payloads on the status topic
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrNotConnected is returned when publishing while the broker is unreachable
var ErrNotConnected = errors.New("mqtt client is not connected")

// Client is the bridge's single broker connection. It publishes telemetry,
// availability and diagnostics, and forwards payloads received on the
// command topic to onCommand.
type Client struct {
	client    paho.Client
	settings  config.MQTTSettings
	onCommand func(string)
}

// NewClient creates a client; onCommand may be nil
func NewClient(settings config.MQTTSettings, onCommand func(string)) *Client {
	c := &Client{
		settings:  settings,
		onCommand: onCommand,
	}
	c.client = paho.NewClient(c.options())
	return c
}

// newClientWith wraps an existing paho client
func newClientWith(settings config.MQTTSettings, client paho.Client, onCommand func(string)) *Client {
	return &Client{client: client, settings: settings, onCommand: onCommand}
}

func (c *Client) options() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.settings.Broker, c.settings.Port))
	opts.SetClientID(c.settings.ClientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetAutoReconnect(true)

	keepAlive := c.settings.KeepAlive
	if keepAlive == 0 {
		keepAlive = 30 * time.Second
	}
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(10 * time.Second)

	// Broker marks the bridge offline if the connection drops
	opts.SetWill(c.settings.StatusTopic(), StatusOffline, 1, true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(client paho.Client, err error) {
		logger.LogError("❌ MQTT connection lost: %v", err)
	})
	return opts
}

// onConnect runs on every (re)connect: the command subscription and the
// online status do not survive a reconnect with a clean session.
func (c *Client) onConnect(client paho.Client) {
	logger.LogInfo("✅ Connected to MQTT broker")

	topic := c.settings.CommandTopic()
	if token := client.Subscribe(topic, 0, c.onMessage); token.Wait() && token.Error() != nil {
		logger.LogError("❌ Error subscribing to %s: %v", topic, token.Error())
	} else {
		logger.LogInfo("📡 Subscribed to: %s", topic)
	}

	if token := client.Publish(c.settings.StatusTopic(), 1, true, StatusOnline); token.Wait() && token.Error() != nil {
		logger.LogWarn("Error publishing online status on connect: %v", token.Error())
	}
}

// onMessage only hands the payload over; the worker applies it
func (c *Client) onMessage(client paho.Client, msg paho.Message) {
	payload := string(msg.Payload())
	logger.LogDebug("📥 Command received on %s: %q", msg.Topic(), payload)
	if c.onCommand != nil {
		c.onCommand(payload)
	}
}

// Connect connects to the broker with infinite retry
func (c *Client) Connect(ctx context.Context) error {
	retryDelay := c.settings.RetryDelay
	if retryDelay == 0 {
		retryDelay = 5 * time.Second
	}

	attempt := 1
	for {
		logger.LogDebug("🔄 Attempting to connect to MQTT broker (attempt %d)...", attempt)

		if token := c.client.Connect(); token.Wait() && token.Error() != nil {
			logger.LogError("❌ MQTT connection failed (attempt %d): %v", attempt, token.Error())
			logger.LogInfo("⏳ Retrying in %.0f seconds...", retryDelay.Seconds())

			select {
			case <-ctx.Done():
				return fmt.Errorf("mqtt connection cancelled: %w", ctx.Err())
			case <-time.After(retryDelay):
				attempt++
				continue
			}
		}

		// Wait for connection with timeout
		connected := false
		for i := 0; i < 50; i++ {
			if c.client.IsConnected() {
				connected = true
				break
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("mqtt connection cancelled during establishment: %w", ctx.Err())
			case <-time.After(100 * time.Millisecond):
			}
		}

		if connected {
			logger.LogInfo("✅ MQTT client connected to %s:%d after %d attempts",
				c.settings.Broker, c.settings.Port, attempt)
			return nil
		}

		logger.LogWarn("⏰ MQTT connection establishment timeout (attempt %d)", attempt)
		select {
		case <-ctx.Done():
			return fmt.Errorf("mqtt connection cancelled during timeout: %w", ctx.Err())
		case <-time.After(retryDelay):
			attempt++
		}
	}
}

// IsConnected reports whether the broker connection is up
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Publish sends one non-retained telemetry value
func (c *Client) Publish(topic, payload string) error {
	return c.publish(topic, 0, false, payload)
}

// PublishRetained sends a retained message (discovery configs)
func (c *Client) PublishRetained(topic string, payload []byte) error {
	return c.publish(topic, 1, true, payload)
}

func (c *Client) publish(topic string, qos byte, retained bool, payload interface{}) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	timeout := c.settings.PublishTimeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out after %v", topic, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishStatusOnline publishes retained "online" availability
func (c *Client) PublishStatusOnline(ctx context.Context) error {
	return c.publishStatus(ctx, StatusOnline)
}

// PublishStatusOffline publishes retained "offline" availability
func (c *Client) PublishStatusOffline(ctx context.Context) error {
	return c.publishStatus(ctx, StatusOffline)
}

func (c *Client) publishStatus(ctx context.Context, status string) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(c.settings.StatusTopic(), 1, true, status)
	return waitToken(ctx, token, "status")
}

// PublishDiagnostic publishes diagnostic information with code and message
func (c *Client) PublishDiagnostic(ctx context.Context, code int, message string) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	diagnostic := map[string]interface{}{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(diagnostic)
	if err != nil {
		return fmt.Errorf("error marshaling diagnostic: %w", err)
	}

	token := c.client.Publish(c.settings.DiagnosticTopic(), 0, false, payload)
	if err := waitToken(ctx, token, "diagnostic"); err != nil {
		return err
	}

	logger.LogDebug("🔧 Published diagnostic: [%d] %s", code, message)
	return nil
}

func waitToken(ctx context.Context, token paho.Token, what string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("error publishing %s: %w", what, token.Error())
		}
	}
	return nil
}

// Disconnect publishes offline availability and closes the connection.
// No command callbacks run after it returns.
func (c *Client) Disconnect() {
	if !c.client.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.PublishStatusOffline(ctx); err != nil {
		logger.LogDebug("Failed to publish offline status: %v", err)
	}
	c.client.Unsubscribe(c.settings.CommandTopic()).WaitTimeout(time.Second)
	c.client.Disconnect(250)
	logger.LogInfo("🔌 Disconnected from MQTT broker")
}
