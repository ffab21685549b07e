package slam

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Topic suffixes appended to the robot topic
const (
	OdometrySuffix    = "/odometry"
	ObservationSuffix = "/observation"
	ScanMatchSuffix   = "/scanmatch"
)

// FrameHandler consumes decoded robot messages. Odometry and observations
// are expected to alternate; FrameRunner enforces the order.
type FrameHandler interface {
	HandleOdometry(Odometry)
	HandleObservation(Observation)
	HandleScanMatch(ScanMatch)
}

// MQTTClient manages the broker connection and the robot subscriptions
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	handler     FrameHandler
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates a client for the configured broker and starts
// connecting in the background. If neither MQTT_BROKER nor the config
// names a broker, MQTT is disabled and nil is returned.
func InitMQTT(config *Config, handler FrameHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil {
		broker = config.MQTT.Broker
	}
	if broker == "" {
		Logf("[MQTT] disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if config == nil || config.Robot.Topic == "" {
		return nil, fmt.Errorf("MQTT enabled but no robot topic configured")
	}

	c := &MQTTClient{config: config, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(envOr("MQTT_CLIENT_ID", config.MQTT.ClientID, "tudoslam"))

	if username := envOr("MQTT_USERNAME", config.MQTT.Username, ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", config.MQTT.Password, ""))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// odometry must reach the filter before the observation that follows it
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		Logf("[MQTT] reconnecting...")
	})

	c.client = mqtt.NewClient(opts)
	go c.connectWithRetry()
	return c, nil
}

// NewMQTTClientWithClient wraps an existing mqtt.Client, typically a MockClient
func NewMQTTClientWithClient(client mqtt.Client, config *Config, handler FrameHandler) *MQTTClient {
	return &MQTTClient{client: client, config: config, handler: handler}
}

func envOr(key, configured, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// connectWithRetry connects with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		Logf("[MQTT] connecting to broker...")
		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				Logf("[MQTT] connected")
				c.setConnected(true)
				return
			}
			Logf("[MQTT] connection failed: %v", token.Error())
		} else {
			Logf("[MQTT] connection timeout")
		}

		Logf("[MQTT] retrying in %v", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if err := c.Subscribe(); err != nil {
		Logf("[MQTT] %v", err)
	}
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	Logf("[MQTT] connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// Subscribe registers the odometry, observation and scan match topics
func (c *MQTTClient) Subscribe() error {
	base := c.config.Robot.Topic
	routes := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{base + OdometrySuffix, c.odometryHandler},
		{base + ObservationSuffix, c.observationHandler},
		{base + ScanMatchSuffix, c.scanMatchHandler},
	}

	var failed []string
	for _, r := range routes {
		token := c.client.Subscribe(r.topic, 1, r.handler)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			Logf("[MQTT] subscribing to %s: %v", r.topic, token.Error())
			failed = append(failed, r.topic)
			continue
		}
		Logf("[MQTT] subscribed to %s", r.topic)
	}
	if len(failed) > 0 {
		return fmt.Errorf("subscription failed for %v", failed)
	}
	return nil
}

func (c *MQTTClient) odometryHandler(_ mqtt.Client, msg mqtt.Message) {
	var odo Odometry
	if err := json.Unmarshal(msg.Payload(), &odo); err != nil {
		Logf("[MQTT] bad odometry on %s: %v", msg.Topic(), err)
		return
	}
	if c.handler != nil {
		c.handler.HandleOdometry(odo)
	}
}

func (c *MQTTClient) observationHandler(_ mqtt.Client, msg mqtt.Message) {
	var obs Observation
	if err := json.Unmarshal(msg.Payload(), &obs); err != nil {
		Logf("[MQTT] bad observation on %s (%d bytes): %v", msg.Topic(), len(msg.Payload()), err)
		return
	}
	if c.handler != nil {
		c.handler.HandleObservation(obs)
	}
}

func (c *MQTTClient) scanMatchHandler(_ mqtt.Client, msg mqtt.Message) {
	var sm ScanMatch
	if err := json.Unmarshal(msg.Payload(), &sm); err != nil {
		Logf("[MQTT] bad scan match on %s: %v", msg.Topic(), err)
		return
	}
	if c.handler != nil {
		c.handler.HandleScanMatch(sm)
	}
}

// IsConnected returns true if the client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect closes the connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		Logf("[MQTT] disconnecting...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}
