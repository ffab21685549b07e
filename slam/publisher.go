package slam

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ParticleSummary is the payload of the particles topic
type ParticleSummary struct {
	RobotID   string         `json:"robotId"`
	SessionID string         `json:"sessionId"`
	TimeStep  uint32         `json:"timeStep"`
	Spread    ParticleSpread `json:"spread"`
	LivePaths int            `json:"livePaths"`
	Timestamp int64          `json:"timestamp"`
}

// Publisher publishes filter output to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	last          *PoseEstimate
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. MQTT_PUBLISH_PREFIX overrides prefix;
// an empty prefix falls back to "tudoslam". A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if env := os.Getenv("MQTT_PUBLISH_PREFIX"); env != "" {
		prefix = env
	}
	if prefix == "" {
		prefix = "tudoslam"
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,
		retain:        true,
	}
}

// PublishSnapshot publishes the best pose to {prefix}/{robot}/pose and the
// particle summary to {prefix}/{robot}/particles
func (p *Publisher) PublishSnapshot(snap Snapshot) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	best := snap.Best
	p.mu.Lock()
	p.last = &best
	p.mu.Unlock()

	robot := best.RobotID
	if err := p.publish(fmt.Sprintf("%s/%s/pose", p.publishPrefix, robot), best); err != nil {
		return err
	}

	summary := ParticleSummary{
		RobotID:   robot,
		SessionID: snap.SessionID,
		TimeStep:  best.TimeStep,
		Spread:    snap.Spread,
		LivePaths: snap.LivePaths,
		Timestamp: time.Now().Unix(),
	}
	if err := p.publish(fmt.Sprintf("%s/%s/particles", p.publishPrefix, robot), summary); err != nil {
		return err
	}

	Logf("[MQTT] published pose for %s: (%.0f, %.0f) pan=%.2f", robot, best.X, best.Y, best.Pan)
	return nil
}

func (p *Publisher) publish(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// LastPose returns the most recently published pose
func (p *Publisher) LastPose() (PoseEstimate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return PoseEstimate{}, false
	}
	return *p.last, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
