// Package alertpub publishes end-of-session alert documents to an MQTT
// broker so downstream alarm systems can react to loitering.
package alertpub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "loiter/alerts"

// Config configures the broker connection.
type Config struct {
	Broker   string // e.g. tcp://localhost:1883
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retained bool
	Timeout  time.Duration // Per-operation wait; defaults to 5s
}

// Message is the JSON document published for every finished session.
type Message struct {
	AlertID           string    `json:"alert_id,omitempty"`
	SessionID         string    `json:"session_id"`
	Source            string    `json:"source,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
	LoiteringDetected bool      `json:"loitering_detected"`
	TotalPerson       int       `json:"total_person"`
	StandingCount     int       `json:"standing_count"`
	Assessment        string    `json:"assessment"`
}

// MessageFromReport builds the alert message for report. The message is
// keyed by the session end time.
func MessageFromReport(report loiter.Report, alertID string) Message {
	return Message{
		AlertID:           alertID,
		SessionID:         report.SessionID,
		Source:            report.Source,
		Timestamp:         report.EndedAt,
		LoiteringDetected: report.LoiteringDetected,
		TotalPerson:       report.TotalPerson,
		StandingCount:     report.StandingCount,
		Assessment:        report.Assessment,
	}
}

// publishClient is the subset of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends Messages to one topic.
type Publisher struct {
	client   publishClient
	topic    string
	qos      byte
	retained bool
	timeout  time.Duration
}

// Connect dials the broker and returns a Publisher.
func Connect(cfg Config) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "loiterd"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(timeoutOrDefault(cfg.Timeout))

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}
	return newPublisher(client, cfg), nil
}

func newPublisher(client publishClient, cfg Config) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		client:   client,
		topic:    topic,
		qos:      cfg.QoS,
		retained: cfg.Retained,
		timeout:  timeoutOrDefault(cfg.Timeout),
	}
}

// Topic returns the topic messages are published to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish sends msg and waits for the broker acknowledgement, the
// configured timeout or ctx, whichever comes first.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, p.retained, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to topic %s: %w", p.topic, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("publish to topic %s: timed out after %s", p.topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects from the broker, allowing 250ms for in-flight work.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
