package alertpub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/loiter.report/internal/loiter"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token        mqtt.Token
	sent         []published
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func sampleReport() loiter.Report {
	return loiter.Report{
		SessionID:         "0f0e",
		Source:            "lobby.mp4",
		LoiteringDetected: true,
		TotalPerson:       2,
		StandingCount:     1,
		Assessment:        loiter.AssessmentLoitering,
		EndedAt:           time.Date(2026, 5, 4, 22, 15, 0, 0, time.UTC),
	}
}

func TestPublish_Payload(t *testing.T) {
	client := &fakeClient{token: completedToken(nil)}
	p := newPublisher(client, Config{Topic: "site/lobby/alerts", QoS: 1, Retained: true})

	err := p.Publish(context.Background(), MessageFromReport(sampleReport(), "a-1"))
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	sent := client.sent[0]
	assert.Equal(t, "site/lobby/alerts", sent.topic)
	assert.Equal(t, byte(1), sent.qos)
	assert.True(t, sent.retained)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(sent.payload, &got))
	assert.Equal(t, "a-1", got["alert_id"])
	assert.Equal(t, "0f0e", got["session_id"])
	assert.Equal(t, "2026-05-04T22:15:00Z", got["timestamp"])
	assert.Equal(t, true, got["loitering_detected"])
	assert.Equal(t, 2.0, got["total_person"])
	assert.Equal(t, 1.0, got["standing_count"])
	assert.Equal(t, loiter.AssessmentLoitering, got["assessment"])
}

func TestPublish_DefaultTopic(t *testing.T) {
	p := newPublisher(&fakeClient{token: completedToken(nil)}, Config{})
	assert.Equal(t, DefaultTopic, p.Topic())
}

func TestPublish_BrokerError(t *testing.T) {
	boom := errors.New("not authorised")
	p := newPublisher(&fakeClient{token: completedToken(boom)}, Config{})

	err := p.Publish(context.Background(), Message{SessionID: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestPublish_Timeout(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	p := newPublisher(&fakeClient{token: pending}, Config{Timeout: 10 * time.Millisecond})

	err := p.Publish(context.Background(), Message{SessionID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestPublish_ContextCancelled(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	p := newPublisher(&fakeClient{token: pending}, Config{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Publish(ctx, Message{SessionID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClose(t *testing.T) {
	client := &fakeClient{token: completedToken(nil)}
	newPublisher(client, Config{}).Close()
	assert.True(t, client.disconnected)
}
