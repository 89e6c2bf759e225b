package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "mechabus-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnected returns a client that never reached a broker.
func disconnected() *Client {
	return &Client{cfg: testConfig(), subscriptions: make(map[string]subscription)}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := brokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("brokerURL() = %q", got)
	}
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := brokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("brokerURL(tls) = %q", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "gw"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)
	if opts.ClientID != "mechabus-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "gw" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}

	configureLWT(opts, cfg.Broker.ClientID)
	if !opts.WillEnabled || opts.WillTopic != "mechabus/system/status" || !opts.WillRetained {
		t.Errorf("LWT = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var will statusPayload
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if will.Status != StatusOffline || will.Reason != "unexpected_disconnect" {
		t.Errorf("will = %+v", will)
	}
}

func TestDisconnectedClient(t *testing.T) {
	c := disconnected()

	if c.IsConnected() {
		t.Error("IsConnected() = true")
	}
	if err := c.Publish("mechabus/state/pump", []byte("{}"), 1, true); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe(Topics{}.AllNotify(), 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Error("failed subscribe was tracked")
	}
}

func TestPublishValidation(t *testing.T) {
	c := disconnected()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"qos 3", "mechabus/state/x", nil, 3, ErrInvalidQoS},
		{"oversized", "mechabus/state/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := disconnected()

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 5, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := disconnected().HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got, want string
	}{
		{topics.State("pump"), "mechabus/state/pump"},
		{topics.Notify("porch"), "mechabus/notify/porch"},
		{topics.SystemStatus(), "mechabus/system/status"},
		{topics.AllStates(), "mechabus/state/+"},
		{topics.AllNotify(), "mechabus/notify/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestProviderFromTopic(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"mechabus/notify/porch", "porch", false},
		{"mechabus/state/pump", "pump", false},
		{"mechabus/system/status", "", true},
		{"mechabus/notify/", "", true},
		{"other/notify/porch", "", true},
		{"mechabus/notify/a/b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, err := ProviderFromTopic(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("error = %v, want ErrInvalidTopic", err)
			}
			if got != tt.want {
				t.Errorf("id = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := disconnected()
	h := c.wrapHandler(func(string, []byte) error { panic("boom") })
	// Must not propagate.
	h(nil, fakeMessage{topic: "mechabus/notify/x"})
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}
