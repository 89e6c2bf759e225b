//go:build integration

package mqtt

import (
	"testing"
	"time"
)

// Requires a broker at 127.0.0.1:1883:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...

func TestIntegration_NotifyRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "mechabus-int-roundtrip"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	got := make(chan string, 1)
	err = client.Subscribe(Topics{}.AllNotify(), 1, func(topic string, _ []byte) error {
		id, err := ProviderFromTopic(topic)
		if err != nil {
			return err
		}
		got <- id
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(Topics{}.Notify("porch"), []byte(`{"state":1}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case id := <-got:
		if id != "porch" {
			t.Errorf("id = %q, want porch", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification not received")
	}
}
