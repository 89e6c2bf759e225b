package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
)

// mqttMirror republishes broadcast states as retained messages.
type mqttMirror struct {
	client *mqtt.Client
}

func newMQTTMirror(client *mqtt.Client) *mqttMirror {
	return &mqttMirror{client: client}
}

func (m *mqttMirror) PublishState(st provider.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshalling state %s: %w", st.ID, err)
	}
	return m.client.PublishRetained(mqtt.Topics{}.State(st.ID), payload)
}

// subscribeNotifications feeds device reports published on
// mechabus/notify/{id} through the same path as the HTTP notify endpoint.
func (s *Server) subscribeNotifications(ctx context.Context) error {
	topic := mqtt.Topics{}.AllNotify()
	s.logger.Info("subscribing to device notifications", "topic", topic)
	return s.mqtt.Subscribe(topic, 1, func(t string, payload []byte) error {
		return s.handleNotifyMessage(ctx, t, payload)
	})
}

func (s *Server) handleNotifyMessage(ctx context.Context, topic string, payload []byte) error {
	id, err := mqtt.ProviderFromTopic(topic)
	if err != nil {
		return err
	}
	if _, err := s.registry.Resolve(id); err != nil {
		return err
	}

	var req NotifyRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("%w: notify payload: %v", errBadRequest, err)
	}
	level, err := req.level()
	if err != nil {
		return err
	}

	_, err = s.applyNotification(ctx, id, level)
	return err
}
