package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the gateway's MQTT namespace.
const (
	// TopicPrefix is the root of every gateway topic.
	TopicPrefix = "mechabus"

	// TopicPrefixSystem carries gateway liveness (online, offline, LWT).
	TopicPrefixSystem = "mechabus/system"
)

// Topics provides builders for gateway MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.State("pump")  // "mechabus/state/pump"
//	topics.Notify("pump") // "mechabus/notify/pump"
type Topics struct{}

// State returns the retained topic mirroring one provider's last known state.
func (Topics) State(providerID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, providerID)
}

// Notify returns the topic a device publishes to when its state changes locally.
func (Topics) Notify(providerID string) string {
	return fmt.Sprintf("%s/notify/%s", TopicPrefix, providerID)
}

// SystemStatus returns the topic for gateway online/offline status.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllStates matches every mirrored provider state.
func (Topics) AllStates() string {
	return TopicPrefix + "/state/+"
}

// AllNotify matches every device notification.
func (Topics) AllNotify() string {
	return TopicPrefix + "/notify/+"
}

// ProviderFromTopic extracts the provider id from a state or notify topic.
func ProviderFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[2] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	switch parts[1] {
	case "state", "notify":
		return parts[2], nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
}
