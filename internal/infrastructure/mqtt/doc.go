// Package mqtt connects the gateway to an optional MQTT broker.
//
// The broker is a side channel next to the websocket hub:
//
//   - every broadcast state is mirrored, retained, to mechabus/state/{id}
//   - devices that cannot reach the HTTP notify endpoint publish to
//     mechabus/notify/{id} instead
//   - mechabus/system/status carries online/offline, with a last-will
//     message for unexpected disconnects
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllNotify(), 1,
//	    func(topic string, payload []byte) error {
//	        id, err := mqtt.ProviderFromTopic(topic)
//	        ...
//	    })
package mqtt
