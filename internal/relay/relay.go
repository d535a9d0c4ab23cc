// Package relay subscribes to trip documents published on an MQTT
// broker and forwards each one to the ingest pipeline.
package relay

import (
	"context"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/roadsense/internal/ingest"
)

// Relay bridges an MQTT broker to an ingest.Pipeline: every message
// received on the trip topic is handed to Pipeline.Ingest.
type Relay struct {
	client mqtt.Client
	topic  string
	qos    byte

	pipeline *ingest.Pipeline
}

// Connect dials broker, registers clientID, and subscribes to topic.
// Incoming messages are normalized and persisted via pipeline; a
// message that fails ingestion is logged and dropped, since MQTT
// delivery at QoS 0 has no reply channel back to the publisher.
func Connect(broker, clientID, topic string, pipeline *ingest.Pipeline) (*Relay, error) {
	r := &Relay{topic: topic, qos: 0, pipeline: pipeline}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	r.client = mqtt.NewClient(opts)
	if token := r.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("relay: connected to MQTT broker at %s", broker)

	token := r.client.Subscribe(topic, r.qos, r.handle)
	token.Wait()
	if token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("relay: subscribed to MQTT topic %s", topic)

	return r, nil
}

func (r *Relay) handle(_ mqtt.Client, msg mqtt.Message) {
	result, err := r.pipeline.Ingest(context.Background(), msg.Payload())
	if err != nil {
		log.Printf("relay: ingest failed for message on %s: %v", r.topic, err)
		return
	}
	log.Printf("relay: ingested trip %s (%d detections)", result.TripID, result.DetectionCount)
}

// Close disconnects from the broker.
func (r *Relay) Close() {
	r.client.Disconnect(250)
}
