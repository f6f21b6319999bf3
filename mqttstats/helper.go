// Package mqttstats publishes the control core's per-tick cooling-device
// requests to MQTT, exposing each sensor/cdev pair as a Home Assistant
// sensor entity via MQTT discovery. It implements throttle.ThermalStatsHelper
// so a throttle.Controller can be wired directly to it.
package mqttstats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one outgoing MQTT publish, queued until a client connection
// is available.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
}

type haSensorConfig struct {
	Name                string         `json:"name"`
	StateTopic          string         `json:"state_topic"`
	ValueTemplate       string         `json:"value_template"`
	UniqueId            string         `json:"unique_id"`
	ExpireAfter         uint           `json:"expire_after,omitempty"`
	StateClass          string         `json:"state_class,omitempty"`
	Device              haDeviceConfig `json:"device"`
}

// Helper implements throttle.ThermalStatsHelper by publishing each changed
// sensor/cdev request as a retained MQTT message, auto-discovering a Home
// Assistant sensor entity for the pair the first time it is seen.
type Helper struct {
	mu         sync.Mutex
	outgoing   chan Message
	queue      []Message
	client     mqtt.Client
	discovered map[string]bool
	device     haDeviceConfig
}

// NewHelper builds a Helper for the named device. Run must be called to
// connect to a broker and start publishing; until then, calls to
// UpdateSensorCdevRequestStats buffer in-memory.
func NewHelper(deviceName string) *Helper {
	return &Helper{
		outgoing:   make(chan Message, 256),
		discovered: make(map[string]bool),
		device: haDeviceConfig{
			Identifiers:  []string{strings.ReplaceAll(strings.ToLower(deviceName), " ", "_")},
			Name:         deviceName,
			Manufacturer: "thermalctl",
		},
	}
}

// UpdateSensorCdevRequestStats implements throttle.ThermalStatsHelper. It
// never blocks the caller: a full outgoing buffer drops the update with a
// log line rather than stalling a control tick.
func (h *Helper) UpdateSensorCdevRequestStats(sensor, cdev string, state int) {
	key := sensor + "/" + cdev
	h.mu.Lock()
	firstSeen := !h.discovered[key]
	h.discovered[key] = true
	h.mu.Unlock()

	if firstSeen {
		h.enqueue(discoveryMessage(h.device, sensor, cdev))
	}
	h.enqueue(stateMessage(sensor, cdev, state))
}

func (h *Helper) enqueue(msg Message) {
	select {
	case h.outgoing <- msg:
	default:
		log.Printf("mqttstats: outgoing buffer full, dropping publish to %s", msg.Topic)
	}
}

func stateTopic(sensor, cdev string) string {
	return fmt.Sprintf("thermalctl/%s/%s/state", sensor, cdev)
}

func stateMessage(sensor, cdev string, state int) Message {
	payload, _ := json.Marshal(map[string]int{"state": state})
	return Message{Topic: stateTopic(sensor, cdev), Payload: payload, QoS: 1, Retain: true}
}

func discoveryMessage(device haDeviceConfig, sensor, cdev string) Message {
	uniqueID := fmt.Sprintf("thermalctl_%s_%s", sensor, cdev)
	config := haSensorConfig{
		Name:          fmt.Sprintf("%s %s request", sensor, cdev),
		StateTopic:    stateTopic(sensor, cdev),
		ValueTemplate: "{{ value_json.state }}",
		UniqueId:      uniqueID,
		ExpireAfter:   60 * 30,
		StateClass:    "measurement",
		Device:        device,
	}
	payload, err := json.Marshal(config)
	if err != nil {
		log.Printf("mqttstats: marshaling discovery config for %s/%s: %v", sensor, cdev, err)
		return Message{}
	}
	return Message{
		Topic:   fmt.Sprintf("homeassistant/sensor/%s/config", uniqueID),
		Payload: payload,
		QoS:     2,
		Retain:  true,
	}
}

// Run connects to broker and drives the publish loop until ctx is
// cancelled. It auto-reconnects and replays anything queued while
// disconnected, across separate connect and publish goroutines.
func (h *Helper) Run(ctx context.Context, broker, username, password, clientID string) {
	clientChan := make(chan mqtt.Client, 1)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:1883", broker))
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(mqtt.Client, error) {
		log.Printf("mqttstats: connection to %s lost", broker)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("mqttstats: connected to %s", broker)
		select {
		case clientChan <- client:
		case <-ctx.Done():
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Printf("mqttstats: failed to connect to %s: %v", broker, token.Error())
	}

	h.publishLoop(ctx, clientChan)

	if client.IsConnected() {
		client.Disconnect(250)
	}
}

func (h *Helper) publishLoop(ctx context.Context, clientChan <-chan mqtt.Client) {
	for {
		select {
		case client := <-clientChan:
			h.mu.Lock()
			h.client = client
			queued := h.queue
			h.queue = nil
			h.mu.Unlock()
			for _, msg := range queued {
				publish(client, msg)
			}

		case msg := <-h.outgoing:
			h.mu.Lock()
			client := h.client
			h.mu.Unlock()

			if client != nil && client.IsConnected() {
				publish(client, msg)
			} else {
				h.mu.Lock()
				h.queue = append(h.queue, msg)
				h.mu.Unlock()
			}

		case <-ctx.Done():
			return
		}
	}
}

func publish(client mqtt.Client, msg Message) {
	token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
	token.Wait()
	if token.Error() != nil {
		log.Printf("mqttstats: publish to %s failed: %v", msg.Topic, token.Error())
	}
}
