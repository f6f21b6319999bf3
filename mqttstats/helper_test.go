package mqttstats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelper_FirstUpdateEnqueuesDiscoveryThenState(t *testing.T) {
	h := NewHelper("Test Device")
	h.UpdateSensorCdevRequestStats("cpu0", "fan0", 3)

	discovery := <-h.outgoing
	assert.Contains(t, discovery.Topic, "homeassistant/sensor/")
	assert.True(t, discovery.Retain)

	state := <-h.outgoing
	assert.Equal(t, stateTopic("cpu0", "fan0"), state.Topic)
	var payload map[string]int
	require.NoError(t, json.Unmarshal(state.Payload, &payload))
	assert.Equal(t, 3, payload["state"])
}

func TestHelper_SubsequentUpdatesSkipDiscovery(t *testing.T) {
	h := NewHelper("Test Device")
	h.UpdateSensorCdevRequestStats("cpu0", "fan0", 1)
	<-h.outgoing // discovery
	<-h.outgoing // state

	h.UpdateSensorCdevRequestStats("cpu0", "fan0", 2)
	msg := <-h.outgoing
	assert.Equal(t, stateTopic("cpu0", "fan0"), msg.Topic, "second update must not re-send discovery")

	select {
	case extra := <-h.outgoing:
		t.Fatalf("unexpected extra message: %+v", extra)
	default:
	}
}

func TestHelper_DistinctCdevsEachGetOwnDiscovery(t *testing.T) {
	h := NewHelper("Test Device")
	h.UpdateSensorCdevRequestStats("cpu0", "fan0", 1)
	h.UpdateSensorCdevRequestStats("cpu0", "fan1", 1)

	topics := map[string]bool{}
	for range 4 {
		msg := <-h.outgoing
		topics[msg.Topic] = true
	}
	assert.Len(t, topics, 4)
}

func TestHelper_FullBufferDropsRatherThanBlocks(t *testing.T) {
	h := NewHelper("Test Device")
	h.outgoing = make(chan Message, 1)

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			h.UpdateSensorCdevRequestStats("cpu0", "fan0", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("UpdateSensorCdevRequestStats blocked on a full buffer")
	}
}

func TestStateMessage_EncodesIntegerState(t *testing.T) {
	msg := stateMessage("cpu0", "fan0", 5)
	var payload map[string]int
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, 5, payload["state"])
	assert.True(t, msg.Retain)
}

func TestDiscoveryMessage_UsesDeviceIdentity(t *testing.T) {
	device := haDeviceConfig{Identifiers: []string{"thermalctl"}, Name: "Test Device"}
	msg := discoveryMessage(device, "cpu0", "fan0")

	var config haSensorConfig
	require.NoError(t, json.Unmarshal(msg.Payload, &config))
	assert.Equal(t, "thermalctl", config.Device.Identifiers[0])
	assert.Equal(t, stateTopic("cpu0", "fan0"), config.StateTopic)
}
