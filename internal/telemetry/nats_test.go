package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "relay.telemetry.rover", subjectFor("relay.telemetry", "rover"))
	assert.Equal(t, "fleet.fleet_control", subjectFor("fleet", "fleet_control"))
	assert.Equal(t, "relay.telemetry.unknown", subjectFor("relay.telemetry", ""))
}

func TestNewNATSSink_Unreachable(t *testing.T) {
	_, err := NewNATSSink(NATSConfig{URL: "nats://127.0.0.1:1"}, discardLogger())
	assert.Error(t, err)
}
