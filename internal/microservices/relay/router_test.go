package relay

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (*Router, *Registry, *spyRecorder) {
	t.Helper()
	reg := NewRegistry(discardLogger())
	rec := &spyRecorder{}
	return NewRouter(reg, rec, nil, discardLogger()), reg, rec
}

func route(t *testing.T, r *Router, c *Connection, raw string) Delivery {
	t.Helper()
	msg, err := ParseMessage([]byte(raw))
	require.NoError(t, err)
	return r.Route(c, msg, []byte(raw))
}

func TestDestinationFor(t *testing.T) {
	tests := []struct {
		name    string
		sender  Role
		msgType string
		want    Role
		relayed bool
	}{
		{"frontend command", RoleFrontend, "", RoleRover, true},
		{"frontend battery goes to rovers too", RoleFrontend, TypeBattery, RoleRover, true},
		{"rover battery", RoleRover, TypeBattery, RoleFleetControl, true},
		{"rover status", RoleRover, "status", RoleFrontend, true},
		{"rover untyped", RoleRover, "", RoleFrontend, true},
		{"fleet control is receive-only", RoleFleetControl, "anything", RoleUnregistered, false},
		{"unregistered", RoleUnregistered, "status", RoleUnregistered, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := destinationFor(tt.sender, tt.msgType)
			assert.Equal(t, tt.relayed, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouter_FrontendToRovers(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	rover1 := addRegistered(t, reg, RoleRover)
	rover2 := addRegistered(t, reg, RoleRover)
	fleet := addRegistered(t, reg, RoleFleetControl)

	raw := `{"rover_id":"r1", "command":"forward","distance":2}`
	d := route(t, r, frontend, raw)

	assert.Equal(t, RoleRover, d.Target)
	assert.Equal(t, 2, d.Recipients)
	assert.True(t, d.Recorded)
	assert.Equal(t, [][]byte{[]byte(raw)}, queued(rover1), "frame is forwarded byte-for-byte")
	assert.Equal(t, [][]byte{[]byte(raw)}, queued(rover2))
	assert.Empty(t, queued(frontend))
	assert.Empty(t, queued(fleet))

	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "frontend", records[0].source)
	assert.Equal(t, raw, string(records[0].payload))
}

func TestRouter_RoverBatteryToFleetControl(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	rover := addRegistered(t, reg, RoleRover)
	fleet := addRegistered(t, reg, RoleFleetControl)

	raw := `{"type":"battery","level":81}`
	d := route(t, r, rover, raw)

	assert.Equal(t, RoleFleetControl, d.Target)
	assert.Equal(t, 1, d.Recipients)
	assert.Equal(t, [][]byte{[]byte(raw)}, queued(fleet))
	assert.Empty(t, queued(frontend))
	assert.Equal(t, "rover", rec.all()[0].source)
}

func TestRouter_RoverOtherToFrontends(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	rover := addRegistered(t, reg, RoleRover)
	fleet := addRegistered(t, reg, RoleFleetControl)

	raw := `{"type":"position","x":1.5,"y":-3}`
	d := route(t, r, rover, raw)

	assert.Equal(t, RoleFrontend, d.Target)
	assert.Equal(t, [][]byte{[]byte(raw)}, queued(frontend))
	assert.Empty(t, queued(fleet))
	assert.Empty(t, queued(rover))
}

func TestRouter_FleetControlIsRecordedNotRelayed(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	rover := addRegistered(t, reg, RoleRover)
	fleet := addRegistered(t, reg, RoleFleetControl)

	d := route(t, r, fleet, `{"type":"ping"}`)

	assert.Equal(t, 0, d.Recipients)
	assert.True(t, d.Recorded)
	assert.Empty(t, queued(frontend))
	assert.Empty(t, queued(rover))
	assert.Empty(t, queued(fleet))
	assert.Equal(t, "fleet_control", rec.all()[0].source)
}

func TestRouter_NoRecipients(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)

	d := route(t, r, frontend, `{"command":"stop"}`)

	assert.Equal(t, 0, d.Recipients)
	assert.Len(t, rec.all(), 1, "frames are recorded even when nobody receives them")
}

func TestRouter_UnregisteredSender(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	c, _ := addConn(t, reg, ConnectionOptions{})
	rover := addRegistered(t, reg, RoleRover)

	raw := `{"type":"status","ok":true}`
	route(t, r, c, raw)

	assert.Equal(t, [][]byte{ErrorFrame(ErrMsgNotRegistered)}, queued(c))
	assert.Empty(t, queued(rover))
	records := rec.all()
	require.Len(t, records, 1)
	assert.Equal(t, "unknown", records[0].source)
	assert.Equal(t, raw, string(records[0].payload))
}

func TestRouter_Register(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	rover := addRegistered(t, reg, RoleRover)
	c, _ := addConn(t, reg, ConnectionOptions{})

	d := route(t, r, c, `{"type":"register","role":"frontend"}`)

	assert.Equal(t, RoleFrontend, c.Role())
	assert.Equal(t, [][]byte{RegisteredAck(RoleFrontend)}, queued(c))
	assert.Equal(t, [][]byte{frontendRegisteredNotice}, queued(rover))
	assert.Equal(t, 1, d.Recipients)
	assert.Empty(t, rec.all(), "registration frames are not recorded")
}

func TestRouter_RegisterRoverDoesNotNotify(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	other := addRegistered(t, reg, RoleRover)
	c, _ := addConn(t, reg, ConnectionOptions{})

	route(t, r, c, `{"type":"register","role":"rover"}`)

	assert.Equal(t, RoleRover, c.Role())
	assert.Equal(t, [][]byte{RegisteredAck(RoleRover)}, queued(c))
	assert.Empty(t, queued(other))
}

func TestRouter_RegisterInvalidRole(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	c, _ := addConn(t, reg, ConnectionOptions{})

	frames := []string{
		`{"type":"register","role":"admin"}`,
		`{"type":"register"}`,
		`{"type":"register","role":"unregistered"}`,
	}
	for _, raw := range frames {
		d := route(t, r, c, raw)
		assert.True(t, d.Recorded, raw)
		assert.Equal(t, [][]byte{ErrorFrame(ErrMsgInvalidRole)}, queued(c), raw)
	}
	assert.Equal(t, RoleUnregistered, c.Role())

	// rejected registrations are recorded like any other unregistered frame
	records := rec.all()
	require.Len(t, records, len(frames))
	for i, rcd := range records {
		assert.Equal(t, "unknown", rcd.source)
		assert.Equal(t, frames[i], string(rcd.payload))
	}
}

func TestRouter_RegisterAgainIsRoutedAsMessage(t *testing.T) {
	r, reg, rec := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	rover := addRegistered(t, reg, RoleRover)

	raw := `{"type":"register","role":"rover"}`
	d := route(t, r, frontend, raw)

	assert.Equal(t, RoleFrontend, frontend.Role(), "first registration wins")
	assert.Equal(t, 1, d.Recipients)
	assert.Equal(t, [][]byte{[]byte(raw)}, queued(rover))
	assert.Empty(t, queued(frontend))
	assert.Len(t, rec.all(), 1)
}

func TestRouter_ConnectionClosed(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	rover := addRegistered(t, reg, RoleRover)
	fleet := addRegistered(t, reg, RoleFleetControl)

	r.ConnectionClosed(fleet)
	assert.Empty(t, queued(rover))

	r.ConnectionClosed(rover)
	assert.Empty(t, queued(frontend))

	r.ConnectionClosed(frontend)
	assert.Equal(t, [][]byte{frontendClosedNotice}, queued(rover))
}

func TestRouter_SlowRecipientIsDropped(t *testing.T) {
	r, reg, _ := newTestRouter(t)
	frontend := addRegistered(t, reg, RoleFrontend)
	fast := addRegistered(t, reg, RoleRover)
	slow, _ := addConn(t, reg, ConnectionOptions{SendBufferSize: 1})
	require.NoError(t, reg.SetRole(slow, RoleRover))

	route(t, r, frontend, `{"n":1}`)
	d := route(t, r, frontend, `{"n":2}`)

	assert.Equal(t, 1, d.Recipients)
	assert.Equal(t, 1, d.Dropped)
	assert.Len(t, queued(fast), 2)
	assert.Equal(t, [][]byte{[]byte(`{"n":1}`)}, queued(slow))
}

func TestRouter_Metrics(t *testing.T) {
	reg := NewRegistry(discardLogger())
	m := NewMetrics(prometheus.NewRegistry())
	r := NewRouter(reg, nil, m, discardLogger())

	frontend := addRegistered(t, reg, RoleFrontend)
	addRegistered(t, reg, RoleRover)
	addRegistered(t, reg, RoleRover)
	c, _ := addConn(t, reg, ConnectionOptions{})

	d := route(t, r, frontend, `{"command":"left"}`)
	assert.False(t, d.Recorded, "no recorder configured")
	route(t, r, c, `{"type":"register","role":"moon"}`)
	route(t, r, c, `{"type":"register","role":"fleet_control"}`)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesRelayed.WithLabelValues("frontend", "rover")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("frontend")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("unregistered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProtocolErrors.WithLabelValues("invalid_role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Registrations.WithLabelValues("fleet_control")))
}
