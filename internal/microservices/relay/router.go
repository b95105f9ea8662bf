package relay

import (
	"errors"
	"log/slog"
)

// Recorder receives a copy of every routed frame. Implementations must not
// block the caller.
type Recorder interface {
	Record(source string, payload []byte)
}

// Delivery describes what Route did with one inbound frame.
type Delivery struct {
	Target     Role // destination role, RoleUnregistered when not relayed
	Recipients int  // destinations the frame was queued for
	Dropped    int  // destinations that were closed or backed up
	Recorded   bool // frame was handed to the recorder
}

// Router decides fan-out for each inbound frame based on sender role and
// message type.
type Router struct {
	registry *Registry
	recorder Recorder
	metrics  *Metrics
	logger   *slog.Logger
}

// NewRouter builds a router over registry. recorder may be nil.
func NewRouter(registry *Registry, recorder Recorder, metrics *Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
	}
}

// destinationFor is the routing table. The bool is false when the frame is
// not relayed.
func destinationFor(sender Role, msgType string) (Role, bool) {
	switch sender {
	case RoleFrontend:
		return RoleRover, true
	case RoleRover:
		if msgType == TypeBattery {
			return RoleFleetControl, true
		}
		return RoleFrontend, true
	case RoleFleetControl:
		return RoleUnregistered, false
	case RoleUnregistered:
		return RoleUnregistered, false
	}
	return RoleUnregistered, false
}

// Route handles one parsed frame from c. raw is forwarded byte-for-byte.
func (r *Router) Route(c *Connection, msg *Message, raw []byte) Delivery {
	sender := c.Role()
	r.metrics.frameReceived(sender)

	if sender == RoleUnregistered && msg.Type == TypeRegister {
		return r.register(c, msg, raw)
	}

	r.record(sender, raw)

	if sender == RoleUnregistered {
		r.metrics.protocolError("not_registered")
		r.reply(c, ErrorFrame(ErrMsgNotRegistered))
		return Delivery{Recorded: r.recorder != nil}
	}

	target, ok := destinationFor(sender, msg.Type)
	if !ok {
		r.logger.Debug("message_not_relayed",
			"client_id", c.ID,
			"role", sender.String(),
			"message_type", msg.Type,
		)
		return Delivery{Recorded: r.recorder != nil}
	}

	d := r.Broadcast(target, raw)
	d.Recorded = r.recorder != nil
	r.metrics.delivered(sender, target, d.Recipients, d.Dropped)
	r.logger.Debug("message_relayed",
		"client_id", c.ID,
		"from", sender.String(),
		"to", target.String(),
		"message_type", msg.Type,
		"recipients", d.Recipients,
	)
	return d
}

// Broadcast queues data for every open connection registered as target.
func (r *Router) Broadcast(target Role, data []byte) Delivery {
	d := Delivery{Target: target}
	for _, dest := range r.registry.FindByRole(target) {
		if err := dest.Send(data); err != nil {
			d.Dropped++
			r.logger.Debug("failed_to_send_relay",
				"client_id", dest.ID,
				"role", target.String(),
				"error", err.Error(),
			)
			continue
		}
		d.Recipients++
	}
	return d
}

// ConnectionClosed runs once per connection after its transport is gone.
// Closing frontends are announced to every rover.
func (r *Router) ConnectionClosed(c *Connection) {
	if c.Role() != RoleFrontend {
		return
	}
	d := r.Broadcast(RoleRover, frontendClosedNotice)
	r.logger.Info("notified_rovers_frontend_closed",
		"client_id", c.ID,
		"recipients", d.Recipients,
	)
}

func (r *Router) register(c *Connection, msg *Message, raw []byte) Delivery {
	role, err := ParseRole(msg.Role)
	if err != nil {
		r.record(RoleUnregistered, raw)
		r.metrics.protocolError("invalid_role")
		r.reply(c, ErrorFrame(ErrMsgInvalidRole))
		return Delivery{Recorded: r.recorder != nil}
	}

	if err := r.registry.Register(c, role, RegisteredAck(role)); err != nil {
		// first registration wins; nothing to tell the client
		if !errors.Is(err, ErrAlreadyRegistered) {
			r.logger.Warn("registration_failed",
				"client_id", c.ID,
				"error", err.Error(),
			)
		}
		return Delivery{}
	}
	r.metrics.registered(role)

	if role != RoleFrontend {
		return Delivery{}
	}
	d := r.Broadcast(RoleRover, frontendRegisteredNotice)
	r.logger.Info("notified_rovers_frontend_registered",
		"client_id", c.ID,
		"recipients", d.Recipients,
	)
	return d
}

func (r *Router) record(sender Role, raw []byte) {
	if r.recorder == nil {
		return
	}
	r.recorder.Record(sender.Source(), raw)
}

func (r *Router) reply(c *Connection, frame []byte) {
	if err := c.Send(frame); err != nil {
		r.logger.Debug("failed_to_send_reply",
			"client_id", c.ID,
			"error", err.Error(),
		)
	}
}
