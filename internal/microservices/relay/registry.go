package relay

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrAlreadyRegistered  = errors.New("connection already registered")
	ErrConnectionNotFound = errors.New("connection not in registry")
)

// Registry tracks every open connection and its role.
type Registry struct {
	conns map[string]*Connection // key: connection ID
	mu    sync.RWMutex
	// logger for membership events
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]*Connection),
		logger: logger,
	}
}

// Add inserts a newly accepted connection. Its role starts unset.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	r.logger.Info("client_added",
		"client_id", c.ID,
		"remote_addr", c.RemoteAddr,
	)
}

// Remove deletes a connection. Removing an absent connection is a no-op; the
// return value reports whether it was present.
func (r *Registry) Remove(c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; !ok {
		return false
	}
	delete(r.conns, c.ID)
	r.logger.Info("client_removed",
		"client_id", c.ID,
		"role", c.Role().String(),
	)
	return true
}

// SetRole assigns the connection's role. The first registration wins: later
// calls return ErrAlreadyRegistered and leave the role untouched.
func (r *Registry) SetRole(c *Connection, role Role) error {
	return r.Register(c, role, nil)
}

// Register is SetRole that also queues ack for the connection before the new
// role becomes visible to FindByRole, so the ack is the first frame a freshly
// registered client receives.
func (r *Registry) Register(c *Connection, role Role, ack []byte) error {
	if !role.IsRegistered() {
		return ErrInvalidRole
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.ID]; !ok {
		return ErrConnectionNotFound
	}
	// role only changes under r.mu
	if c.Role() != RoleUnregistered {
		return ErrAlreadyRegistered
	}
	if ack != nil {
		if err := c.Send(ack); err != nil {
			r.logger.Debug("failed_to_send_ack",
				"client_id", c.ID,
				"error", err.Error(),
			)
		}
	}
	c.setRole(role)
	r.logger.Info("client_registered",
		"client_id", c.ID,
		"role", role.String(),
	)
	return nil
}

// FindByRole returns the open connections registered as role.
func (r *Registry) FindByRole(role Role) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*Connection, 0)
	for _, c := range r.conns {
		if c.Role() == role && c.IsOpen() {
			matches = append(matches, c)
		}
	}
	return matches
}

// All returns a snapshot of every tracked connection, registered or not.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Count returns the number of tracked connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountByRole returns how many tracked connections hold each role.
func (r *Registry) CountByRole() map[Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := map[Role]int{
		RoleUnregistered: 0,
		RoleFrontend:     0,
		RoleRover:        0,
		RoleFleetControl: 0,
	}
	for _, c := range r.conns {
		counts[c.Role()]++
	}
	return counts
}

// CloseAll closes every connection and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.conns {
		c.Close()
		r.logger.Info("client_connection_closed",
			"client_id", id,
		)
	}
	r.conns = make(map[string]*Connection)
}
