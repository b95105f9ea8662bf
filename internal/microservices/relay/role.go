package relay

import (
	"errors"
	"fmt"
)

// Role is the participant kind a connection declares when it registers.
type Role uint8

const (
	RoleUnregistered Role = iota // default until a register frame is accepted
	RoleFrontend                 // browser dashboard
	RoleRover                    // physical rover client
	RoleFleetControl             // fleet-control console, receive-only
)

// telemetry source tag for connections that have not registered yet
const unknownSource = "unknown"

var ErrInvalidRole = errors.New("invalid role")

// Roles lists every role a client may register as.
var Roles = []Role{RoleFrontend, RoleRover, RoleFleetControl}

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleUnregistered:
		return "unregistered"
	case RoleFrontend:
		return "frontend"
	case RoleRover:
		return "rover"
	case RoleFleetControl:
		return "fleet_control"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// IsRegistered reports whether r is one of the registrable roles.
func (r Role) IsRegistered() bool {
	switch r {
	case RoleFrontend, RoleRover, RoleFleetControl:
		return true
	default:
		return false
	}
}

// Source is the tag recorded with telemetry for messages sent by this role.
func (r Role) Source() string {
	if !r.IsRegistered() {
		return unknownSource
	}
	return r.String()
}

// ParseRole maps a wire role name to a Role. Only registrable roles parse.
func ParseRole(s string) (Role, error) {
	switch s {
	case "frontend":
		return RoleFrontend, nil
	case "rover":
		return RoleRover, nil
	case "fleet_control":
		return RoleFleetControl, nil
	default:
		return RoleUnregistered, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}
