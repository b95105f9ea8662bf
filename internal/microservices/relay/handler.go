package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HTTP upgrade handler to WebSocket connections

// upgradeHandler upgrades any GET request to a relay connection. All roles
// share the one endpoint; the role arrives later in a register frame.
func (s *Server) upgradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader has already written the HTTP error
			s.logger.Warn("websocket_upgrade_failed",
				"remote_addr", c.ClientIP(),
				"error", err.Error(),
			)
			return
		}
		s.accept(conn)
	}
}

// originChecker allows browsers from the listed origins. Requests without an
// Origin header (rovers, CLI tools) are always allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
