package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/listenupapp/addressbook-sync/internal/http/response"
)

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Uptime     string                     `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	components := map[string]ComponentHealth{
		"sse":      {Status: "healthy"},
		"commands": {Status: "healthy"},
	}
	overall := "healthy"

	st, err := s.persons.Quota(r.Context())
	switch {
	case err != nil:
		components["remote"] = ComponentHealth{Status: "unhealthy", Message: err.Error()}
		overall = "unhealthy"
	case st.Remaining == 0:
		components["remote"] = ComponentHealth{Status: "degraded", Message: "request quota exhausted until " + st.ResetAt.Format(time.RFC3339)}
		overall = "degraded"
	default:
		components["remote"] = ComponentHealth{Status: "healthy"}
	}

	if n := s.sseManager.ClientCount(); n > 0 {
		components["sse"] = ComponentHealth{Status: "healthy", Message: plural(n, "client")}
	}
	if n := s.commands.Registry().Len(); n > 0 {
		components["commands"] = ComponentHealth{Status: "healthy", Message: plural(n, "change") + " in flight"}
	}

	response.Success(w, HealthResponse{
		Status:     overall,
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Components: components,
	}, s.logger)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
