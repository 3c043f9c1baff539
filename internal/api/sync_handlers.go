package api

import (
	"net/http"

	"github.com/listenupapp/addressbook-sync/internal/http/response"
)

func (s *Server) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	st, err := s.persons.Quota(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, st, s.logger)
}

// handleTriggerSync runs a pull now. A pull already in progress is joined.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.sync.Sync(r.Context())
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, result, s.logger)
}
