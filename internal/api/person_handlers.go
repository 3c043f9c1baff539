package api

import (
	"net/http"

	"github.com/listenupapp/addressbook-sync/internal/command"
	"github.com/listenupapp/addressbook-sync/internal/domain"
	"github.com/listenupapp/addressbook-sync/internal/http/response"
	"github.com/listenupapp/addressbook-sync/internal/model"
)

// PersonResponse is a local person with its pending change marker.
type PersonResponse struct {
	domain.Person
	Pending     model.Change `json:"pending,omitempty"`
	SecondsLeft int          `json:"seconds_left,omitempty"`
}

// CommandResponse describes a change command.
type CommandResponse struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	PersonID    int            `json:"person_id"`
	State       string         `json:"state"`
	SecondsLeft int            `json:"seconds_left"`
	Before      *domain.Person `json:"before,omitempty"`
	After       *domain.Person `json:"after,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func toPersonResponse(e model.Entry) PersonResponse {
	return PersonResponse{Person: e.Person, Pending: e.Pending, SecondsLeft: e.SecondsLeft}
}

func toCommandResponse(c *command.Command) CommandResponse {
	resp := CommandResponse{
		ID:          c.ID,
		Kind:        c.Kind.String(),
		PersonID:    c.PersonID,
		State:       c.State().String(),
		SecondsLeft: c.SecondsLeft(),
	}
	if before := c.Before(); before.ID != 0 {
		resp.Before = &before
	}
	if after := c.After(); after.ID != 0 {
		resp.After = &after
	}
	if err := c.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (s *Server) handleListPersons(w http.ResponseWriter, _ *http.Request) {
	entries := s.persons.List()
	persons := make([]PersonResponse, 0, len(entries))
	for _, e := range entries {
		persons = append(persons, toPersonResponse(e))
	}
	response.Success(w, persons, s.logger)
}

func (s *Server) handleGetPerson(w http.ResponseWriter, r *http.Request) {
	id, err := personID(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	entry, err := s.persons.Get(id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Success(w, toPersonResponse(*entry), s.logger)
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	var p domain.Person
	if err := decodeJSON(w, r, &p); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	created, err := s.persons.Create(r.Context(), p)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Created(w, created, s.logger)
}

// handleEditPerson starts an edit, or supersedes the change still in its
// grace period.
func (s *Server) handleEditPerson(w http.ResponseWriter, r *http.Request) {
	id, err := personID(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	var input domain.Person
	if err := decodeJSON(w, r, &input); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	if err := s.persons.Validate(input); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}

	cmd, err := s.commands.Edit(id, input)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Accepted(w, toCommandResponse(cmd), s.logger)
}

func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	id, err := personID(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	cmd, err := s.commands.Delete(id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Accepted(w, toCommandResponse(cmd), s.logger)
}

func (s *Server) handleGetCommand(w http.ResponseWriter, r *http.Request) {
	id, err := personID(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	cmd, ok := s.commands.Latest(id)
	if !ok {
		response.NotFound(w, "No change recorded for this person", s.logger)
		return
	}
	response.Success(w, toCommandResponse(cmd), s.logger)
}

func (s *Server) handleCancelCommand(w http.ResponseWriter, r *http.Request) {
	id, err := personID(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	if err := s.commands.Cancel(id); err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	cmd, _ := s.commands.Latest(id)
	response.Success(w, toCommandResponse(cmd), s.logger)
}

func (s *Server) handleRetryCommand(w http.ResponseWriter, r *http.Request) {
	id, err := personID(r)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	cmd, err := s.commands.Retry(id)
	if err != nil {
		response.HandleError(w, err, s.logger)
		return
	}
	response.Accepted(w, toCommandResponse(cmd), s.logger)
}
