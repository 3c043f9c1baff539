package remote

import (
	"net/http"

	"github.com/listenupapp/addressbook-sync/internal/quota"
)

// Status is the outcome class of a remote operation.
type Status int

// Remote statuses.
const (
	StatusOK Status = iota + 1
	StatusCreated
	StatusNoContent
	StatusNotModified
	StatusBadRequest
	StatusNotFound
	StatusForbidden
	StatusInternalError
)

var statusCodes = map[Status]int{
	StatusOK:            http.StatusOK,
	StatusCreated:       http.StatusCreated,
	StatusNoContent:     http.StatusNoContent,
	StatusNotModified:   http.StatusNotModified,
	StatusBadRequest:    http.StatusBadRequest,
	StatusNotFound:      http.StatusNotFound,
	StatusForbidden:     http.StatusForbidden,
	StatusInternalError: http.StatusInternalServerError,
}

// Code returns the HTTP status the remote would answer with.
func (s Status) Code() int {
	if code, ok := statusCodes[s]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (s Status) String() string {
	return http.StatusText(s.Code())
}

// Success reports whether the status carries a usable result.
func (s Status) Success() bool {
	switch s {
	case StatusOK, StatusCreated, StatusNoContent, StatusNotModified:
		return true
	default:
		return false
	}
}

// Response is what every remote operation returns. Body holds the JSON
// payload; it is empty for NoContent, NotModified and failures. The page
// links are NoPage outside list responses.
type Response struct {
	Status    Status
	Body      []byte
	Quota     quota.Status
	ETag      string
	FirstPage int
	PrevPage  int
	NextPage  int
	LastPage  int
}

func newResponse(status Status, body []byte, q quota.Status) *Response {
	return &Response{
		Status:    status,
		Body:      body,
		Quota:     q,
		FirstPage: NoPage,
		PrevPage:  NoPage,
		NextPage:  NoPage,
		LastPage:  NoPage,
	}
}

func (r *Response) withPage(p Page) *Response {
	r.FirstPage, r.PrevPage, r.NextPage, r.LastPage = p.First, p.Prev, p.Next, p.Last
	return r
}
