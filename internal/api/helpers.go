package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	domainerrors "github.com/listenupapp/addressbook-sync/internal/errors"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// personID parses the {id} route parameter.
func personID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, domainerrors.Validationf("invalid person id %q", raw)
	}
	return id, nil
}

// decodeJSON reads the request body into v. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid request body")
	}
	return nil
}
