package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"UserManagementServer/internal/domain"
)

// pathUserID returns the {id} path value when it is a well-formed UUID.
// Malformed IDs cannot name a row, so they are reported as not found.
func pathUserID(r *http.Request) (string, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return "", domain.ErrNotFound
	}
	return id.String(), nil
}

// queryInt reads an integer query parameter; missing means def.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
