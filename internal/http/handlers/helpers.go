package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/patient-comms-platform/internal/identity"
)

// Actor headers set by the upstream identity layer.
const (
	headerActorID    = "X-Actor-Id"
	headerActorEmail = "X-Actor-Email"
	headerActorRole  = "X-Actor-Role"
)

// actorFrom resolves the caller from trusted gateway headers. Writes a 401
// and returns false when identity is missing or malformed.
func actorFrom(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get(headerActorID))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing or invalid actor identity")
		return identity.Actor{}, false
	}
	role := identity.Role(r.Header.Get(headerActorRole))
	if !role.Valid() {
		writeError(w, http.StatusUnauthorized, "missing or invalid actor role")
		return identity.Actor{}, false
	}
	return identity.Actor{
		ID:    id,
		Email: r.Header.Get(headerActorEmail),
		Role:  role,
	}, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
