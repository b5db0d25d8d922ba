package testidp

import (
	"encoding/json"
	"maps"
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.bearerSubject(r); !ok {
			managementError(w, http.StatusUnauthorized, "Unauthorized", "Invalid token", "invalid_token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[mux.Vars(r)["id"]]
	if !ok {
		managementError(w, http.StatusNotFound, "Not Found", "The user does not exist.", "inexistent_user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handlePatchUser(w http.ResponseWriter, r *http.Request) {
	var patch struct {
		Email        *string        `json:"email"`
		Name         *string        `json:"name"`
		Nickname     *string        `json:"nickname"`
		Picture      *string        `json:"picture"`
		Blocked      *bool          `json:"blocked"`
		Password     *string        `json:"password"`
		UserMetadata map[string]any `json:"user_metadata"`
		AppMetadata  map[string]any `json:"app_metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		managementError(w, http.StatusBadRequest, "Bad Request", "Invalid request payload JSON format", "invalid_body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[mux.Vars(r)["id"]]
	if !ok {
		managementError(w, http.StatusNotFound, "Not Found", "The user does not exist.", "inexistent_user")
		return
	}

	setIf(&u.Email, patch.Email)
	setIf(&u.Name, patch.Name)
	setIf(&u.Nickname, patch.Nickname)
	setIf(&u.Picture, patch.Picture)
	setIf(&u.Password, patch.Password)
	if patch.Blocked != nil {
		u.Blocked = *patch.Blocked
	}
	u.UserMetadata = mergeMetadata(u.UserMetadata, patch.UserMetadata)
	u.AppMetadata = mergeMetadata(u.AppMetadata, patch.AppMetadata)
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleLinkIdentity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider     string `json:"provider"`
		UserID       string `json:"user_id"`
		ConnectionID string `json:"connection_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" || req.UserID == "" {
		managementError(w, http.StatusBadRequest, "Bad Request", "Payload validation error: provider and user_id are required", "invalid_body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[mux.Vars(r)["id"]]
	if !ok {
		managementError(w, http.StatusNotFound, "Not Found", "The user does not exist.", "inexistent_user")
		return
	}
	secondaryID := req.Provider + "|" + req.UserID
	secondary, ok := s.users[secondaryID]
	if !ok {
		managementError(w, http.StatusNotFound, "Not Found", "The secondary user does not exist.", "inexistent_user")
		return
	}

	for _, id := range secondary.Identities {
		id.Connection = req.ConnectionID
		u.Identities = append(u.Identities, id)
	}
	delete(s.users, secondaryID)
	writeJSON(w, http.StatusCreated, u.Identities)
}

func (s *Server) handleUnlinkIdentity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[vars["id"]]
	if !ok {
		managementError(w, http.StatusNotFound, "Not Found", "The user does not exist.", "inexistent_user")
		return
	}

	kept := u.Identities[:0]
	var removed *Identity
	for _, id := range u.Identities {
		if id.Provider == vars["provider"] && id.UserID == vars["userID"] {
			removed = &id
			continue
		}
		kept = append(kept, id)
	}
	if removed == nil {
		managementError(w, http.StatusBadRequest, "Bad Request", "The identity is not linked to the user.", "operation_not_supported")
		return
	}
	u.Identities = kept

	// unlinked identities become standalone users again
	unlinked := &User{ID: removed.Provider + "|" + removed.UserID, Identities: []Identity{*removed}}
	s.users[unlinked.ID] = unlinked
	writeJSON(w, http.StatusOK, u.Identities)
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// mergeMetadata applies a shallow merge where null values delete keys
func mergeMetadata(current, patch map[string]any) map[string]any {
	if patch == nil {
		return current
	}
	out := maps.Clone(current)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

func managementError(w http.ResponseWriter, status int, errText, message, code string) {
	writeJSON(w, status, map[string]any{
		"statusCode": status,
		"error":      errText,
		"message":    message,
		"errorCode":  code,
	})
}
