package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lerndmina/Heimdall-sub000/internal/eventbus"
	"github.com/lerndmina/Heimdall-sub000/internal/gateway"
	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/store"
)

type overrideBody struct {
	Values map[string]permissions.Decision `json:"values"`
}

func (s *Server) permissionRoutes(r chi.Router) {
	r.Get("/me", s.handleMe)
	r.Get("/categories", require(permissions.ActionPermissionsView, s.handleCategories))
	r.Get("/overrides", require(permissions.ActionPermissionsView, s.handleListOverrides))
	r.Get("/overrides/{roleID}", require(permissions.ActionPermissionsView, s.handleGetOverride))
	r.Put("/overrides/{roleID}", require(permissions.ActionPermissionsEdit, s.handlePutOverride))
	r.Delete("/overrides/{roleID}", require(permissions.ActionPermissionsEdit, s.handleDeleteOverride))
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	WriteJSON(w, http.StatusOK, map[string]any{
		"userId":      caller.UserID,
		"guildId":     caller.GuildID,
		"permissions": caller.Resolved.Actions,
		"denyAccess":  caller.Resolved.DenyAccess,
	})
}

func (s *Server) categories(ctx context.Context, guildID string) []permissions.Category {
	if s.deps.Registry == nil {
		return nil
	}
	return s.deps.Registry.Categories(ctx, guildID)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	WriteJSON(w, http.StatusOK, s.categories(r.Context(), caller.GuildID))
}

func (s *Server) overrides(w http.ResponseWriter) (OverrideStore, bool) {
	if s.deps.Overrides == nil {
		WriteError(w, http.StatusServiceUnavailable, "override storage not configured")
		return nil, false
	}
	return s.deps.Overrides, true
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	st, ok := s.overrides(w)
	if !ok {
		return
	}
	caller, _ := CallerFrom(r.Context())
	list, err := st.ListRoleOverrides(r.Context(), caller.GuildID)
	if err != nil {
		s.logger.Printf("[HTTP] list overrides for %s: %v", caller.GuildID, err)
		WriteError(w, http.StatusInternalServerError, "failed to list overrides")
		return
	}
	if list == nil {
		list = []permissions.RoleOverride{}
	}
	WriteJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	st, ok := s.overrides(w)
	if !ok {
		return
	}
	caller, _ := CallerFrom(r.Context())
	ov, err := st.GetRoleOverride(r.Context(), caller.GuildID, chi.URLParam(r, "roleID"))
	if err != nil {
		if store.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "override not found")
			return
		}
		s.logger.Printf("[HTTP] get override: %v", err)
		WriteError(w, http.StatusInternalServerError, "failed to load override")
		return
	}
	WriteJSON(w, http.StatusOK, ov)
}

// validKey accepts the deny-access key, a category key, or a full action key.
func validKey(categories []permissions.Category, key string) bool {
	if key == permissions.DenyAccessKey || permissions.Known(categories, key) {
		return true
	}
	for _, cat := range categories {
		if cat.Key == key {
			return true
		}
	}
	return false
}

func (s *Server) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	st, ok := s.overrides(w)
	if !ok {
		return
	}
	caller, _ := CallerFrom(r.Context())
	roleID := chi.URLParam(r, "roleID")

	var body overrideBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	categories := s.categories(r.Context(), caller.GuildID)
	for key, decision := range body.Values {
		if !decision.Valid() {
			WriteError(w, http.StatusBadRequest, "invalid decision for "+key)
			return
		}
		if !validKey(categories, key) {
			WriteError(w, http.StatusBadRequest, "unknown permission key "+key)
			return
		}
	}

	ov := permissions.RoleOverride{GuildID: caller.GuildID, RoleID: roleID, Values: body.Values, UpdatedAt: time.Now().UTC()}
	if err := st.PutRoleOverride(r.Context(), ov); err != nil && !store.IsNotFound(err) {
		s.logger.Printf("[HTTP] put override %s/%s: %v", caller.GuildID, roleID, err)
		WriteError(w, http.StatusInternalServerError, "failed to save override")
		return
	}
	s.overridesChanged(r.Context(), caller.GuildID, roleID)
	WriteJSON(w, http.StatusOK, ov)
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	st, ok := s.overrides(w)
	if !ok {
		return
	}
	caller, _ := CallerFrom(r.Context())
	roleID := chi.URLParam(r, "roleID")
	if err := st.DeleteRoleOverride(r.Context(), caller.GuildID, roleID); err != nil {
		if store.IsNotFound(err) {
			WriteError(w, http.StatusNotFound, "override not found")
			return
		}
		s.logger.Printf("[HTTP] delete override %s/%s: %v", caller.GuildID, roleID, err)
		WriteError(w, http.StatusInternalServerError, "failed to delete override")
		return
	}
	s.overridesChanged(r.Context(), caller.GuildID, roleID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) overridesChanged(ctx context.Context, guildID, roleID string) {
	eventbus.Publish(ctx, s.deps.Bus, eventbus.Permissions.OverridesChanged, eventbus.SourceHTTP,
		eventbus.OverridesChangedEvent{GuildID: guildID, RoleID: roleID})
	if s.deps.Gateway != nil {
		s.deps.Gateway.Broadcast(guildID, gateway.PermissionsUpdatedEvent, map[string]any{"roleId": roleID})
	}
}
