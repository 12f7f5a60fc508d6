package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lerndmina/Heimdall-sub000/internal/permissions"
	"github.com/lerndmina/Heimdall-sub000/internal/platform"
)

// Caller is the authenticated member behind a guild-scoped request.
type Caller struct {
	UserID   string
	Username string
	GuildID  string
	Member   permissions.Member
	Resolved permissions.Resolved
}

type callerKey struct{}

// CallerFrom returns the caller attached by the guild middleware.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// WithCaller attaches c to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

type identityKey struct{}

func extractAuthToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return ""
}

// authenticate resolves the bearer token to an identity.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractAuthToken(r)
		if token == "" || s.deps.Identity == nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := s.deps.Identity.ResolveIdentity(r.Context(), token)
		if err != nil || id.UserID == "" {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

// guildMember resolves the caller's permissions in the {guildID} of the URL.
// Members denied access are rejected before any route runs.
func (s *Server) guildMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := r.Context().Value(identityKey{}).(platform.Identity)
		guildID := chi.URLParam(r, "guildID")
		if guildID == "" {
			WriteError(w, http.StatusBadRequest, "guild id is required")
			return
		}
		if s.deps.Members == nil || s.deps.Permissions == nil {
			WriteError(w, http.StatusServiceUnavailable, "permission resolution not configured")
			return
		}

		member, err := s.deps.Members.FetchMember(r.Context(), guildID, id.UserID)
		if err != nil {
			if errors.Is(err, platform.ErrNotMember) {
				WriteError(w, http.StatusForbidden, "not a member of this guild")
				return
			}
			s.logger.Printf("[HTTP] fetch member %s in %s: %v", id.UserID, guildID, err)
			WriteError(w, http.StatusBadGateway, "unable to fetch member")
			return
		}
		resolved, err := s.deps.Permissions.ResolveMember(r.Context(), member)
		if err != nil {
			s.logger.Printf("[HTTP] resolve %s in %s: %v", id.UserID, guildID, err)
			WriteError(w, http.StatusInternalServerError, "unable to resolve permissions")
			return
		}
		if resolved.DenyAccess {
			WriteError(w, http.StatusForbidden, "access to this guild is denied")
			return
		}

		caller := Caller{UserID: id.UserID, Username: id.Username, GuildID: guildID, Member: member, Resolved: resolved}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// require rejects callers that do not hold action.
func require(action string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFrom(r.Context())
		if !ok || !caller.Resolved.Has(action) {
			WriteError(w, http.StatusForbidden, "missing permission "+action)
			return
		}
		next(w, r)
	}
}
